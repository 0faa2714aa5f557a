package router

import (
	"sync/atomic"

	"github.com/musink/musink/pkg/envelope"
	"github.com/musink/musink/server/internal/registry"
)

// Role is the classification of a connection. It moves from Unclassified to
// Client or Worker exactly once, and to Closed when the connection ends.
type Role int32

const (
	Unclassified Role = iota
	Client
	Worker
	Closed
)

func (r Role) String() string {
	switch r {
	case Unclassified:
		return "unclassified"
	case Client:
		return "client"
	case Worker:
		return "worker"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Conn is the router's per-connection state. The transport creates one per
// peer and passes it to every Router call for that peer.
type Conn struct {
	ID     envelope.ConnID
	sender registry.Sender
	role   atomic.Int32
}

// NewConn wraps a transport sender for connection id.
func NewConn(id envelope.ConnID, s registry.Sender) *Conn {
	return &Conn{ID: id, sender: s}
}

// Send delivers data to the peer without blocking.
func (c *Conn) Send(data []byte) error {
	return c.sender.Send(data)
}

// Role returns the current classification.
func (c *Conn) Role() Role {
	return Role(c.role.Load())
}

// classify promotes an unclassified connection to r. It reports false if the
// connection already has a role.
func (c *Conn) classify(r Role) bool {
	return c.role.CompareAndSwap(int32(Unclassified), int32(r))
}

// close marks the connection Closed and returns its previous role.
func (c *Conn) close() Role {
	return Role(c.role.Swap(int32(Closed)))
}
