package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/musink/musink/pkg/envelope"
)

const shardCount = 16

var (
	// ErrNotFound is returned for an id with no client record.
	ErrNotFound = errors.New("registry: connection not found")

	// ErrExists is returned by Register when the id already has a record.
	ErrExists = errors.New("registry: connection already registered")
)

// Sender delivers an encoded message to one peer. Implementations must not block.
type Sender interface {
	Send(data []byte) error
}

// Client is the hub's record of one registered client connection.
type Client struct {
	ID           envelope.ConnID
	GroupID      envelope.GroupID
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Sender       Sender
}

// Registry is a sharded, concurrency-safe map of connection id to Client.
type Registry struct {
	shards [shardCount]shard
}

type shard struct {
	mu      sync.RWMutex
	clients map[envelope.ConnID]*Client
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].clients = make(map[envelope.ConnID]*Client)
	}
	return r
}

func (r *Registry) shardFor(id envelope.ConnID) *shard {
	return &r.shards[uint32(id)%shardCount]
}

// Register stores c under c.ID.
func (r *Registry) Register(c Client) error {
	s := r.shardFor(c.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; ok {
		return ErrExists
	}
	s.clients[c.ID] = &c
	return nil
}

// Get returns a copy of the record for id and whether it was found.
func (r *Registry) Get(id envelope.ConnID) (Client, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// Update applies fn to the stored record for id atomically. fn must not call
// back into the Registry. The record's ID cannot be changed.
func (r *Registry) Update(id envelope.ConnID, fn func(*Client)) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.ID = id
	return nil
}

// Remove deletes the record for id and returns it.
func (r *Registry) Remove(id envelope.ConnID) (Client, error) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, ErrNotFound
	}
	delete(s.clients, id)
	return *c, nil
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.clients)
		s.mu.RUnlock()
	}
	return n
}

// List returns copies of all records ordered by connection id. Shards are
// read one at a time, so under concurrent writes the result reflects each
// shard at a slightly different instant.
func (r *Registry) List() []Client {
	var out []Client
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, c := range s.clients {
			out = append(out, *c)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
