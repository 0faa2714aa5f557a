// Package groups maintains the partition of registered clients into groups.
//
// Every client belongs to exactly one group. A new client starts in a fresh
// singleton group; JoinGroup moves it, and a group whose last member leaves
// is deleted immediately. Group ids are allocated in strictly increasing
// order and never reused.
package groups

import (
	"errors"
	"sort"
	"sync"

	"github.com/musink/musink/pkg/envelope"
)

var (
	// ErrGroupNotFound is returned by Join when the target group does not exist.
	ErrGroupNotFound = errors.New("groups: group not found")

	// ErrNotMember is returned when the connection is not in any group.
	ErrNotMember = errors.New("groups: connection is not in a group")
)

// Manager owns the group table. The table and the member-to-group index are
// guarded by one RWMutex so that a move between groups is atomic.
type Manager struct {
	mu       sync.RWMutex
	groups   map[envelope.GroupID]*group
	memberOf map[envelope.ConnID]envelope.GroupID
	nextID   envelope.GroupID
}

type group struct {
	id          envelope.GroupID
	advertising bool
	members     []envelope.ConnID // insertion order
}

// New creates an empty Manager. The first group gets id 0.
func New() *Manager {
	return &Manager{
		groups:   make(map[envelope.GroupID]*group),
		memberOf: make(map[envelope.ConnID]envelope.GroupID),
	}
}

// CreateSingleton allocates a new group containing only conn and returns its
// id. If conn was already in a group it leaves that group first.
func (m *Manager) CreateSingleton(conn envelope.ConnID) envelope.GroupID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.memberOf[conn]; ok {
		m.removeLocked(conn)
	}

	id := m.nextID
	m.nextID++
	m.groups[id] = &group{id: id, members: []envelope.ConnID{conn}}
	m.memberOf[conn] = id
	return id
}

// Join moves conn from its current group to target and returns the group it
// left. Joining the group conn is already in is a no-op. The target must
// exist; conn's old group is deleted if it becomes empty.
func (m *Manager) Join(conn envelope.ConnID, target envelope.GroupID) (envelope.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, ok := m.memberOf[conn]
	if !ok {
		return 0, ErrNotMember
	}
	dst, ok := m.groups[target]
	if !ok {
		return from, ErrGroupNotFound
	}
	if from == target {
		return from, nil
	}

	m.removeLocked(conn)
	dst.members = append(dst.members, conn)
	m.memberOf[conn] = target
	return from, nil
}

// Leave removes conn from its group, deleting the group if it becomes empty,
// and returns the id of the group it left.
func (m *Manager) Leave(conn envelope.ConnID) (envelope.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(conn)
}

// removeLocked must be called with m.mu held for writing.
func (m *Manager) removeLocked(conn envelope.ConnID) (envelope.GroupID, error) {
	id, ok := m.memberOf[conn]
	if !ok {
		return 0, ErrNotMember
	}
	delete(m.memberOf, conn)

	g := m.groups[id]
	for i, member := range g.members {
		if member == conn {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	if len(g.members) == 0 {
		delete(m.groups, id)
	}
	return id, nil
}

// GroupOf returns the group conn belongs to.
func (m *Manager) GroupOf(conn envelope.ConnID) (envelope.GroupID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.memberOf[conn]
	return id, ok
}

// Members returns a copy of the member list of group id, in join order.
func (m *Manager) Members(id envelope.GroupID) ([]envelope.ConnID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, false
	}
	out := make([]envelope.ConnID, len(g.members))
	copy(out, g.members)
	return out, true
}

// Len returns the number of groups.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups)
}

// Snapshot returns every current group with its members, ordered by group id.
func (m *Manager) Snapshot() []envelope.Group {
	m.mu.RLock()
	out := make([]envelope.Group, 0, len(m.groups))
	for _, g := range m.groups {
		members := make([]envelope.ConnID, len(g.members))
		copy(members, g.members)
		out = append(out, envelope.Group{
			GroupID:       g.id,
			IsAdvertising: g.advertising,
			Clients:       members,
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}
