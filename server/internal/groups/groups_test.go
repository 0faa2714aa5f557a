package groups

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/musink/musink/pkg/envelope"
)

// checkInvariant fails the test if any group is empty or if the member index
// and the member lists disagree.
func checkInvariant(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[envelope.ConnID]int)
	for id, g := range m.groups {
		if len(g.members) == 0 {
			t.Errorf("group %d is empty", id)
		}
		for _, c := range g.members {
			seen[c]++
			if m.memberOf[c] != id {
				t.Errorf("conn %d listed in group %d but indexed to %d", c, id, m.memberOf[c])
			}
		}
	}
	for c, id := range m.memberOf {
		if _, ok := m.groups[id]; !ok {
			t.Errorf("conn %d indexed to missing group %d", c, id)
		}
		if seen[c] != 1 {
			t.Errorf("conn %d appears %d times, want exactly once", c, seen[c])
		}
	}
}

func TestCreateSingleton_IncreasingIDs(t *testing.T) {
	m := New()
	a := m.CreateSingleton(1)
	b := m.CreateSingleton(2)
	c := m.CreateSingleton(3)
	if !(a < b && b < c) {
		t.Errorf("ids not strictly increasing: %d %d %d", a, b, c)
	}
	if members, _ := m.Members(b); !reflect.DeepEqual(members, []envelope.ConnID{2}) {
		t.Errorf("members of %d: got %v, want [2]", b, members)
	}
	checkInvariant(t, m)
}

func TestCreateSingleton_IDsNotReused(t *testing.T) {
	m := New()
	a := m.CreateSingleton(1)
	m.Leave(1) //nolint:errcheck
	b := m.CreateSingleton(1)
	if b <= a {
		t.Errorf("id reused or decreased: first %d, second %d", a, b)
	}
}

func TestJoin_MovesAndDeletesEmptyGroup(t *testing.T) {
	m := New()
	ga := m.CreateSingleton(1)
	gb := m.CreateSingleton(2)

	from, err := m.Join(1, gb)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if from != ga {
		t.Errorf("from: got %d, want %d", from, ga)
	}

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot: got %d groups, want 1", len(snap))
	}
	if snap[0].GroupID != gb || !reflect.DeepEqual(snap[0].Clients, []envelope.ConnID{2, 1}) {
		t.Errorf("snapshot: got %+v, want group %d with [2 1]", snap[0], gb)
	}
	if g, _ := m.GroupOf(1); g != gb {
		t.Errorf("GroupOf(1): got %d, want %d", g, gb)
	}
	checkInvariant(t, m)
}

func TestJoin_KeepsNonEmptySource(t *testing.T) {
	m := New()
	ga := m.CreateSingleton(1)
	m.CreateSingleton(2)
	m.Join(2, ga) //nolint:errcheck
	gc := m.CreateSingleton(3)

	if _, err := m.Join(1, gc); err != nil {
		t.Fatalf("Join: %v", err)
	}
	members, ok := m.Members(ga)
	if !ok || !reflect.DeepEqual(members, []envelope.ConnID{2}) {
		t.Errorf("source group: got %v (ok=%v), want [2]", members, ok)
	}
	checkInvariant(t, m)
}

func TestJoin_TargetMissing(t *testing.T) {
	m := New()
	ga := m.CreateSingleton(1)

	_, err := m.Join(1, 999)
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("err: got %v, want ErrGroupNotFound", err)
	}
	if g, _ := m.GroupOf(1); g != ga {
		t.Errorf("membership changed on failed join: got %d, want %d", g, ga)
	}
	checkInvariant(t, m)
}

func TestJoin_NotMember(t *testing.T) {
	m := New()
	ga := m.CreateSingleton(1)
	if _, err := m.Join(5, ga); !errors.Is(err, ErrNotMember) {
		t.Errorf("err: got %v, want ErrNotMember", err)
	}
}

func TestJoin_SameGroupIsNoop(t *testing.T) {
	m := New()
	ga := m.CreateSingleton(1)
	if _, err := m.Join(1, ga); err != nil {
		t.Fatalf("Join: %v", err)
	}
	members, ok := m.Members(ga)
	if !ok || !reflect.DeepEqual(members, []envelope.ConnID{1}) {
		t.Errorf("members: got %v (ok=%v), want [1]", members, ok)
	}
	checkInvariant(t, m)
}

func TestLeave_LastMemberRemovesGroup(t *testing.T) {
	m := New()
	g := m.CreateSingleton(1)

	left, err := m.Leave(1)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if left != g {
		t.Errorf("left: got %d, want %d", left, g)
	}
	if m.Len() != 0 {
		t.Errorf("Len: got %d, want 0", m.Len())
	}
	for _, s := range m.Snapshot() {
		if s.GroupID == g {
			t.Errorf("group %d still in snapshot", g)
		}
	}
	if _, err := m.Leave(1); !errors.Is(err, ErrNotMember) {
		t.Errorf("second Leave: got %v, want ErrNotMember", err)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	m := New()
	g := m.CreateSingleton(1)
	snap := m.Snapshot()
	snap[0].Clients[0] = 42

	members, _ := m.Members(g)
	if members[0] != 1 {
		t.Errorf("snapshot aliases internal state: got %v", members)
	}
}

func TestConcurrentMembership_InvariantHolds(t *testing.T) {
	m := New()
	const conns = 32
	for c := envelope.ConnID(0); c < conns; c++ {
		m.CreateSingleton(c)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				c := envelope.ConnID(rng.Intn(conns))
				switch rng.Intn(4) {
				case 0:
					m.Leave(c) //nolint:errcheck
					m.CreateSingleton(c)
				case 1:
					m.CreateSingleton(c)
				default:
					snap := m.Snapshot()
					if len(snap) > 0 {
						m.Join(c, snap[rng.Intn(len(snap))].GroupID) //nolint:errcheck
					}
				}
				for _, g := range m.Snapshot() {
					if len(g.Clients) == 0 {
						t.Errorf("empty group %d in snapshot", g.GroupID)
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()
	checkInvariant(t, m)
}
