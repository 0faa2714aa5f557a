package dispatch

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/musink/musink/pkg/envelope"
)

type recorder struct {
	mu   sync.Mutex
	got  [][]byte
	fail error
}

func (r *recorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, data)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in   string
		want Category
	}{
		{"MutualPlaylist", MutualPlaylist},
		{"Other", Other},
		{"", Other},
		{"mutualplaylist", Other},
		{"SomethingElse", Other},
	}
	for _, tc := range cases {
		if got := ParseCategory(tc.in); got != tc.want {
			t.Errorf("ParseCategory(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDispatch_RoundRobin(t *testing.T) {
	d := New()
	const n = 4
	workers := make([]*recorder, n)
	for i := range workers {
		workers[i] = &recorder{}
		if err := d.Register(MutualPlaylist, envelope.ConnID(i+1), workers[i]); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	var order []envelope.ConnID
	for i := 0; i < n+1; i++ {
		id, err := d.Dispatch(MutualPlaylist, []byte("job"))
		if err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
		order = append(order, id)
	}

	want := []envelope.ConnID{1, 2, 3, 4, 1}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("dispatch order: got %v, want %v", order, want)
	}
	if got := workers[0].count(); got != 2 {
		t.Errorf("first worker: got %d dispatches, want 2", got)
	}
	for i := 1; i < n; i++ {
		if got := workers[i].count(); got != 1 {
			t.Errorf("worker %d: got %d dispatches, want 1", i+1, got)
		}
	}
}

func TestDispatch_NoWorkers(t *testing.T) {
	d := New()
	other := &recorder{}
	d.Register(Other, 9, other) //nolint:errcheck

	before := d.Workers()
	_, err := d.Dispatch(MutualPlaylist, []byte("job"))
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("err: got %v, want ErrNoWorkers", err)
	}
	if after := d.Workers(); !reflect.DeepEqual(before, after) {
		t.Errorf("pools changed: before %v, after %v", before, after)
	}
	if other.count() != 0 {
		t.Error("payload leaked to another category")
	}
}

func TestDispatch_SendFailureStillRotates(t *testing.T) {
	d := New()
	broken := &recorder{fail: errors.New("gone")}
	healthy := &recorder{}
	d.Register(MutualPlaylist, 1, broken)  //nolint:errcheck
	d.Register(MutualPlaylist, 2, healthy) //nolint:errcheck

	id, err := d.Dispatch(MutualPlaylist, []byte("a"))
	if err == nil {
		t.Fatal("expected send error")
	}
	if id != 1 {
		t.Errorf("chosen worker: got %d, want 1", id)
	}
	if got := d.Workers()[MutualPlaylist]; !reflect.DeepEqual(got, []envelope.ConnID{2, 1}) {
		t.Errorf("rotation: got %v, want [2 1]", got)
	}

	if id, err := d.Dispatch(MutualPlaylist, []byte("b")); err != nil || id != 2 {
		t.Errorf("second dispatch: got (%d, %v), want (2, nil)", id, err)
	}
}

func TestRegister_UnknownCategoryGoesToOther(t *testing.T) {
	d := New()
	if err := d.Register(Category("Karaoke"), 3, &recorder{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if d.Size(Other) != 1 {
		t.Errorf("Other size: got %d, want 1", d.Size(Other))
	}
}

func TestRegister_AtMostOnePool(t *testing.T) {
	d := New()
	d.Register(MutualPlaylist, 1, &recorder{}) //nolint:errcheck
	err := d.Register(Other, 1, &recorder{})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("err: got %v, want ErrAlreadyRegistered", err)
	}
	if d.Size(Other) != 0 {
		t.Errorf("Other size: got %d, want 0", d.Size(Other))
	}
}

func TestUnregister(t *testing.T) {
	d := New()
	d.Register(MutualPlaylist, 1, &recorder{}) //nolint:errcheck
	d.Register(MutualPlaylist, 2, &recorder{}) //nolint:errcheck

	cat, ok := d.Unregister(1)
	if !ok || cat != MutualPlaylist {
		t.Errorf("Unregister: got (%q, %v), want (MutualPlaylist, true)", cat, ok)
	}
	if got := d.Workers()[MutualPlaylist]; !reflect.DeepEqual(got, []envelope.ConnID{2}) {
		t.Errorf("pool: got %v, want [2]", got)
	}
	if _, ok := d.Unregister(1); ok {
		t.Error("second Unregister: expected not found")
	}
	if _, ok := d.Unregister(77); ok {
		t.Error("Unregister unknown: expected not found")
	}
}

func TestOnChange(t *testing.T) {
	d := New()
	type change struct {
		cat  Category
		size int
	}
	var got []change
	d.OnChange(func(c Category, n int) { got = append(got, change{c, n}) })

	d.Register(MutualPlaylist, 1, &recorder{}) //nolint:errcheck
	d.Register(MutualPlaylist, 2, &recorder{}) //nolint:errcheck
	d.Unregister(1)
	d.Dispatch(MutualPlaylist, nil) //nolint:errcheck

	want := []change{{MutualPlaylist, 1}, {MutualPlaylist, 2}, {MutualPlaylist, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changes: got %v, want %v", got, want)
	}
}

func TestConcurrentDispatchAndChurn(t *testing.T) {
	d := New()
	stable := &recorder{}
	d.Register(MutualPlaylist, 0, stable) //nolint:errcheck

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := envelope.ConnID(base*1000 + i + 1)
				d.Register(MutualPlaylist, id, &recorder{}) //nolint:errcheck
				d.Dispatch(MutualPlaylist, []byte("x"))     //nolint:errcheck
				d.Unregister(id)
			}
		}(w)
	}
	wg.Wait()

	if got := d.Workers()[MutualPlaylist]; !reflect.DeepEqual(got, []envelope.ConnID{0}) {
		t.Errorf("pool after churn: got %v, want [0]", got)
	}
}
