package registry_test

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/adamwoolhether/xfer/registry"
	"github.com/google/go-cmp/cmp"
)

type item struct {
	name string
}

func TestRegistry_GetPutRemove(t *testing.T) {
	r := registry.New[*item]()

	if _, ok := r.Get("a"); ok {
		t.Fatal("expected empty registry")
	}

	a := &item{name: "a"}
	r.Put("a", a)

	got, ok := r.Get("a")
	if !ok || got != a {
		t.Fatalf("expected %v, got %v (ok=%v)", a, got, ok)
	}

	removed, ok := r.Remove("a")
	if !ok || removed != a {
		t.Fatalf("expected removed %v, got %v (ok=%v)", a, removed, ok)
	}

	if r.Len() != 0 {
		t.Errorf("expected len 0, got %d", r.Len())
	}

	if _, ok := r.Remove("a"); ok {
		t.Error("second remove should report missing key")
	}
}

func TestRegistry_LoadOrStore(t *testing.T) {
	r := registry.New[*item]()

	first := &item{name: "first"}
	actual, loaded := r.LoadOrStore("k", first)
	if loaded || actual != first {
		t.Fatalf("expected store of first, got %v loaded=%v", actual, loaded)
	}

	second := &item{name: "second"}
	actual, loaded = r.LoadOrStore("k", second)
	if !loaded || actual != first {
		t.Fatalf("expected load of first, got %v loaded=%v", actual, loaded)
	}
}

func TestRegistry_CompareAndDelete(t *testing.T) {
	r := registry.New[*item]()

	old := &item{name: "old"}
	fresh := &item{name: "fresh"}
	r.Put("k", fresh)

	if r.CompareAndDelete("k", old) {
		t.Fatal("must not delete a different item")
	}
	if _, ok := r.Get("k"); !ok {
		t.Fatal("fresh item should still be registered")
	}

	if !r.CompareAndDelete("k", fresh) {
		t.Fatal("expected delete of matching item")
	}
	if r.CompareAndDelete("k", fresh) {
		t.Fatal("delete must be idempotent")
	}
}

func TestRegistry_KeysAndSnapshot(t *testing.T) {
	r := registry.New[*item]()
	b := &item{name: "b"}
	a := &item{name: "a"}
	r.Put("b", b)
	r.Put("a", a)

	if diff := cmp.Diff([]string{"a", "b"}, r.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	snap := r.Snapshot()
	r.Remove("a")
	if len(snap) != 2 {
		t.Errorf("snapshot must not observe later mutations, len=%d", len(snap))
	}
}

func TestRegistry_ConcurrentLoadOrStoreSingleWinner(t *testing.T) {
	r := registry.New[*item]()

	const workers = 64
	var stored atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, loaded := r.LoadOrStore("same", &item{name: strconv.Itoa(i)}); !loaded {
				stored.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := stored.Load(); got != 1 {
		t.Errorf("expected exactly one store, got %d", got)
	}
	if r.Len() != 1 {
		t.Errorf("expected one entry, got %d", r.Len())
	}
}
