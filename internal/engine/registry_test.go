package engine

import (
	"sync"
	"testing"
)

func TestRegistry_InsertAssignsIncreasingIDs(t *testing.T) {
	var r registry

	first, err := r.insert(0, func(id int) *instance { return &instance{id: id} })
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.id != 1 {
		t.Fatalf("first id = %d, want 1", first.id)
	}

	second, err := r.insert(0, func(id int) *instance { return &instance{id: id} })
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second.id != 2 {
		t.Fatalf("second id = %d, want 2", second.id)
	}
}

func TestRegistry_RequestedIDConflict(t *testing.T) {
	var r registry
	if _, err := r.insert(5, func(id int) *instance { return &instance{id: id} }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := r.insert(5, func(id int) *instance { return &instance{id: id} }); err == nil {
		t.Fatal("expected a conflict error requesting an already-live id")
	}
}

func TestRegistry_RemoveFreesID(t *testing.T) {
	var r registry
	inst, _ := r.insert(0, func(id int) *instance { return &instance{id: id} })
	r.remove(inst.id)
	if _, ok := r.find(inst.id); ok {
		t.Fatal("find succeeded after remove")
	}
	if r.len() != 0 {
		t.Fatalf("len = %d, want 0", r.len())
	}
}

func TestRegistry_ConcurrentInsertsProduceDisjointIDs(t *testing.T) {
	var r registry
	const n = 64
	ids := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			inst, err := r.insert(0, func(id int) *instance { return &instance{id: id} })
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			ids[i] = inst.id
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d assigned", id)
		}
		seen[id] = true
	}
	if r.len() != n {
		t.Fatalf("len = %d, want %d", r.len(), n)
	}
}

func TestRegistry_ForEachVisitsAllLiveInstances(t *testing.T) {
	var r registry
	for i := 0; i < 3; i++ {
		if _, err := r.insert(0, func(id int) *instance { return &instance{id: id} }); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	visited := 0
	r.forEach(func(*instance) { visited++ })
	if visited != 3 {
		t.Fatalf("visited = %d, want 3", visited)
	}
}
