package syncmap

import (
	"sync"
	"testing"
)

func TestMap_Load(t *testing.T) {
	m := New[string, int]()
	if v, ok := m.Load("bocchi"); ok {
		t.Errorf("empty map has a value: %d", v)
	}
	m.LoadOrStore("bocchi", func() int { return 7 })
	if v, ok := m.Load("bocchi"); !ok || v != 7 {
		t.Errorf("wrong value: want 7 true, got %d %t", v, ok)
	}
}

func TestMap_LoadOrStore(t *testing.T) {
	m := New[string, *int]()
	calls := 0
	mk := func() *int {
		calls++
		return new(int)
	}
	a, loaded := m.LoadOrStore("kita", mk)
	if loaded {
		t.Errorf("first LoadOrStore reported loaded")
	}
	b, loaded := m.LoadOrStore("kita", mk)
	if !loaded {
		t.Errorf("second LoadOrStore reported stored")
	}
	if a != b {
		t.Errorf("LoadOrStore gave different values: %p and %p", a, b)
	}
	if calls != 1 {
		t.Errorf("mk called %d times, want 1", calls)
	}
}

func TestMap_Concurrent(t *testing.T) {
	m := New[int, *int]()
	const goroutines = 50
	vals := make([][]*int, goroutines)
	var wg sync.WaitGroup
	for i := range vals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range 100 {
				v, _ := m.LoadOrStore(k, func() *int { return new(int) })
				vals[i] = append(vals[i], v)
			}
		}()
	}
	wg.Wait()
	for i, vs := range vals {
		for k, v := range vs {
			if v != vals[0][k] {
				t.Errorf("goroutine %d got a different value for key %d", i, k)
			}
		}
	}
}
