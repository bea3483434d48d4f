package callback

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
)

const registryTestPrefix = "callback:registry_test"

func TestRegister_AllocatesDistinctNonZeroIDs(t *testing.T) {
	reg := New()
	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		id := reg.Register(func(json.RawMessage) {}, true)
		if id == 0 {
			t.Fatalf("%s - allocated zero id", registryTestPrefix)
		}
		if seen[id] {
			t.Fatalf("%s - duplicate id %d", registryTestPrefix, id)
		}
		seen[id] = true
	}
	if reg.Len() != 1000 {
		t.Errorf("%s - Len() = %d, want 1000", registryTestPrefix, reg.Len())
	}
}

func TestRegister_RedrawsOnCollisionAndZero(t *testing.T) {
	reg := New()
	draws := []uint32{0, 7, 7, 9}
	reg.next = func() uint32 {
		v := draws[0]
		draws = draws[1:]
		return v
	}

	first := reg.Register(func(json.RawMessage) {}, false)
	second := reg.Register(func(json.RawMessage) {}, false)

	if first != 7 {
		t.Errorf("%s - first id = %d, want 7", registryTestPrefix, first)
	}
	if second != 9 {
		t.Errorf("%s - second id = %d, want 9", registryTestPrefix, second)
	}
}

func TestInvoke_OneShotFiresAtMostOnce(t *testing.T) {
	reg := New()
	var calls int
	var got string
	id := reg.Register(func(p json.RawMessage) {
		calls++
		got = string(p)
	}, true)

	if !reg.Invoke(id, json.RawMessage(`"first"`)) {
		t.Fatalf("%s - first invoke should find the handler", registryTestPrefix)
	}
	if reg.Invoke(id, json.RawMessage(`"second"`)) {
		t.Errorf("%s - second invoke should be a no-op", registryTestPrefix)
	}

	if calls != 1 {
		t.Errorf("%s - handler called %d times, want 1", registryTestPrefix, calls)
	}
	if got != `"first"` {
		t.Errorf("%s - payload = %s, want \"first\"", registryTestPrefix, got)
	}
	if reg.Has(id) {
		t.Errorf("%s - one-shot id should be removed after firing", registryTestPrefix)
	}
}

func TestInvoke_PersistentFiresEveryTime(t *testing.T) {
	reg := New()
	var calls int
	id := reg.Register(func(json.RawMessage) { calls++ }, false)

	for i := 0; i < 3; i++ {
		reg.Invoke(id, nil)
	}
	if calls != 3 {
		t.Errorf("%s - handler called %d times, want 3", registryTestPrefix, calls)
	}
	if !reg.Has(id) {
		t.Errorf("%s - persistent id should stay registered", registryTestPrefix)
	}
}

func TestInvoke_UnknownIDIsSilent(t *testing.T) {
	reg := New()
	if reg.Invoke(12345, json.RawMessage(`null`)) {
		t.Errorf("%s - unknown id should report false", registryTestPrefix)
	}
}

func TestInvoke_HandlerMayReenterRegistry(t *testing.T) {
	reg := New()
	var inner ID
	outer := reg.Register(func(json.RawMessage) {
		inner = reg.Register(func(json.RawMessage) {}, true)
		reg.Remove(inner)
	}, true)

	reg.Invoke(outer, nil)

	if inner == 0 {
		t.Fatalf("%s - nested Register did not run", registryTestPrefix)
	}
	if reg.Len() != 0 {
		t.Errorf("%s - Len() = %d, want 0", registryTestPrefix, reg.Len())
	}
}

func TestRemove_IgnoresUnknown(t *testing.T) {
	reg := New()
	a := reg.Register(func(json.RawMessage) {}, true)
	b := reg.Register(func(json.RawMessage) {}, true)

	reg.Remove(a, 999)

	if reg.Has(a) {
		t.Errorf("%s - a should be removed", registryTestPrefix)
	}
	if !reg.Has(b) {
		t.Errorf("%s - b should remain", registryTestPrefix)
	}
}

func TestInvoke_ConcurrentOneShotFiresOnce(t *testing.T) {
	reg := New()
	var calls atomic.Int32
	id := reg.Register(func(json.RawMessage) { calls.Add(1) }, true)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Invoke(id, nil)
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("%s - handler called %d times, want 1", registryTestPrefix, calls.Load())
	}
}
