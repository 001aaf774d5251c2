package tuya

import (
	"sync"
	"testing"
	"time"
)

func TestCallbackBusConnectedFanOut(t *testing.T) {
	b := newCallbackBus()
	defer b.close()

	var mu sync.Mutex
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		b.OnConnected(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.emit(Event{Kind: EventKindConnected})
	waitForCondition(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCallbackBusUnregisterIdempotent(t *testing.T) {
	b := newCallbackBus()
	defer b.close()

	var calls int
	var mu sync.Mutex
	unreg := b.OnDisconnected(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	unreg()
	unreg() // must be a no-op, not a panic or double-removal

	b.emit(Event{Kind: EventKindDisconnected})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 (callback was unregistered)", calls)
	}
}

func TestCallbackBusDatapointsUpdatedCarriesPayload(t *testing.T) {
	b := newCallbackBus()
	defer b.close()

	result := make(chan []*Datapoint, 1)
	b.OnDatapointsUpdated(func(dps []*Datapoint) {
		result <- dps
	})

	want := []*Datapoint{{ID: 1, Type: DPTypeBool, Value: true}}
	b.emit(Event{Kind: EventKindDatapointsUpdated, Datapoints: want})

	select {
	case got := <-result:
		if len(got) != 1 || got[0].ID != 1 {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestCallbackBusCloseStopsFanOut(t *testing.T) {
	b := newCallbackBus()

	var calls int
	var mu sync.Mutex
	b.OnConnected(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	b.close()
	b.close() // close must itself be idempotent
	b.emit(Event{Kind: EventKindConnected})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after close", calls)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
