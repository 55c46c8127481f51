package session

import (
	"context"
	"testing"

	"TProject/service/realtime"
)

func TestApplyConvergesToDesired(t *testing.T) {
	bus := realtime.NewMemoryBus()
	m := NewSubscriptionManager(bus)

	counts := map[string]int{}
	handler := func(name string) realtime.Handler {
		return func(ctx context.Context, msg realtime.Message) error {
			counts[name]++
			return nil
		}
	}
	h1, h2, h3 := handler("ch1"), handler("ch2"), handler("ch3")

	if m.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", m.State())
	}
	if err := m.Apply([]Target{
		{Channel: "ch1", Event: "ev", Handler: h1},
		{Channel: "ch2", Event: "ev", Handler: h2},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if m.State() != StateSubscribed {
		t.Fatalf("state = %v, want subscribed", m.State())
	}

	ctx := context.Background()
	_ = bus.Publish(ctx, "ch1", "ev", []byte("{}"), nil)
	_ = bus.Publish(ctx, "ch2", "ev", []byte("{}"), nil)
	if counts["ch1"] != 1 || counts["ch2"] != 1 {
		t.Fatalf("counts after first apply: %v", counts)
	}

	// ch1 dropped, ch2 kept with the same handler reference, ch3 added.
	if err := m.Apply([]Target{
		{Channel: "ch2", Event: "ev", Handler: h2},
		{Channel: "ch3", Event: "ev", Handler: h3},
	}); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	_ = bus.Publish(ctx, "ch1", "ev", []byte("{}"), nil)
	_ = bus.Publish(ctx, "ch2", "ev", []byte("{}"), nil)
	_ = bus.Publish(ctx, "ch3", "ev", []byte("{}"), nil)
	if counts["ch1"] != 1 {
		t.Fatalf("ch1 still subscribed after removal: %v", counts)
	}
	if counts["ch2"] != 2 || counts["ch3"] != 1 {
		t.Fatalf("counts after re-apply: %v", counts)
	}

	m.Teardown()
	if m.State() != StateIdle {
		t.Fatalf("state after teardown = %v, want idle", m.State())
	}
	_ = bus.Publish(ctx, "ch2", "ev", []byte("{}"), nil)
	_ = bus.Publish(ctx, "ch3", "ev", []byte("{}"), nil)
	if counts["ch2"] != 2 || counts["ch3"] != 1 {
		t.Fatalf("handlers fired after teardown: %v", counts)
	}
	if got := m.ActiveChannels(); len(got) != 0 {
		t.Fatalf("active after teardown: %v", got)
	}
}
