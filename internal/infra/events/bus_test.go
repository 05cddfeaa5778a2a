package events_test

import (
	"testing"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/events"

	"go.uber.org/zap"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := events.NewBus(zap.NewNop())

	var got []string
	bus.Subscribe(func(c domain.StateChange) { got = append(got, "a:"+c.Key) })
	bus.Subscribe(func(c domain.StateChange) { got = append(got, "b:"+c.Key) })

	bus.Publish(domain.StateChange{Key: "k", Op: domain.CacheOpSave})

	if len(got) != 2 || got[0] != "a:k" || got[1] != "b:k" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus(zap.NewNop())

	calls := 0
	unsubscribe := bus.Subscribe(func(domain.StateChange) { calls++ })
	bus.Publish(domain.StateChange{Key: "k"})
	unsubscribe()
	unsubscribe()
	bus.Publish(domain.StateChange{Key: "k"})

	if calls != 1 {
		t.Errorf("expected 1 delivery, got %d", calls)
	}
}

func TestBus_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := events.NewBus(zap.NewNop())

	delivered := false
	bus.Subscribe(func(domain.StateChange) { panic("boom") })
	bus.Subscribe(func(domain.StateChange) { delivered = true })

	bus.Publish(domain.StateChange{Key: "k"})

	if !delivered {
		t.Error("expected second subscriber to receive the change")
	}
}
