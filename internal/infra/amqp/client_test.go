package amqp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/amqp"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type recordedPublish struct {
	exchange string
	msg      amqp091.Publishing
}

type mockPublisher struct {
	published []recordedPublish
	err       error
}

func (m *mockPublisher) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp091.Publishing) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, recordedPublish{exchange: exchange, msg: msg})
	return nil
}

type mockBus struct {
	changes []domain.StateChange
}

func (m *mockBus) Publish(change domain.StateChange) {
	m.changes = append(m.changes, change)
}

func change(origin string) domain.StateChange {
	return domain.StateChange{
		Key:      "moneyapp_state:u-1",
		Identity: "u-1",
		Op:       domain.CacheOpSave,
		Origin:   origin,
		At:       time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestForwarder_OnlyForwardsOwnChanges(t *testing.T) {
	pub := &mockPublisher{}
	f := amqp.NewForwarder(pub, "ledger.changes", "node-a", zap.NewNop())

	f.Forward(change("node-a"))
	f.Forward(change("node-b"))

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}
	got := pub.published[0]
	if got.exchange != "ledger.changes" || got.msg.AppId != "node-a" {
		t.Errorf("unexpected publish %+v", got)
	}
	msg, err := amqp.ChangeMessageFromJSON(got.msg.Body)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Change.Key != "moneyapp_state:u-1" || msg.Change.Op != domain.CacheOpSave {
		t.Errorf("unexpected change %+v", msg.Change)
	}
}

func TestForwarder_PublishErrorIsSwallowed(t *testing.T) {
	pub := &mockPublisher{err: errors.New("channel closed")}
	f := amqp.NewForwarder(pub, "ledger.changes", "node-a", zap.NewNop())

	f.Forward(change("node-a"))
}

func TestRelay_DropsOwnOriginAndMalformed(t *testing.T) {
	bus := &mockBus{}
	r := amqp.NewRelay("node-a", bus, zap.NewNop())

	own, _ := amqp.NewChangeMessage(change("node-a")).ToJSON()
	other, _ := amqp.NewChangeMessage(change("node-b")).ToJSON()

	deliveries := make(chan amqp091.Delivery, 4)
	deliveries <- amqp091.Delivery{Body: own}
	deliveries <- amqp091.Delivery{Body: []byte("{not json")}
	deliveries <- amqp091.Delivery{Body: []byte(`{"v":2,"change":{"key":"k"}}`)}
	deliveries <- amqp091.Delivery{Body: other}
	close(deliveries)

	err := r.Run(context.Background(), deliveries)
	if err == nil {
		t.Fatal("expected error when the channel closes")
	}

	if len(bus.changes) != 1 || bus.changes[0].Origin != "node-b" {
		t.Errorf("expected only the foreign change, got %+v", bus.changes)
	}
}

func TestRelay_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := amqp.NewRelay("node-a", &mockBus{}, zap.NewNop()).Run(ctx, make(chan amqp091.Delivery))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
