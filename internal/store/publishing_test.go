package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/realtime"
)

type capture struct {
	events []realtime.Event
}

func (c *capture) handle(ev realtime.Event) { c.events = append(c.events, ev) }

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, realtime.Event) error {
	return errors.New("broker down")
}

func TestPublishing_EmitsAfterWrites(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewMemoryBroker()
	p := NewPublishing(newTestSQLite(t), broker, zerolog.Nop())

	rooms, ledger := &capture{}, &capture{}
	broker.Subscribe(ctx, realtime.TableMessages, nil, realtime.Eq("room", "12ana"), rooms.handle)
	broker.Subscribe(ctx, realtime.TableNotifications, nil, realtime.Eq("user_destiny", "ana"), ledger.handle)

	saved, err := p.InsertMessage(ctx, models.Message{Room: "12ana", Username: "pedro", UserDestino: "ana", Content: "hola", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if len(rooms.events) != 1 {
		t.Fatalf("message events = %d, want 1", len(rooms.events))
	}
	m, err := realtime.DecodeMessage(rooms.events[0])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if m.ID != saved.ID {
		t.Errorf("event carries id %d, want saved id %d", m.ID, saved.ID)
	}

	n := models.NotificationFromMessage(*saved)
	if _, created, err := p.UpsertNotification(ctx, n); err != nil || !created {
		t.Fatalf("UpsertNotification created=%v err=%v", created, err)
	}
	if _, created, _ := p.UpsertNotification(ctx, n); created {
		t.Fatal("duplicate upsert created a row")
	}
	if len(ledger.events) != 1 || ledger.events[0].Type != realtime.Insert {
		t.Fatalf("ledger events = %d, want one INSERT", len(ledger.events))
	}

	if _, err := p.UpdateNotificationRead(ctx, ReadUpdate{Recipient: "ana"}); err != nil {
		t.Fatalf("UpdateNotificationRead: %v", err)
	}
	if len(ledger.events) != 2 || ledger.events[1].Type != realtime.Update {
		t.Fatalf("ledger events = %d, want INSERT then UPDATE", len(ledger.events))
	}

	// Nothing left to mark: no event.
	p.UpdateNotificationRead(ctx, ReadUpdate{Recipient: "ana"})
	if len(ledger.events) != 2 {
		t.Errorf("no-op update published an event")
	}
}

func TestPublishing_PublishFailureKeepsWrite(t *testing.T) {
	ctx := context.Background()
	backend := newTestSQLite(t)
	p := NewPublishing(backend, brokenPublisher{}, zerolog.Nop())

	saved, err := p.InsertMessage(ctx, models.Message{Room: "12ana", Username: "pedro", Content: "hola"})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	got, _ := backend.FetchMessages(ctx, MessageFilter{Rooms: []string{"12ana"}})
	if len(got) != 1 || got[0].ID != saved.ID {
		t.Errorf("stored = %v", got)
	}
}
