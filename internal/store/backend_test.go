package store

import (
	"context"
	"testing"
	"time"

	"github.com/donatonuis/chatsync/internal/models"
)

// seedSubject creates an item row when the backend supports it.
type subjectSaver interface {
	SaveSubject(ctx context.Context, subject *models.Subject) error
}

func ptr(v int64) *int64 { return &v }

// runBackendTests exercises the Backend contract against b, which must be
// empty.
func runBackendTests(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("InsertAndFetchMessages", func(t *testing.T) {
		rows := []models.Message{
			{Room: "12ana", Username: "ana", UserDestino: "pedro", PrendaID: ptr(12), Content: "second", CreatedAt: base.Add(2 * time.Minute)},
			{Room: "12ana", Username: "pedro", UserDestino: "ana", PrendaID: ptr(12), Content: "first", CreatedAt: base.Add(time.Minute)},
			{Room: "12", Username: "pedro", UserDestino: "ana", PrendaID: ptr(12), Content: "legacy", CreatedAt: base},
			{Room: "13luis", Username: "luis", UserDestino: "marta", PrendaID: ptr(13), Content: "other", CreatedAt: base},
		}
		for _, m := range rows {
			saved, err := b.InsertMessage(ctx, m)
			if err != nil {
				t.Fatalf("InsertMessage: %v", err)
			}
			if saved.ID == 0 {
				t.Fatal("saved message has no id")
			}
			if saved.Content != m.Content || saved.Room != m.Room {
				t.Errorf("saved = %+v", saved)
			}
		}

		got, err := b.FetchMessages(ctx, MessageFilter{Rooms: []string{"12ana"}})
		if err != nil {
			t.Fatalf("FetchMessages: %v", err)
		}
		if len(got) != 2 || got[0].Content != "first" || got[1].Content != "second" {
			t.Errorf("room 12ana = %v", contents(got))
		}

		got, _ = b.FetchMessages(ctx, MessageFilter{Rooms: []string{"12ana", "12"}})
		if len(got) != 3 || got[0].Content != "legacy" {
			t.Errorf("rooms 12ana+12 = %v", contents(got))
		}

		got, _ = b.FetchMessages(ctx, MessageFilter{SubjectID: ptr(12), Descending: true, Limit: 2})
		if len(got) != 2 || got[0].Content != "second" {
			t.Errorf("subject 12 desc = %v", contents(got))
		}

		got, _ = b.FetchMessages(ctx, MessageFilter{Participant: "marta"})
		if len(got) != 1 || got[0].Content != "other" {
			t.Errorf("participant marta = %v", contents(got))
		}

		got, err = b.FetchMessages(ctx, MessageFilter{Rooms: []string{"nope"}})
		if err != nil || got == nil || len(got) != 0 {
			t.Errorf("empty result = %v, %v; want empty slice", got, err)
		}
	})

	t.Run("InsertDefaultsTimestamp", func(t *testing.T) {
		before := time.Now().Add(-time.Second)
		saved, err := b.InsertMessage(ctx, models.Message{Room: "99x", Username: "x", Content: "now"})
		if err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		if saved.CreatedAt.Before(before) {
			t.Errorf("CreatedAt = %v, want about now", saved.CreatedAt)
		}
	})

	t.Run("UpsertNotification", func(t *testing.T) {
		n := models.Notification{
			UserDestiny: "ana",
			UserSender:  "pedro",
			PrendaID:    ptr(12),
			Type:        models.NotificationMessage,
			Text:        "pedro sent you a message",
			MessageID:   ptr(500),
			CreatedAt:   base,
		}
		first, created, err := b.UpsertNotification(ctx, n)
		if err != nil {
			t.Fatalf("UpsertNotification: %v", err)
		}
		if !created || first.ID == 0 {
			t.Fatalf("first upsert created=%v id=%d", created, first.ID)
		}

		if _, err := b.UpdateNotificationRead(ctx, ReadUpdate{ID: first.ID, Recipient: "ana"}); err != nil {
			t.Fatalf("UpdateNotificationRead: %v", err)
		}

		n.Text = "changed"
		again, created, err := b.UpsertNotification(ctx, n)
		if err != nil {
			t.Fatalf("second UpsertNotification: %v", err)
		}
		if created {
			t.Error("second upsert reported a new row")
		}
		if again.ID != first.ID {
			t.Errorf("second upsert id = %d, want %d", again.ID, first.ID)
		}
		if !again.Read || again.Text != first.Text {
			t.Errorf("existing row was modified: %+v", again)
		}

		// Same message for another recipient is a distinct row.
		n.UserDestiny = "luis"
		other, created, err := b.UpsertNotification(ctx, n)
		if err != nil || !created || other.ID == first.ID {
			t.Errorf("other recipient: created=%v err=%v", created, err)
		}
	})

	t.Run("CountAndReadLedger", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, _, err := b.UpsertNotification(ctx, models.Notification{
				UserDestiny: "marta",
				UserSender:  "luis",
				Type:        models.NotificationMessage,
				MessageID:   ptr(int64(600 + i)),
				CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("UpsertNotification: %v", err)
			}
		}

		unread := NotificationFilter{Recipient: "marta", Unread: true}
		if n, err := b.CountNotifications(ctx, unread); err != nil || n != 5 {
			t.Fatalf("unread count = %d, %v; want 5", n, err)
		}

		recent, err := b.FetchNotifications(ctx, NotificationFilter{Recipient: "marta"}, 3)
		if err != nil {
			t.Fatalf("FetchNotifications: %v", err)
		}
		if len(recent) != 3 {
			t.Fatalf("recent = %d rows, want 3", len(recent))
		}
		if *recent[0].MessageID != 604 || *recent[2].MessageID != 602 {
			t.Errorf("recent not newest first: %d..%d", *recent[0].MessageID, *recent[2].MessageID)
		}

		n, err := b.UpdateNotificationRead(ctx, ReadUpdate{ID: recent[0].ID, Recipient: "marta"})
		if err != nil || n != 1 {
			t.Fatalf("mark one = %d, %v", n, err)
		}
		if n, _ := b.CountNotifications(ctx, unread); n != 4 {
			t.Errorf("unread after mark one = %d, want 4", n)
		}

		// Another user's row is not touched.
		n, _ = b.UpdateNotificationRead(ctx, ReadUpdate{ID: recent[1].ID, Recipient: "ana"})
		if n != 0 {
			t.Errorf("cross-user update matched %d rows", n)
		}

		n, err = b.UpdateNotificationRead(ctx, ReadUpdate{Recipient: "marta"})
		if err != nil || n != 4 {
			t.Fatalf("mark all = %d, %v; want 4", n, err)
		}
		if n, _ := b.CountNotifications(ctx, unread); n != 0 {
			t.Errorf("unread after mark all = %d", n)
		}
		if n, _ := b.CountNotifications(ctx, NotificationFilter{Recipient: "marta"}); n != 5 {
			t.Errorf("total = %d, want 5", n)
		}
		if rows, _ := b.FetchNotifications(ctx, unread, 10); len(rows) != 0 {
			t.Errorf("unread rows = %d", len(rows))
		}
	})

	t.Run("SubjectName", func(t *testing.T) {
		if saver, ok := b.(subjectSaver); ok {
			if err := saver.SaveSubject(ctx, &models.Subject{ID: 12, Name: "Winter coat", Owner: "ana"}); err != nil {
				t.Fatalf("SaveSubject: %v", err)
			}
			name, err := b.SubjectName(ctx, 12)
			if err != nil || name != "Winter coat" {
				t.Errorf("SubjectName = %q, %v", name, err)
			}
			owner, err := b.SubjectOwner(ctx, 12)
			if err != nil || owner != "ana" {
				t.Errorf("SubjectOwner = %q, %v", owner, err)
			}
		}
		name, err := b.SubjectName(ctx, 987654)
		if err != nil || name != "" {
			t.Errorf("unknown subject = %q, %v; want empty", name, err)
		}
		owner, err := b.SubjectOwner(ctx, 987654)
		if err != nil || owner != "" {
			t.Errorf("unknown subject owner = %q, %v; want empty", owner, err)
		}
	})
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
