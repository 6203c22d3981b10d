package history

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/scope"
	"github.com/donatonuis/chatsync/internal/store"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func subject(id int64) *int64 { return &id }

// fakeSource filters an in-memory table like the backend does.
type fakeSource struct {
	rows    []models.Message
	err     error
	filters []store.MessageFilter
}

func (f *fakeSource) FetchMessages(ctx context.Context, filter store.MessageFilter) ([]models.Message, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	out := []models.Message{}
	for _, m := range f.rows {
		if len(filter.Rooms) > 0 && !slices.Contains(filter.Rooms, m.Room) {
			continue
		}
		if filter.SubjectID != nil && (m.PrendaID == nil || *m.PrendaID != *filter.SubjectID) {
			continue
		}
		if filter.Participant != "" && m.Username != filter.Participant && m.UserDestino != filter.Participant {
			continue
		}
		out = append(out, m)
	}
	if filter.Descending {
		slices.Reverse(out)
	}
	return out, nil
}

// The table as stored: rows are not in created_at order.
func table() []models.Message {
	return []models.Message{
		{ID: 4, Room: "12ana", Username: "ana", UserDestino: "pedro", PrendaID: subject(12), Content: "four", CreatedAt: at(4)},
		{ID: 1, Room: "12", Username: "ana", UserDestino: "pedro", PrendaID: subject(12), Content: "legacy one", CreatedAt: at(1)},
		{ID: 2, Room: "12", Username: "luis", UserDestino: "pedro", PrendaID: subject(12), Content: "legacy other", CreatedAt: at(2)},
		{ID: 3, Room: "12ana", Username: "pedro", UserDestino: "ana", PrendaID: subject(12), Content: "three", CreatedAt: at(3)},
		{ID: 5, Room: "12luis", Username: "luis", UserDestino: "pedro", PrendaID: subject(12), Content: "five", CreatedAt: at(5)},
		{ID: 6, Room: "13ana", Username: "ana", UserDestino: "marta", PrendaID: subject(13), Content: "six", CreatedAt: at(6)},
	}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadHistory_ScopeKeyOnly(t *testing.T) {
	l := NewLoader(&fakeSource{rows: table()}, zerolog.Nop(), 0)

	got, err := l.LoadHistory(context.Background(), "12ana", nil)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if want := []int64{3, 4}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
}

func TestLoadHistory_WithParticipants(t *testing.T) {
	src := &fakeSource{rows: table()}
	l := NewLoader(src, zerolog.Nop(), 0)

	p := &scope.Participants{SubjectID: 12, Owner: "pedro", Counterpart: "ana"}
	got, err := l.LoadHistory(context.Background(), p.Key(), p)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	// Legacy row 1 is kept, legacy row 2 from a third user is not.
	if want := []int64{1, 3, 4}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if rooms := src.filters[0].Rooms; !slices.Equal(rooms, []string{"12ana", "12"}) {
		t.Errorf("queried rooms = %v", rooms)
	}
}

func TestLoadHistory_CollidingKeys(t *testing.T) {
	// pedro owns items 1 and 12; "1"+"2ana" and "12"+"ana" share one room.
	src := &fakeSource{rows: []models.Message{
		{ID: 1, Room: "12ana", Username: "pedro", UserDestino: "2ana", PrendaID: subject(1), Content: "about item 1", CreatedAt: at(1)},
		{ID: 2, Room: "12ana", Username: "ana", UserDestino: "pedro", PrendaID: subject(12), Content: "about item 12", CreatedAt: at(2)},
	}}
	l := NewLoader(src, zerolog.Nop(), 0)

	p := &scope.Participants{SubjectID: 12, Owner: "pedro", Counterpart: "ana"}
	got, err := l.LoadHistory(context.Background(), p.Key(), p)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if want := []int64{2}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
}

func TestLoadHistory_Empty(t *testing.T) {
	l := NewLoader(&fakeSource{}, zerolog.Nop(), 0)
	got, err := l.LoadHistory(context.Background(), "77nobody", nil)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty slice", got)
	}
}

func TestLoadHistory_Errors(t *testing.T) {
	cause := errors.New("connection reset")
	src := &fakeSource{err: cause}
	l := NewLoader(src, zerolog.Nop(), time.Second)

	_, err := l.LoadHistory(context.Background(), "12ana", nil)
	if !errors.Is(err, syncerr.ErrTransientFetch) || !errors.Is(err, cause) {
		t.Errorf("error = %v, want transient fetch wrapping cause", err)
	}

	_, err = l.LoadHistory(context.Background(), "", nil)
	if !errors.Is(err, syncerr.ErrValidation) {
		t.Errorf("empty key error = %v, want validation", err)
	}
	if len(src.filters) != 1 {
		t.Errorf("validation failure reached the backend")
	}
}

func TestUserRooms(t *testing.T) {
	l := NewLoader(&fakeSource{rows: table()}, zerolog.Nop(), 0)

	got, err := l.UserRooms(context.Background(), "ana")
	if err != nil {
		t.Fatalf("UserRooms: %v", err)
	}
	// Descending by table order in the fake; each room once.
	if want := []string{"13ana", "12ana", "12"}; !slices.Equal(got, want) {
		t.Errorf("rooms = %v, want %v", got, want)
	}

	if _, err := l.UserRooms(context.Background(), ""); !errors.Is(err, syncerr.ErrValidation) {
		t.Errorf("empty username error = %v", err)
	}
}

func TestThreads(t *testing.T) {
	rows := append(table(),
		models.Message{ID: 7, Room: "", Username: "marta", PrendaID: subject(12), Content: "no room", CreatedAt: at(7)},
		models.Message{ID: 8, Room: "12", Username: "pedro", PrendaID: subject(12), Content: "owner on legacy key", CreatedAt: at(8)},
	)
	l := NewLoader(&fakeSource{rows: rows}, zerolog.Nop(), 0)

	threads, err := l.Threads(context.Background(), 12, "pedro")
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}

	got := make(map[string]Thread)
	var order []string
	for _, th := range threads {
		got[th.Requester] = th
		order = append(order, th.Requester)
	}
	if want := []string{"marta", "luis", "ana"}; !slices.Equal(order, want) {
		t.Fatalf("thread order = %v, want %v", order, want)
	}
	if ana := got["ana"]; !slices.Equal(ids(ana.Messages), []int64{1, 3, 4}) || ana.Last.ID != 4 || ana.Key != "12ana" {
		t.Errorf("ana thread = %v last %d key %q", ids(ana.Messages), ana.Last.ID, ana.Key)
	}
	if luis := got["luis"]; !slices.Equal(ids(luis.Messages), []int64{2, 5}) || luis.Last.ID != 5 {
		t.Errorf("luis thread = %v last %d", ids(luis.Messages), luis.Last.ID)
	}
}

func TestLoadHistory_SQLite(t *testing.T) {
	ctx := context.Background()
	backend, err := store.NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer backend.Close()

	for _, m := range table() {
		if _, err := backend.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	l := NewLoader(backend, zerolog.Nop(), time.Second)
	p := &scope.Participants{SubjectID: 12, Owner: "pedro", Counterpart: "ana"}
	got, err := l.LoadHistory(ctx, p.Key(), p)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	var contents []string
	for _, m := range got {
		contents = append(contents, m.Content)
	}
	if want := []string{"legacy one", "three", "four"}; !slices.Equal(contents, want) {
		t.Errorf("contents = %v, want %v", contents, want)
	}
}
