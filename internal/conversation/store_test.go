package conversation

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/donatonuis/chatsync/internal/models"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func msg(id int64, minute int) models.Message {
	return models.Message{
		ID:        id,
		Room:      "12ana",
		Username:  "ana",
		Content:   "hola",
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMerge_Idempotent(t *testing.T) {
	s := New()
	m := msg(1, 0)

	if !s.Merge(m) {
		t.Fatal("first merge should insert")
	}
	once := s.Snapshot()

	if s.Merge(m) {
		t.Error("second merge should be a no-op")
	}
	twice := s.Snapshot()

	if !equalIDs(ids(once), ids(twice)) {
		t.Errorf("snapshots differ: %v vs %v", ids(once), ids(twice))
	}
}

func TestMerge_KeepsOrderForAnyArrival(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	msgs := make([]models.Message, 20)
	for i := range msgs {
		msgs[i] = msg(int64(i+1), rng.Intn(10))
	}

	for round := 0; round < 25; round++ {
		perm := rng.Perm(len(msgs))
		s := New()
		for _, i := range perm {
			s.Merge(msgs[i])
		}
		snap := s.Snapshot()
		if len(snap) != len(msgs) {
			t.Fatalf("round %d: len = %d, want %d", round, len(snap), len(msgs))
		}
		if !sort.SliceIsSorted(snap, func(i, j int) bool {
			return snap[i].CreatedAt.Before(snap[j].CreatedAt)
		}) {
			t.Fatalf("round %d: snapshot not sorted: %v", round, ids(snap))
		}
	}
}

func TestMerge_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	s := New()
	s.Merge(msg(2, 5))
	s.Merge(msg(1, 5))
	s.Merge(msg(3, 5))

	if got := ids(s.Snapshot()); !equalIDs(got, []int64{2, 1, 3}) {
		t.Errorf("ids = %v, want [2 1 3]", got)
	}
}

func TestLoad_OnlyWhenEmpty(t *testing.T) {
	s := New()
	if !s.Load([]models.Message{msg(2, 2), msg(1, 1)}) {
		t.Fatal("Load on empty store should apply")
	}
	if got := ids(s.Snapshot()); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}

	if s.Load([]models.Message{msg(9, 0)}) {
		t.Error("Load on non-empty store should not apply")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestReconcile_SortedUniqueUnion(t *testing.T) {
	history := []models.Message{msg(1, 1), msg(2, 2), msg(4, 4)}
	live := []models.Message{msg(4, 4), msg(3, 3), msg(5, 5), msg(2, 2)}

	s := New()
	s.Merge(msg(99, 0)) // replaced wholesale
	s.Reconcile(history, live)

	if got := ids(s.Snapshot()); !equalIDs(got, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("ids = %v, want [1 2 3 4 5]", got)
	}

	// Merging after reconcile still de-duplicates against the union.
	if s.Merge(msg(3, 3)) {
		t.Error("merge of reconciled message should be a no-op")
	}
}

func TestApplyHistory_LiveBeforeHistory(t *testing.T) {
	s := New()
	// Live event for id 3 arrives before the history fetch resolves.
	s.Merge(msg(3, 3))

	s.ApplyHistory([]models.Message{msg(1, 1), msg(2, 2)})

	if got := ids(s.Snapshot()); !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}
}

func TestApplyHistory_EmptyStoreLoads(t *testing.T) {
	s := New()
	s.ApplyHistory([]models.Message{msg(2, 2), msg(1, 1)})
	if got := ids(s.Snapshot()); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}
}

func TestMerge_UnsavedDuplicateDropped(t *testing.T) {
	s := New()
	a := models.Message{Room: "12ana", Content: "hola", CreatedAt: base}
	b := models.Message{Room: "12ana", Content: "hola", CreatedAt: base, Username: "ana"}

	if !s.Merge(a) {
		t.Fatal("first unsaved message should insert")
	}
	if s.Merge(b) {
		t.Error("second unsaved message with same created_at/content/room should be dropped")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	s := New()
	s.Merge(msg(1, 1))
	snap := s.Snapshot()
	snap[0].Content = "changed"

	if s.Snapshot()[0].Content != "hola" {
		t.Error("mutating a snapshot changed the store")
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.Merge(msg(1, 1))
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Len = %d after Reset", s.Len())
	}
	if !s.Merge(msg(1, 1)) {
		t.Error("merge after Reset should insert")
	}
}
