package session

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/northfield-labs/agentloop/pkg/message"
)

func TestGetOrCreateConstructsEmptySession(t *testing.T) {
	s := New(t.TempDir())

	sess, err := s.GetOrCreate("fresh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID != "fresh" {
		t.Fatalf("expected id %q, got %q", "fresh", sess.ID)
	}
	if len(sess.Messages) != 0 {
		t.Fatalf("expected an empty message list")
	}
}

// TestSaveLoadRoundTrip exercises the §8 round-trip property: save(s);
// load(s.id) == s modulo the UpdatedAt refresh.
func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	sess := Session{
		ID:        "abc",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Messages:  []message.Message{message.User("hello"), message.Assistant("hi", nil)},
	}

	saved, err := s.Save(sess)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load("abc")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.ID != sess.ID {
		t.Fatalf("id mismatch: %q vs %q", loaded.ID, sess.ID)
	}
	if len(loaded.Messages) != len(sess.Messages) {
		t.Fatalf("message count mismatch: %d vs %d", len(loaded.Messages), len(sess.Messages))
	}
	if !loaded.UpdatedAt.Equal(saved.UpdatedAt) {
		t.Fatalf("expected loaded UpdatedAt to match the refreshed value from Save")
	}
}

func TestLoadMissingReturnsNotFoundError(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Load("does-not-exist")
	if err == nil {
		t.Fatalf("expected an error")
	}

	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
}

// TestLoadRejectsCorruptedMessages exercises the session/toolCallId
// pairing invariant: a hand-edited file with a Tool message referencing
// a toolCallId no Assistant message produced must fail to Load rather
// than re-enter the scheduler.
func TestLoadRejectsCorruptedMessages(t *testing.T) {
	s := New(t.TempDir())

	sess := Session{
		ID:       "broken",
		Messages: []message.Message{message.Tool("calc", "missing-id", "{}")},
	}
	data, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(s.path("broken"), data, 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	if _, err := s.Load("broken"); err == nil {
		t.Fatalf("expected Load to reject a corrupted message sequence")
	}
}

func TestDeleteThenList(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Save(Session{ID: "a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Save(Session{ID: "b"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	summaries, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(summaries))
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	summaries, err = s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != "b" {
		t.Fatalf("expected only %q to remain, got %+v", "b", summaries)
	}
}

// TestPruneOlderThanIsIdempotent exercises the §8 idempotence property:
// calling PruneOlderThan twice with no intervening writes returns an
// empty slice the second time.
func TestPruneOlderThanIsIdempotent(t *testing.T) {
	s := New(t.TempDir())

	old := Session{ID: "stale", UpdatedAt: time.Now().UTC().Add(-30 * 24 * time.Hour)}
	if _, err := s.Save(old); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Save refreshes UpdatedAt to now; write the stale timestamp back directly.
	loaded, err := s.Load("stale")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded.UpdatedAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	data, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(s.path("stale"), data, 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	deleted, err := s.PruneOlderThan(7)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "stale" {
		t.Fatalf("expected [stale] deleted, got %v", deleted)
	}

	deleted, err = s.PruneOlderThan(7)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("expected no deletions on the second call, got %v", deleted)
	}
}
