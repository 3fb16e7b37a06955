// Package session implements the session store (C5): one JSON document
// per conversation under a fixed directory, written atomically via the
// same temp-file-then-rename pattern used by the write_file tool.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northfield-labs/agentloop/pkg/message"
)

// Session is the persisted document for one conversation.
type Session struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Messages  []message.Message `json:"messages"`
}

// Store wraps a directory of "<id>.json" session documents.
type Store struct {
	Dir string
}

// New constructs a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// GetOrCreate loads the session named id if it exists, or constructs an
// empty one. When id is empty, a fresh UUID is assigned.
func (s *Store) GetOrCreate(id string) (Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := s.Load(id)
	if err == nil {
		return sess, nil
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return Session{}, err
	}

	now := now()
	return Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

// NotFoundError reports that a session file does not exist.
type NotFoundError struct {
	ID    string
	cause error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session: %q not found", e.ID)
}

// Load returns the session with the given id, or a *NotFoundError when
// the file is absent. Other I/O errors surface wrapped with the id.
func (s *Store) Load(id string) (Session, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, &NotFoundError{ID: id, cause: err}
		}
		return Session{}, fmt.Errorf("session: load %q: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("session: decode %q: %w", id, err)
	}

	if err := message.Validate(sess.Messages); err != nil {
		return Session{}, fmt.Errorf("session: %q failed message validation: %w", id, err)
	}

	return sess, nil
}

// Save updates UpdatedAt and atomically rewrites the session's file in
// full — Save is the only writer, so no partial write is ever visible.
func (s *Store) Save(sess Session) (Session, error) {
	sess.UpdatedAt = now()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Session{}, fmt.Errorf("session: create directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return Session{}, fmt.Errorf("session: encode %q: %w", sess.ID, err)
	}

	if err := atomicWrite(s.Dir, s.path(sess.ID), data); err != nil {
		return Session{}, fmt.Errorf("session: save %q: %w", sess.ID, err)
	}

	return sess, nil
}

// Delete removes the session's file. Deleting an already-absent
// session is not an error.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete %q: %w", id, err)
	}
	return nil
}

// Summary is one entry of List's result.
type Summary struct {
	ID           string     `json:"id"`
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
	MessageCount *int       `json:"messageCount,omitempty"`
}

// List enumerates every "*.json" file in the store's directory, best-
// effort reading each to populate its Summary, sorted by UpdatedAt
// descending.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(e.Name(), ".json")
		full := filepath.Join(s.Dir, e.Name())

		summary := Summary{ID: id, Path: full}

		if info, err := e.Info(); err == nil {
			summary.Size = info.Size()
		}

		if sess, err := s.Load(id); err == nil {
			createdAt := sess.CreatedAt
			updatedAt := sess.UpdatedAt
			count := len(sess.Messages)
			summary.CreatedAt = &createdAt
			summary.UpdatedAt = &updatedAt
			summary.MessageCount = &count
		}

		out = append(out, summary)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := zeroIfNil(out[i].UpdatedAt), zeroIfNil(out[j].UpdatedAt)
		return ti.After(tj)
	})

	return out, nil
}

func zeroIfNil(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ExportMarkdown renders a human-readable transcript of the session.
func (s *Store) ExportMarkdown(id string) (string, error) {
	sess, err := s.Load(id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "- Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Messages: %d\n\n", len(sess.Messages))

	for _, m := range sess.Messages {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", strings.ToUpper(string(m.Role)), strings.TrimSpace(m.Content))
	}

	return b.String(), nil
}

// PruneOlderThan deletes every session whose UpdatedAt is older than
// now-days·86400s, returning the deleted ids. A "*.json" file that
// cannot be loaded as a valid session has no known UpdatedAt and is
// deleted as well. Calling it twice in
// succession with no intervening writes returns an empty slice the
// second time.
func (s *Store) PruneOlderThan(days int) ([]string, error) {
	cutoff := now().Add(-time.Duration(days) * 24 * time.Hour)

	summaries, err := s.List()
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, summary := range summaries {
		if summary.UpdatedAt == nil || summary.UpdatedAt.Before(cutoff) {
			if err := s.Delete(summary.ID); err != nil {
				return deleted, err
			}
			deleted = append(deleted, summary.ID)
		}
	}

	return deleted, nil
}

// now is a seam so a future test harness could inject a fixed clock;
// today it is always wall-clock time.
func now() time.Time {
	return time.Now().UTC()
}

// atomicWrite writes data to a temp file beside target, then renames
// it into place — the same pattern pkg/tool/fsops uses for write_file.
func atomicWrite(dir, target string, data []byte) error {
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%s", uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}
