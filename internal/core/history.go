package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paramflow/pkg/domain"
)

// MatchKind tells which tier RestoreEntry used to locate an entry.
type MatchKind int

const (
	// MatchExact found a journal entry with the same timestamp.
	MatchExact MatchKind = iota
	// MatchStructural found a journal entry with an equal snapshot.
	MatchStructural
	// MatchFallback replayed the entry without touching the journal.
	MatchFallback
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchStructural:
		return "structural"
	case MatchFallback:
		return "fallback"
	default:
		return fmt.Sprintf("MatchKind(%d)", int(k))
	}
}

// Replayer commits a snapshot without recording history.
type Replayer interface {
	Replay(ctx context.Context, snapshot domain.Snapshot) error
}

// Navigator is the host navigation collaborator. It receives every entry
// pushed by a commit and later hands it back to HandleNavigation.
type Navigator interface {
	PushState(entry domain.HistoryEntry)
}

// Journal is a linear undo/redo log of committed snapshots.
type Journal struct {
	clock     Clock
	navigator Navigator
	replayer  Replayer

	mu      sync.Mutex
	entries []domain.HistoryEntry
	cursor  int
}

// NewJournal constructs an empty journal. navigator may be nil.
func NewJournal(clock Clock, navigator Navigator, replayer Replayer) *Journal {
	if clock == nil {
		clock = systemClock{}
	}
	return &Journal{clock: clock, navigator: navigator, replayer: replayer, cursor: -1}
}

// Push drops every entry after the cursor, appends entry and moves the
// cursor onto it.
func (j *Journal) Push(entry domain.HistoryEntry) {
	j.mu.Lock()
	j.entries = append(j.entries[:j.cursor+1], entry)
	j.cursor = len(j.entries) - 1
	j.mu.Unlock()
	if j.navigator != nil {
		j.navigator.PushState(entry)
	}
}

// Record pushes a new entry for snapshot and returns it.
func (j *Journal) Record(snapshot domain.Snapshot) domain.HistoryEntry {
	entry := j.newEntry(snapshot)
	j.Push(entry)
	return entry
}

// Seed replaces the journal with a single base entry. The navigator is not
// told, since the host already shows that state.
func (j *Journal) Seed(snapshot domain.Snapshot) domain.HistoryEntry {
	entry := j.newEntry(snapshot)
	j.mu.Lock()
	j.entries = []domain.HistoryEntry{entry}
	j.cursor = 0
	j.mu.Unlock()
	return entry
}

func (j *Journal) newEntry(snapshot domain.Snapshot) domain.HistoryEntry {
	return domain.HistoryEntry{ID: uuid.NewString(), Snapshot: snapshot.Clone(), Timestamp: j.clock.Now()}
}

// Clear drops every entry.
func (j *Journal) Clear() {
	j.mu.Lock()
	j.entries = nil
	j.cursor = -1
	j.mu.Unlock()
}

// Entries returns a copy of the journal.
func (j *Journal) Entries() []domain.HistoryEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.HistoryEntry, len(j.entries))
	for i, e := range j.entries {
		e.Snapshot = e.Snapshot.Clone()
		out[i] = e
	}
	return out
}

// Cursor returns the index of the current entry, -1 when empty.
func (j *Journal) Cursor() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor
}

// RestoreIndex replays entry i and moves the cursor there once the replay
// succeeded.
func (j *Journal) RestoreIndex(ctx context.Context, i int) error {
	j.mu.Lock()
	if i < 0 || i >= len(j.entries) {
		n := len(j.entries)
		j.mu.Unlock()
		return fmt.Errorf("restore %d of %d: %w", i, n, domain.ErrHistoryIndexOutOfRange)
	}
	entry := j.entries[i]
	j.mu.Unlock()

	if err := j.replay(ctx, entry.Snapshot); err != nil {
		return err
	}
	j.mu.Lock()
	if i < len(j.entries) && j.entries[i].ID == entry.ID {
		j.cursor = i
	}
	j.mu.Unlock()
	return nil
}

// RestoreTimestamp restores the entry recorded at ts.
func (j *Journal) RestoreTimestamp(ctx context.Context, ts time.Time) error {
	i := j.find(func(e domain.HistoryEntry) bool { return e.Timestamp.Equal(ts) })
	if i < 0 {
		return fmt.Errorf("restore %s: %w", ts.Format(time.RFC3339Nano), domain.ErrHistoryEntryNotFound)
	}
	return j.RestoreIndex(ctx, i)
}

// RestoreEntry restores an entry handed back by host navigation. It looks
// for the same timestamp first, then for an equal snapshot; when neither
// exists it replays the entry directly and leaves the journal as it is.
func (j *Journal) RestoreEntry(ctx context.Context, entry domain.HistoryEntry) (MatchKind, error) {
	if i := j.find(func(e domain.HistoryEntry) bool { return e.Timestamp.Equal(entry.Timestamp) }); i >= 0 {
		return MatchExact, j.RestoreIndex(ctx, i)
	}
	if i := j.find(func(e domain.HistoryEntry) bool { return e.Snapshot.Equal(entry.Snapshot) }); i >= 0 {
		return MatchStructural, j.RestoreIndex(ctx, i)
	}
	return MatchFallback, j.replay(ctx, entry.Snapshot)
}

// CanUndo reports whether an earlier entry exists.
func (j *Journal) CanUndo() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor > 0
}

// CanRedo reports whether a later entry exists.
func (j *Journal) CanRedo() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor >= 0 && j.cursor < len(j.entries)-1
}

// Undo restores the entry before the cursor.
func (j *Journal) Undo(ctx context.Context) error {
	return j.RestoreIndex(ctx, j.Cursor()-1)
}

// Redo restores the entry after the cursor.
func (j *Journal) Redo(ctx context.Context) error {
	return j.RestoreIndex(ctx, j.Cursor()+1)
}

func (j *Journal) find(match func(domain.HistoryEntry) bool) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if match(e) {
			return i
		}
	}
	return -1
}

func (j *Journal) replay(ctx context.Context, snapshot domain.Snapshot) error {
	if j.replayer == nil {
		return nil
	}
	return j.replayer.Replay(ctx, snapshot)
}
