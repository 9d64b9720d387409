package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paramflow/pkg/domain"
)

type recordingReplayer struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
	err   error
}

func (r *recordingReplayer) Replay(_ context.Context, snapshot domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snapshot.Clone())
	return r.err
}

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func entry(id string, sec int64, snap domain.Snapshot) domain.HistoryEntry {
	return domain.HistoryEntry{ID: id, Snapshot: snap, Timestamp: at(sec)}
}

func TestRestoreTimestampReplaysWithoutAppending(t *testing.T) {
	ctx := context.Background()
	nav := &captureNavigator{}
	exec := &recordingExecutor{}
	dir := NewDirectory(WithClock(newFakeClock()), WithNavigator(nav))
	if err := dir.AttachGeneric("A", nil, generic(stringParam("a", "1"), stringParam("b", "1")), exec, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	pushed := entry("e1", 100, domain.Snapshot{"A": {"a": "7", "b": "8"}})
	dir.Journal().Push(pushed)
	if nav.count() != 1 {
		t.Fatalf("push should reach the navigator")
	}

	if err := dir.Journal().RestoreTimestamp(ctx, pushed.Timestamp); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := dir.Snapshot(); !got.Equal(pushed.Snapshot) {
		t.Fatalf("committed values %v, want %v", got, pushed.Snapshot)
	}
	if n := len(dir.Journal().Entries()); n != 1 {
		t.Fatalf("replay must not append, journal has %d entries", n)
	}
	if nav.count() != 1 {
		t.Fatalf("replay must not push navigation state")
	}
	calls := exec.Calls()
	if len(calls) != 1 || !calls[0].Equal(domain.Values{"a": "7", "b": "8"}) {
		t.Fatalf("expected a single replay commit, got %v", calls)
	}
	if err := dir.Journal().RestoreTimestamp(ctx, at(5)); !errors.Is(err, domain.ErrHistoryEntryNotFound) {
		t.Fatalf("expected ErrHistoryEntryNotFound, got %v", err)
	}
}

func TestPushTruncatesAfterCursor(t *testing.T) {
	ctx := context.Background()
	j := NewJournal(newFakeClock(), nil, &recordingReplayer{})
	for i, id := range []string{"e1", "e2", "e3"} {
		j.Push(entry(id, int64(i+1), domain.Snapshot{}))
	}
	if j.Cursor() != 2 {
		t.Fatalf("cursor should follow pushes, got %d", j.Cursor())
	}
	if err := j.RestoreIndex(ctx, 0); err != nil {
		t.Fatalf("restore: %v", err)
	}
	j.Push(entry("e4", 4, domain.Snapshot{}))
	entries := j.Entries()
	if len(entries) != 2 || entries[0].ID != "e1" || entries[1].ID != "e4" {
		t.Fatalf("unexpected entries after truncation: %v", entries)
	}
	if err := j.RestoreIndex(ctx, 7); !errors.Is(err, domain.ErrHistoryIndexOutOfRange) {
		t.Fatalf("expected ErrHistoryIndexOutOfRange, got %v", err)
	}
}

func TestRestoreEntryMatchTiers(t *testing.T) {
	ctx := context.Background()
	replayer := &recordingReplayer{}
	j := NewJournal(newFakeClock(), nil, replayer)
	snapA := domain.Snapshot{"ns": {"a": 1}}
	snapB := domain.Snapshot{"ns": {"a": 2}}
	j.Push(entry("e1", 1, snapA))
	j.Push(entry("e2", 2, snapB))

	cases := []struct {
		name       string
		entry      domain.HistoryEntry
		want       MatchKind
		wantCursor int
	}{
		{"exact timestamp", entry("x", 1, domain.Snapshot{"ns": {"a": 99}}), MatchExact, 0},
		{"structural snapshot", entry("y", 50, domain.Snapshot{"ns": {"a": 2.0}}), MatchStructural, 1},
		{"fallback", entry("z", 60, domain.Snapshot{"ns": {"a": 3}}), MatchFallback, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := j.RestoreEntry(ctx, tc.entry)
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			if kind != tc.want {
				t.Fatalf("got %s want %s", kind, tc.want)
			}
			if j.Cursor() != tc.wantCursor {
				t.Fatalf("cursor %d want %d", j.Cursor(), tc.wantCursor)
			}
		})
	}
	if n := len(j.Entries()); n != 2 {
		t.Fatalf("fallback must not mutate the journal, have %d entries", n)
	}
	last := replayer.snaps[len(replayer.snaps)-1]
	if !last.Equal(domain.Snapshot{"ns": {"a": 3}}) {
		t.Fatalf("fallback should replay the entry's own values, got %v", last)
	}
}

func TestRestoreFailureKeepsCursor(t *testing.T) {
	replayer := &recordingReplayer{}
	j := NewJournal(newFakeClock(), nil, replayer)
	j.Push(entry("e1", 1, domain.Snapshot{}))
	j.Push(entry("e2", 2, domain.Snapshot{}))
	replayer.err = errBackend
	if err := j.RestoreIndex(context.Background(), 0); !errors.Is(err, errBackend) {
		t.Fatalf("expected replay error, got %v", err)
	}
	if j.Cursor() != 1 {
		t.Fatalf("cursor moved despite failure: %d", j.Cursor())
	}
}

func TestUndoRedoThroughDirectory(t *testing.T) {
	ctx := context.Background()
	nav := &captureNavigator{}
	dir := NewDirectory(WithClock(newFakeClock()), WithNavigator(nav))
	if err := dir.AttachGeneric("A", acceptRejectAll, generic(stringParam("a", "1")), &recordingExecutor{}, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	dir.SeedHistory()
	if nav.count() != 0 {
		t.Fatalf("seeding must not push navigation state")
	}
	cell := mustCell(t, dir, "A", "a")
	for _, v := range []string{"2", "3"} {
		cell.SetUiValue(v)
		if err := dir.Accept(ctx, "A", false); err != nil {
			t.Fatalf("accept %s: %v", v, err)
		}
	}
	j := dir.Journal()
	if len(j.Entries()) != 3 || nav.count() != 2 {
		t.Fatalf("expected seed + 2 entries, got %d (nav %d)", len(j.Entries()), nav.count())
	}
	if j.CanRedo() || !j.CanUndo() {
		t.Fatalf("at the newest entry")
	}
	if err := j.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if cell.State().ExecValue != "2" {
		t.Fatalf("undo should restore 2, got %v", cell.State().ExecValue)
	}
	if err := j.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if cell.State().ExecValue != "1" {
		t.Fatalf("undo should restore the seed value")
	}
	if err := j.Undo(ctx); !errors.Is(err, domain.ErrHistoryIndexOutOfRange) {
		t.Fatalf("expected out of range past the seed, got %v", err)
	}
	if err := j.Redo(ctx); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if cell.State().ExecValue != "2" || len(j.Entries()) != 3 {
		t.Fatalf("redo should restore 2 without appending")
	}
}

func TestHandleNavigationUsesEntryFromHost(t *testing.T) {
	ctx := context.Background()
	nav := &captureNavigator{}
	dir := NewDirectory(WithClock(newFakeClock()), WithNavigator(nav))
	if err := dir.AttachGeneric("A", acceptRejectAll, generic(stringParam("a", "1")), &recordingExecutor{}, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	cell := mustCell(t, dir, "A", "a")
	cell.SetUiValue("2")
	if err := dir.Accept(ctx, "A", false); err != nil {
		t.Fatalf("accept: %v", err)
	}
	cell.SetUiValue("3")
	if err := dir.Accept(ctx, "A", false); err != nil {
		t.Fatalf("accept: %v", err)
	}
	kind, err := dir.HandleNavigation(ctx, nav.entries[0])
	if err != nil || kind != MatchExact {
		t.Fatalf("expected exact match, got %s %v", kind, err)
	}
	if cell.State().ExecValue != "2" {
		t.Fatalf("navigation should restore 2")
	}

	dir.Journal().Clear()
	kind, err = dir.HandleNavigation(ctx, nav.entries[1])
	if err != nil || kind != MatchFallback {
		t.Fatalf("expected fallback after clear, got %s %v", kind, err)
	}
	if cell.State().ExecValue != "3" || len(dir.Journal().Entries()) != 0 {
		t.Fatalf("fallback should replay without recording")
	}
}

func TestMatchKindString(t *testing.T) {
	if MatchExact.String() != "exact" || MatchStructural.String() != "structural" || MatchFallback.String() != "fallback" {
		t.Fatalf("unexpected names")
	}
	if MatchKind(9).String() != "MatchKind(9)" {
		t.Fatalf("unexpected fallback name")
	}
}
