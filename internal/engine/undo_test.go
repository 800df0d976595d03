package engine_test

import (
	"testing"
	"time"

	"taskline/internal/domain"
	"taskline/internal/engine"
)

func TestUndoRestoresPriority(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "tune me"})

	p := 0
	if _, err := env.Engine.Update(env.Ctx, issue.ID, engine.UpdateOptions{Priority: &p, Actor: "tester"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	res, err := env.Engine.UndoLast(env.Ctx, issue.ID, "tester")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !res.Undone {
		t.Fatalf("undo refused: %s", res.Reason)
	}
	if res.Event == nil || res.Event.EventType != domain.EventPriorityChanged {
		t.Fatalf("undone event = %+v", res.Event)
	}
	got, _ := env.Engine.Get(env.Ctx, issue.ID)
	if got.Priority != 2 {
		t.Fatalf("priority = %d, want 2", got.Priority)
	}

	// The reverted event is spent; nothing else is reversible.
	res, err = env.Engine.UndoLast(env.Ctx, issue.ID, "tester")
	if err != nil {
		t.Fatalf("second undo: %v", err)
	}
	if res.Undone {
		t.Fatalf("second undo should refuse, got %+v", res)
	}
}

func TestUndoStatusSkipsTransitionValidation(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "broken build", Type: "bug"})
	inProgress := "in_progress"
	if _, err := env.Engine.Update(env.Ctx, issue.ID, engine.UpdateOptions{Status: &inProgress, Actor: "tester"}); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	closed := "closed"
	if _, err := env.Engine.Update(env.Ctx, issue.ID, engine.UpdateOptions{
		Status: &closed, Fields: map[string]string{"resolution": "fixed"}, Actor: "tester",
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	res, err := env.Engine.UndoLast(env.Ctx, issue.ID, "tester")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !res.Undone {
		t.Fatalf("undo refused: %s", res.Reason)
	}
	got, _ := env.Engine.Get(env.Ctx, issue.ID)
	if got.Status != "in_progress" {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
}

func TestUndoClose(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "done too soon"})
	if _, err := env.Engine.Close(env.Ctx, issue.ID, "oops", "tester"); err != nil {
		t.Fatalf("close: %v", err)
	}

	res, err := env.Engine.UndoLast(env.Ctx, issue.ID, "tester")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !res.Undone {
		t.Fatalf("undo refused: %s", res.Reason)
	}
	got, _ := env.Engine.Get(env.Ctx, issue.ID)
	if got.Status != "open" || got.ClosedAt != nil || got.CloseReason != "" {
		t.Fatalf("close not fully reverted: %+v", got)
	}
}

func TestUndoWithNoHistory(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "fresh"})

	res, err := env.Engine.UndoLast(env.Ctx, issue.ID, "tester")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if res.Undone {
		t.Fatalf("creation must not be undoable")
	}
	if _, err := env.Engine.UndoLast(env.Ctx, "tk-ghost", "tester"); !domain.IsNotFound(err) {
		t.Fatalf("missing issue: got %v", err)
	}
}

func TestArchiveClosed(t *testing.T) {
	env := newTestEnv(t)
	old := env.mustCreate(t, engine.CreateOptions{Title: "ancient"})
	if _, err := env.Engine.Close(env.Ctx, old.ID, "", "tester"); err != nil {
		t.Fatalf("close: %v", err)
	}
	stillOpen := env.mustCreate(t, engine.CreateOptions{Title: "active"})

	cutoff := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	ids, err := env.Engine.ArchiveClosed(env.Ctx, cutoff, "tester")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Fatalf("archived = %v", ids)
	}
	got, _ := env.Engine.Get(env.Ctx, old.ID)
	if got.Status != "archived" || got.Category != "done" {
		t.Fatalf("archived issue: %+v", got)
	}
	got, _ = env.Engine.Get(env.Ctx, stillOpen.ID)
	if got.Status != "open" {
		t.Fatalf("open issue touched: %+v", got)
	}

	// Second pass finds nothing.
	ids, err = env.Engine.ArchiveClosed(env.Ctx, cutoff, "tester")
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("re-archived: %v", ids)
	}
}

func TestCompactEvents(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "chatty"})
	for i := 0; i <= 4; i++ {
		p := i % 5
		if _, err := env.Engine.Update(env.Ctx, issue.ID, engine.UpdateOptions{Priority: &p, Actor: "tester"}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	if _, err := env.Engine.CompactEvents(env.Ctx, issue.ID, 2, "tester"); !domain.IsConflict(err) {
		t.Fatalf("compacting an active issue: got %v", err)
	}
	if _, err := env.Engine.Close(env.Ctx, issue.ID, "", "tester"); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Closed is not enough: only archived histories may be trimmed.
	if _, err := env.Engine.CompactEvents(env.Ctx, issue.ID, 2, "tester"); !domain.IsConflict(err) {
		t.Fatalf("compacting a closed issue: got %v", err)
	}
	cutoff := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if _, err := env.Engine.ArchiveClosed(env.Ctx, cutoff, "tester"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	removed, err := env.Engine.CompactEvents(env.Ctx, issue.ID, 2, "tester")
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if removed == 0 {
		t.Fatalf("expected rows removed")
	}
	evs, err := env.Engine.Log(env.Ctx, issue.ID, 0)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	foundCreated := false
	foundCompacted := false
	for _, ev := range evs {
		if ev.EventType == domain.EventCreated {
			foundCreated = true
		}
		if ev.EventType == domain.EventCompacted {
			foundCompacted = true
		}
	}
	if !foundCreated || !foundCompacted {
		t.Fatalf("compaction lost markers: %v", evs)
	}
}
