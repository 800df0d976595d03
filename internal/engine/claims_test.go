package engine_test

import (
	"fmt"
	"sync"
	"testing"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/repo"
)

func TestClaimAssignsWithoutTouchingStatus(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "claim me"})

	claimed, err := env.Engine.Claim(env.Ctx, issue.ID, "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Assignee != "agent-1" {
		t.Fatalf("assignee = %q", claimed.Assignee)
	}
	if claimed.Status != issue.Status {
		t.Fatalf("claim changed status: %s -> %s", issue.Status, claimed.Status)
	}

	// Re-claiming your own issue is a no-op success.
	if _, err := env.Engine.Claim(env.Ctx, issue.ID, "agent-1"); err != nil {
		t.Fatalf("re-claim by holder: %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, issue.ID, "agent-2"); !domain.IsConflict(err) {
		t.Fatalf("second claim: got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, "tk-ghost", "agent-1"); !domain.IsNotFound(err) {
		t.Fatalf("missing issue: got %v", err)
	}
}

func TestClaimRequiresOpenCategory(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "already moving"})
	inProgress := "in_progress"
	if _, err := env.Engine.Update(env.Ctx, issue.ID, engine.UpdateOptions{Status: &inProgress, Actor: "tester"}); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, issue.ID, "agent-1"); !domain.IsConflict(err) {
		t.Fatalf("claim of wip issue: got %v", err)
	}
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "contested"})

	const agents = 8
	var wg sync.WaitGroup
	errs := make([]error, agents)
	for n := 0; n < agents; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = env.Engine.Claim(env.Ctx, issue.ID, fmt.Sprintf("agent-%d", n))
		}(n)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case domain.IsConflict(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestClaimNextFollowsReadyOrder(t *testing.T) {
	env := newTestEnv(t)
	low := 3
	high := 0
	env.mustCreate(t, engine.CreateOptions{Title: "low", Priority: &low})
	urgent := env.mustCreate(t, engine.CreateOptions{Title: "urgent", Priority: &high})
	blockedDep := env.mustCreate(t, engine.CreateOptions{Title: "blocker", Priority: &low})
	env.mustCreate(t, engine.CreateOptions{Title: "gated", Priority: &high, DependsOn: []string{blockedDep.ID}})

	got, ok, err := env.Engine.ClaimNext(env.Ctx, "agent-1", repo.IssueFilter{})
	if err != nil || !ok {
		t.Fatalf("claim next: ok=%v err=%v", ok, err)
	}
	// The gated issue has higher priority but an open blocker.
	if got.ID != urgent.ID {
		t.Fatalf("claimed %s, want %s", got.ID, urgent.ID)
	}
}

func TestClaimNextHonorsFilters(t *testing.T) {
	env := newTestEnv(t)
	high := 0
	env.mustCreate(t, engine.CreateOptions{Title: "urgent task", Priority: &high})
	wanted := env.mustCreate(t, engine.CreateOptions{Title: "lesser bug", Type: "bug"})
	tagged := env.mustCreate(t, engine.CreateOptions{Title: "infra chore", Labels: []string{"infra"}})

	got, ok, err := env.Engine.ClaimNext(env.Ctx, "agent-1", repo.IssueFilter{Type: "bug"})
	if err != nil || !ok {
		t.Fatalf("claim next bug: ok=%v err=%v", ok, err)
	}
	if got.ID != wanted.ID {
		t.Fatalf("claimed %s, want %s", got.ID, wanted.ID)
	}

	got, ok, err = env.Engine.ClaimNext(env.Ctx, "agent-2", repo.IssueFilter{Label: "infra"})
	if err != nil || !ok {
		t.Fatalf("claim next labeled: ok=%v err=%v", ok, err)
	}
	if got.ID != tagged.ID {
		t.Fatalf("claimed %s, want %s", got.ID, tagged.ID)
	}

	// A filter nothing matches claims nothing.
	_, ok, err = env.Engine.ClaimNext(env.Ctx, "agent-3", repo.IssueFilter{Type: "epic"})
	if err != nil {
		t.Fatalf("claim next epic: %v", err)
	}
	if ok {
		t.Fatalf("filter with no matches claimed an issue")
	}
}

func TestClaimNextEmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	_, ok, err := env.Engine.ClaimNext(env.Ctx, "agent-1", repo.IssueFilter{})
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	if ok {
		t.Fatalf("expected empty queue")
	}
}

func TestRelease(t *testing.T) {
	env := newTestEnv(t)
	issue := env.mustCreate(t, engine.CreateOptions{Title: "held"})
	if _, err := env.Engine.Claim(env.Ctx, issue.ID, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := env.Engine.Release(env.Ctx, issue.ID, "agent-2"); !domain.IsConflict(err) {
		t.Fatalf("release by non-holder: got %v", err)
	}

	released, err := env.Engine.Release(env.Ctx, issue.ID, "agent-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Assignee != "" {
		t.Fatalf("assignee = %q, want empty", released.Assignee)
	}

	if _, err := env.Engine.Release(env.Ctx, issue.ID, "agent-1"); !domain.IsConflict(err) {
		t.Fatalf("release unclaimed: got %v", err)
	}
}
