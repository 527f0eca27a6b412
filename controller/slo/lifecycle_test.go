package slo

import (
	"context"
	"testing"
	"time"

	"github.com/sloscope/sloscope/pkg/problem"
)

func newLifecycle() (*Lifecycle, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewLifecycle(repo, DefaultTierTargets()), repo
}

func TestAcceptActivatesTierDefaults(t *testing.T) {
	lc, repo := newLifecycle()
	ctx := context.Background()

	result, err := lc.Apply(ctx, "payment-service", &TransitionRequest{
		Action: ActionAccept, SelectedTier: TierBalanced, Actor: "sre-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Active == nil || *result.Active.AvailabilityTargetPct != 99.9 {
		t.Fatalf("balanced accept must set 99.9, got %+v", result.Active)
	}
	if *result.Active.LatencyP95TargetMS != 200 || *result.Active.LatencyP99TargetMS != 800 {
		t.Fatalf("unexpected latency targets: %+v", result.Active)
	}
	if result.Active.Source != SourceRecommendationAccepted {
		t.Fatalf("unexpected source %s", result.Active.Source)
	}

	active, err := repo.GetActive(ctx, "payment-service")
	if err != nil {
		t.Fatal(err)
	}
	if *active.AvailabilityTargetPct != 99.9 {
		t.Fatalf("GetActive after accept: got %+v", active)
	}
}

func TestModifyOverlaysAndRecordsDelta(t *testing.T) {
	lc, repo := newLifecycle()
	ctx := context.Background()

	result, err := lc.Apply(ctx, "checkout", &TransitionRequest{
		Action:       ActionModify,
		SelectedTier: TierAggressive,
		Actor:        "sre-2",
		Modifications: map[string]float64{
			ModAvailabilityTarget: 99.9,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if *result.Active.AvailabilityTargetPct != 99.9 {
		t.Fatalf("modification not applied: %+v", result.Active)
	}
	if *result.Active.LatencyP95TargetMS != 150 {
		t.Fatalf("unmodified fields must keep tier defaults: %+v", result.Active)
	}
	delta := result.Entry.ModificationDelta[ModAvailabilityTarget]
	if delta > -0.049 || delta < -0.051 {
		t.Fatalf("expected delta about -0.05, got %f", delta)
	}

	history, err := repo.History(ctx, "checkout")
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one history entry, got %d (%v)", len(history), err)
	}
	if history[0].Action != ActionModify {
		t.Fatalf("unexpected action %s", history[0].Action)
	}
}

func TestRejectLeavesActiveUntouched(t *testing.T) {
	lc, repo := newLifecycle()
	ctx := context.Background()

	if _, err := lc.Apply(ctx, "svc", &TransitionRequest{
		Action: ActionAccept, SelectedTier: TierConservative, Actor: "a",
	}); err != nil {
		t.Fatal(err)
	}
	before, _ := repo.GetActive(ctx, "svc")

	if _, err := lc.Apply(ctx, "svc", &TransitionRequest{
		Action: ActionReject, SelectedTier: TierAggressive, Actor: "b",
		Rationale: "too aggressive for now",
	}); err != nil {
		t.Fatal(err)
	}

	after, err := repo.GetActive(ctx, "svc")
	if err != nil {
		t.Fatal(err)
	}
	if *after.AvailabilityTargetPct != *before.AvailabilityTargetPct || after.SelectedTier != before.SelectedTier {
		t.Fatalf("reject changed the active SLO: before %+v after %+v", before, after)
	}

	history, _ := repo.History(ctx, "svc")
	if len(history) != 2 || history[0].Action != ActionReject {
		t.Fatalf("reject must still append to history, got %+v", history)
	}
}

func TestPreviousSnapshotCapturesStateBeforeTransition(t *testing.T) {
	lc, repo := newLifecycle()
	ctx := context.Background()

	if _, err := lc.Apply(ctx, "svc", &TransitionRequest{
		Action: ActionAccept, SelectedTier: TierConservative, Actor: "a",
	}); err != nil {
		t.Fatal(err)
	}
	result, err := lc.Apply(ctx, "svc", &TransitionRequest{
		Action: ActionAccept, SelectedTier: TierBalanced, Actor: "a",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Entry.PreviousSLO == nil || *result.Entry.PreviousSLO.AvailabilityTargetPct != 99.5 {
		t.Fatalf("previous snapshot missing or wrong: %+v", result.Entry.PreviousSLO)
	}
	if *result.Entry.NewSLO.AvailabilityTargetPct != 99.9 {
		t.Fatalf("new snapshot wrong: %+v", result.Entry.NewSLO)
	}

	_, err = repo.GetActive(ctx, "other")
	if !problem.IsKind(err, problem.NotFound) {
		t.Fatalf("expected NotFound for service without SLO, got %v", err)
	}
}

func TestHistoryNewestFirstWithSeqTieBreak(t *testing.T) {
	lc, repo := newLifecycle()
	ctx := context.Background()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.Now = func() time.Time { return fixed }

	for _, tier := range []Tier{TierConservative, TierBalanced, TierAggressive} {
		if _, err := lc.Apply(ctx, "svc", &TransitionRequest{
			Action: ActionAccept, SelectedTier: tier, Actor: "a",
		}); err != nil {
			t.Fatal(err)
		}
	}

	history, err := repo.History(ctx, "svc")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	// identical timestamps: insertion order must be preserved, newest first
	for i := 0; i < len(history)-1; i++ {
		if history[i].Seq < history[i+1].Seq {
			t.Fatalf("history not newest-first by seq: %d before %d", history[i].Seq, history[i+1].Seq)
		}
	}
	if history[0].SelectedTier != TierAggressive {
		t.Fatalf("newest entry should be the aggressive accept, got %s", history[0].SelectedTier)
	}
}

func TestApplyValidation(t *testing.T) {
	lc, _ := newLifecycle()
	ctx := context.Background()

	testCases := []*TransitionRequest{
		{Action: ActionAccept, SelectedTier: TierBalanced},                             // missing actor
		{Action: ActionAccept, SelectedTier: "gold", Actor: "a"},                       // unknown tier
		{Action: "promote", SelectedTier: TierBalanced, Actor: "a"},                    // unknown action
		{Action: ActionModify, SelectedTier: TierBalanced, Actor: "a"},                 // modify without modifications
		{Action: ActionModify, SelectedTier: TierBalanced, Actor: "a", Modifications: map[string]float64{"error_rate": 1}}, // unknown key
	}
	for _, req := range testCases {
		if _, err := lc.Apply(ctx, "svc", req); !problem.IsKind(err, problem.Invalid) {
			t.Fatalf("request %+v: expected Invalid, got %v", req, err)
		}
	}
}
