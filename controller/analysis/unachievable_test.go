package analysis

import "testing"

func TestCheckAchievabilityAchievable(t *testing.T) {
	if w := CheckAchievability(99.9, 0.9995, 2); w != nil {
		t.Fatalf("target below the bound should be achievable: %+v", w)
	}
}

func TestCheckAchievabilityExactBound(t *testing.T) {
	// equality within float error counts as achievable
	if w := CheckAchievability(99.9, 0.999, 2); w != nil {
		t.Fatalf("target equal to the bound should be achievable: %+v", w)
	}
}

func TestCheckAchievabilityUnachievable(t *testing.T) {
	// composite of two 99.99%% deps plus self cannot support 99.99%%
	bound := 0.9999 * 0.9999 * 0.9999
	w := CheckAchievability(99.99, bound, 2)
	if w == nil {
		t.Fatal("expected a warning")
	}
	almost(t, w.GapPct, 99.99-bound*100, 1e-9)
	almost(t, w.RequiredPerDependencyPct, (1-(1-0.9999)/3)*100, 1e-9)
	if len(w.Remediation) != 3 {
		t.Fatalf("expected three remediation items, got %v", w.Remediation)
	}
}
