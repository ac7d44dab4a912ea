package rollout

import "testing"

func TestPolicyOffNeverFuses(t *testing.T) {
	p := Policy{Mode: ModeOff}
	d := p.Evaluate("session-1")
	if d.Fuse || d.Shadow {
		t.Errorf("expected off mode to never fuse or shadow, got %+v", d)
	}
}

func TestPolicyOnAlwaysFuses(t *testing.T) {
	p := Policy{Mode: ModeOn}
	d := p.Evaluate("session-1")
	if !d.Fuse {
		t.Error("expected on mode to always fuse")
	}
}

func TestPolicyShadowRunsWithoutFusing(t *testing.T) {
	p := Policy{Mode: ModeShadow}
	d := p.Evaluate("session-1")
	if d.Fuse {
		t.Error("expected shadow mode to never fuse")
	}
	if !d.Shadow {
		t.Error("expected shadow mode to mark Shadow true")
	}
}

func TestPolicyCanaryIsDeterministicPerSession(t *testing.T) {
	p := Policy{Mode: ModeCanary, CanaryPercent: 50}
	first := p.Evaluate("stable-session").Fuse
	for i := 0; i < 5; i++ {
		if got := p.Evaluate("stable-session").Fuse; got != first {
			t.Fatalf("canary decision flipped across calls for the same session: %v vs %v", got, first)
		}
	}
}

func TestPolicyCanaryZeroPercentExcludesEveryone(t *testing.T) {
	p := Policy{Mode: ModeCanary, CanaryPercent: 0}
	for _, sid := range []string{"a", "b", "c", "session-xyz"} {
		if p.Evaluate(sid).Fuse {
			t.Errorf("expected 0%% canary to exclude session %q", sid)
		}
	}
}

func TestPolicyCanaryHundredPercentIncludesEveryone(t *testing.T) {
	p := Policy{Mode: ModeCanary, CanaryPercent: 100}
	for _, sid := range []string{"a", "b", "c", "session-xyz"} {
		if !p.Evaluate(sid).Fuse {
			t.Errorf("expected 100%% canary to include session %q", sid)
		}
	}
}

func TestPolicyCanaryEmptySessionNeverFuses(t *testing.T) {
	for _, pct := range []int{1, 50, 70, 100} {
		p := Policy{Mode: ModeCanary, CanaryPercent: pct}
		d := p.Evaluate("")
		if d.Fuse || d.Shadow {
			t.Errorf("expected empty session id to keyword-only at %d%% canary, got %+v", pct, d)
		}
	}
}

func TestPolicyCanaryDistributesAcrossBuckets(t *testing.T) {
	p := Policy{Mode: ModeCanary, CanaryPercent: 30}
	included := 0
	const n = 1000
	for i := 0; i < n; i++ {
		sid := string(rune('a' + i%26))
		for j := 0; j < i/26; j++ {
			sid += "x"
		}
		if p.Evaluate(sid).Fuse {
			included++
		}
	}
	if included == 0 || included == n {
		t.Errorf("expected canary at 30%% to split population, got %d/%d included", included, n)
	}
}
