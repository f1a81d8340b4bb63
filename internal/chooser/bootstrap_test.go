package chooser

import (
	"testing"

	"chooser/internal/domain"
)

// TestBootstrapCaughtUpAtRegistration reproduces scenario S1: a bootstrap
// SSP whose last-read offset already reached its captured target at
// Register time should never gate the stack.
func TestBootstrapCaughtUpAtRegistration(t *testing.T) {
	boot := ssp("sys", "boot", 0)
	other := ssp("sys", "other", 0)

	inner := NewRoundRobinSelector()
	s := NewBootstrappingSelector(inner, map[domain.SystemStreamPartition]string{boot: "10"})
	s.Register(boot, "10")
	s.Register(other, "")

	s.Update(env(other, "1"))
	e, ok := s.Choose()
	if !ok || e.SSP != other {
		t.Fatalf("expected immediate choose through an already-caught-up bootstrap gate, got %+v ok=%v", e, ok)
	}
}

// TestBootstrapLagsThenCatchesUp reproduces scenario S2: a bootstrap SSP
// that starts unread gates every choose until an envelope reaches the
// captured target offset, and stays gated between updates.
func TestBootstrapLagsThenCatchesUp(t *testing.T) {
	boot := ssp("sys", "boot", 0)

	inner := NewRoundRobinSelector()
	s := NewBootstrappingSelector(inner, map[domain.SystemStreamPartition]string{boot: "5"})
	s.Register(boot, domain.OffsetNone)

	if _, ok := s.Choose(); ok {
		t.Fatalf("expected gate closed before any update")
	}

	s.Update(env(boot, "3"))
	e, ok := s.Choose()
	if !ok || e.Offset != "3" {
		t.Fatalf("expected offset 3 to pass through while still lagging, got %+v ok=%v", e, ok)
	}

	// No update since the last choose: gate closes again even though the
	// stream previously produced an envelope.
	if _, ok := s.Choose(); ok {
		t.Fatalf("expected gate closed again without a fresh update")
	}

	s.Update(env(boot, "5"))
	e, ok = s.Choose()
	if !ok || e.Offset != "5" {
		t.Fatalf("expected offset 5 to clear the bootstrap target, got %+v ok=%v", e, ok)
	}

	// Bootstrap satisfied: further chooses no longer require updates.
	if _, ok := s.Choose(); ok {
		t.Fatalf("expected no more envelopes queued, got an envelope instead of a gate or empty result")
	}
}

// TestTwoBootstrapStreamsBothGate reproduces scenario S3: with two
// bootstrap SSPs, both must individually show progress since the last
// choose before either is allowed through, and both must individually
// reach their targets before the gate opens for good.
func TestTwoBootstrapStreamsBothGate(t *testing.T) {
	a := ssp("sys", "a", 0)
	b := ssp("sys", "b", 0)

	inner := NewRoundRobinSelector()
	s := NewBootstrappingSelector(inner, map[domain.SystemStreamPartition]string{
		a: "5",
		b: "5",
	})
	s.Register(a, domain.OffsetNone)
	s.Register(b, domain.OffsetNone)

	if _, ok := s.Choose(); ok {
		t.Fatalf("expected gate closed before either stream updates")
	}

	s.Update(env(a, "5"))
	if _, ok := s.Choose(); ok {
		t.Fatalf("expected gate still closed: b has not updated since the last choose")
	}

	s.Update(env(b, "5"))
	first, ok := s.Choose()
	if !ok || first.SSP != a {
		t.Fatalf("expected a (updated first) to be chosen first, got %+v ok=%v", first, ok)
	}

	second, ok := s.Choose()
	if !ok || second.SSP != b {
		t.Fatalf("expected b to be chosen once both have caught up, got %+v ok=%v", second, ok)
	}

	// Both bootstrap targets reached: the gate is permanently open now.
	s.Update(env(a, "6"))
	third, ok := s.Choose()
	if !ok || third.SSP != a {
		t.Fatalf("expected the gate to stay open after both streams caught up, got %+v ok=%v", third, ok)
	}
}
