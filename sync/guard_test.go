package sync

import (
	"testing"
	"time"
)

// TestResourceGuard_Disabled verifies zero budgets never trip
func TestResourceGuard_Disabled(t *testing.T) {
	guard := NewResourceGuard(0, 0)
	if exhaustion := guard.Check(); exhaustion != nil {
		t.Errorf("Check() = %v, want nil with no budgets", exhaustion)
	}
	if r := guard.Remaining(); r != 0 {
		t.Errorf("Remaining() = %v, want 0 with no deadline", r)
	}
}

// TestResourceGuard_TimeBudget verifies the deadline trips after expiry
func TestResourceGuard_TimeBudget(t *testing.T) {
	guard := NewResourceGuard(time.Hour, 0)
	if exhaustion := guard.Check(); exhaustion != nil {
		t.Errorf("Check() = %v before deadline, want nil", exhaustion)
	}
	if guard.Remaining() <= 0 {
		t.Error("Remaining() <= 0 before deadline")
	}

	expired := NewResourceGuard(time.Nanosecond, 0)
	time.Sleep(time.Millisecond)
	exhaustion := expired.Check()
	if exhaustion == nil {
		t.Fatal("Check() = nil after deadline")
	}
	if exhaustion.Reason == "" {
		t.Error("exhaustion has no reason")
	}
	if expired.Remaining() != 0 {
		t.Errorf("Remaining() = %v after deadline, want 0", expired.Remaining())
	}
}

// TestResourceGuard_MemoryLimit verifies an absurdly low limit trips and
// a generous one does not
func TestResourceGuard_MemoryLimit(t *testing.T) {
	tight := NewResourceGuard(0, 1) // 1MB; any Go process exceeds 90% of this
	if tight.Check() == nil {
		t.Error("Check() = nil under 1MB limit, want exhaustion")
	}

	generous := NewResourceGuard(0, 1<<20) // 1TB
	if exhaustion := generous.Check(); exhaustion != nil {
		t.Errorf("Check() = %v under 1TB limit, want nil", exhaustion)
	}
}

// TestResourceExhaustion_Error verifies the error string carries the reason
func TestResourceExhaustion_Error(t *testing.T) {
	err := &ResourceExhaustion{Reason: "time budget exceeded"}
	want := "resource exhaustion: time budget exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
