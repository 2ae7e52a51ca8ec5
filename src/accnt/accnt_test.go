package accnt

import (
	"testing"
	"time"
)

func TestUtaddAndSystaddAccumulate(t *testing.T) {
	var a Accnt_t
	a.Utadd(10 * time.Millisecond)
	a.Utadd(5 * time.Millisecond)
	a.Systadd(2 * time.Millisecond)

	u, s := a.Fetch()
	if u != int64(15*time.Millisecond) {
		t.Fatalf("expected 15ms user time, got %v", time.Duration(u))
	}
	if s != int64(2*time.Millisecond) {
		t.Fatalf("expected 2ms system time, got %v", time.Duration(s))
	}
}

func TestTotalSumsBoth(t *testing.T) {
	var a Accnt_t
	a.Utadd(3 * time.Second)
	a.Systadd(1 * time.Second)
	if got := a.Total(); got != 4*time.Second {
		t.Fatalf("expected 4s total, got %v", got)
	}
}

func TestAddMergesOther(t *testing.T) {
	var parent, child Accnt_t
	parent.Utadd(time.Second)
	child.Utadd(2 * time.Second)
	child.Systadd(500 * time.Millisecond)

	parent.Add(&child)

	u, s := parent.Fetch()
	if u != int64(3*time.Second) {
		t.Fatalf("expected merged user time 3s, got %v", time.Duration(u))
	}
	if s != int64(500*time.Millisecond) {
		t.Fatalf("expected merged system time 500ms, got %v", time.Duration(s))
	}
}

func TestFinishAddsRaw(t *testing.T) {
	var a Accnt_t
	a.Finish(int64(time.Second), int64(2*time.Second))
	if got := a.Total(); got != 3*time.Second {
		t.Fatalf("expected 3s after Finish, got %v", got)
	}
}
