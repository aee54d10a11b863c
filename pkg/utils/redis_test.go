package utils

import (
	"testing"
	"time"
)

func TestCallSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if callSlotAcquireScript == nil || callSlotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestNewCallSlotLimiter_Validation(t *testing.T) {
	if _, err := NewCallSlotLimiter(nil, 1, time.Minute); err == nil {
		t.Fatalf("nil client must be rejected")
	}
}
