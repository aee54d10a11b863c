package calls

import "testing"

func TestCallStatusTerminal(t *testing.T) {
	cases := map[CallStatus]bool{
		CallStatusRinging:  false,
		CallStatusActive:   false,
		CallStatusEnded:    true,
		CallStatusCanceled: true,
		CallStatusRejected: true,
		CallStatusMissed:   true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
