package domain

import "testing"

func u(v uint64) *uint64 { return &v }

func TestResolveDuplicateTrustedTSAWins(t *testing.T) {
	tokens := []TokenRecord{
		{ID: "late-register-early-create", TSATimestamp: u(1000), TSAPubkeyHash: "trusted", BlockTime: 2000},
		{ID: "early-register-late-create", BlockTime: 1500},
	}
	winner := ResolveDuplicate(tokens, []string{"trusted"})
	if winner == nil || winner.ID != "late-register-early-create" {
		t.Fatalf("winner: %+v", winner)
	}
}

func TestResolveDuplicateUntrustedTSAIgnored(t *testing.T) {
	tokens := []TokenRecord{
		{ID: "untrusted-tsa", TSATimestamp: u(500), TSAPubkeyHash: "unknown", BlockTime: 2000},
		{ID: "no-tsa-but-earlier", BlockTime: 1000},
	}
	winner := ResolveDuplicate(tokens, []string{"other"})
	if winner == nil || winner.ID != "no-tsa-but-earlier" {
		t.Fatalf("winner: %+v", winner)
	}
}

func TestResolveDuplicateBurnedExcluded(t *testing.T) {
	tokens := []TokenRecord{
		{ID: "burned", TSATimestamp: u(100), BlockTime: 100, Burned: true},
		{ID: "active", BlockTime: 500},
	}
	winner := ResolveDuplicate(tokens, nil)
	if winner == nil || winner.ID != "active" {
		t.Fatalf("winner: %+v", winner)
	}
}

func TestResolveDuplicateTieBreaksOnBlockTime(t *testing.T) {
	tokens := []TokenRecord{
		{ID: "later", TSATimestamp: u(1000), BlockTime: 2000},
		{ID: "earlier", TSATimestamp: u(1000), BlockTime: 1000},
	}
	winner := ResolveDuplicate(tokens, nil)
	if winner == nil || winner.ID != "earlier" {
		t.Fatalf("winner: %+v", winner)
	}
}

func TestResolveDuplicateAllBurned(t *testing.T) {
	tokens := []TokenRecord{{ID: "burned", BlockTime: 100, Burned: true}}
	if winner := ResolveDuplicate(tokens, nil); winner != nil {
		t.Fatalf("expected nil winner, got %+v", winner)
	}
}
