package domain

import "testing"

func TestReactionKeyString(t *testing.T) {
	k := ReactionKey{ChannelID: "C123", MessageTS: "1718000000.000100", Reaction: "calendar"}
	want := "C123-1718000000.000100-calendar"
	if got := k.String(); got != want {
		t.Fatalf("String() = %q; want %q", got, want)
	}
}

func TestReactionClaimTableName(t *testing.T) {
	if got := (ReactionClaim{}).TableName(); got != "reaction_claims" {
		t.Fatalf("TableName() = %q; want reaction_claims", got)
	}
}
