package chat

import "testing"

func TestConversationIDSymmetry(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"DrTZw7Kv5MeGpdVbiU4lp6Kk6nF3", "EJTfm5BLcuQjgiCUMsYTVu0BJXS2"},
		{"z", "a"},
		{"same", "same"},
	}

	for _, p := range pairs {
		ab := ConversationID(p[0], p[1])
		ba := ConversationID(p[1], p[0])
		if ab != ba {
			t.Errorf("ConversationID(%q, %q) = %q, reversed = %q", p[0], p[1], ab, ba)
		}
	}
}

func TestConversationIDDistinctPairs(t *testing.T) {
	a := ConversationID("u1", "u2")
	b := ConversationID("u1", "u3")
	if a == b {
		t.Fatalf("distinct pairs collapsed to %q", a)
	}
}

func TestConversationIDSorted(t *testing.T) {
	if got := ConversationID("beta", "alpha"); got != "alpha_beta" {
		t.Fatalf("expected alpha_beta, got %q", got)
	}
}

func TestParticipantsSorted(t *testing.T) {
	got := Participants("b", "a")
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected sorted pair, got %v", got)
	}
}
