package engine

import (
	"testing"
	"time"
)

func TestViewFor_MasksSelectingRound(t *testing.T) {
	s := newWaitingState(t, 2, "creator", "alice")
	_, s = mustApply(t, s, Command{Type: CmdStart, UserID: "creator"})
	_, s = mustApply(t, s, Command{Type: CmdStartRound, Round: testRound()})
	_, s = mustApply(t, s, Command{Type: CmdSubmit, UserID: "creator", RoundNumber: 1, TagNames: []string{"rock"}})
	_, s = mustApply(t, s, Command{Type: CmdSubmit, UserID: "alice", RoundNumber: 1, TagNames: []string{"jazz"}})

	v := s.ViewFor("alice")
	r := v.Rounds[0]
	if r.CorrectAnswers != nil {
		t.Fatalf("correct answers leaked: %+v", r.CorrectAnswers)
	}
	if _, ok := r.PlayerSelections["creator"]; ok {
		t.Fatalf("other player's selection leaked")
	}
	if len(r.PlayerSelections["alice"]) != 1 {
		t.Fatalf("viewer's own selection should stay visible")
	}
	if len(s.Rounds[0].CorrectAnswers) != 2 || len(s.Rounds[0].PlayerSelections) != 2 {
		t.Fatalf("ViewFor mutated the source state")
	}

	_, s = mustApply(t, s, Command{Type: CmdEvaluate, RoundNumber: 1})
	done := s.ViewFor("alice").Rounds[0]
	if len(done.CorrectAnswers) != 2 || len(done.PlayerSelections) != 2 {
		t.Fatalf("completed round should be unmasked: %+v", done)
	}
}

func TestClone_SharesNothing(t *testing.T) {
	s := newWaitingState(t, 2, "creator")
	_, s = mustApply(t, s, Command{Type: CmdStart, UserID: "creator"})
	_, s = mustApply(t, s, Command{Type: CmdStartRound, Round: testRound()})

	c := s.Clone()
	c.Players[0].Score = 42
	c.Rounds[0].Options[0].Name = "changed"
	c.Rounds[0].PlayerSelections["x"] = []string{"rock"}

	if s.Players[0].Score == 42 || s.Rounds[0].Options[0].Name == "changed" {
		t.Fatalf("clone shares slices with source")
	}
	if _, ok := s.Rounds[0].PlayerSelections["x"]; ok {
		t.Fatalf("clone shares maps with source")
	}
}

func TestExpired(t *testing.T) {
	s := newWaitingState(t, 1)
	if s.Expired(created.Add(RoomTTL)) {
		t.Fatalf("room must live for the full retention window")
	}
	if !s.Expired(created.Add(RoomTTL + time.Second)) {
		t.Fatalf("room should expire after the retention window")
	}
}

func TestLeaderboard_StableOnTies(t *testing.T) {
	s := State{Players: []Player{
		{UserID: "a", Score: 1},
		{UserID: "b", Score: 2.5},
		{UserID: "c", Score: 1},
	}}
	board := s.Leaderboard()
	want := []string{"b", "a", "c"}
	for i, p := range board {
		if p.UserID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, p.UserID, want[i])
		}
	}
}
