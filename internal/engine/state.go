package engine

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

func NewState(code, creatorID string, songCount int, createdAt time.Time) (State, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return State{}, ErrMissingUser
	}
	if songCount < 1 || songCount > MaxSongCount {
		return State{}, ErrInvalidSongCount
	}
	return State{
		Code:         code,
		CreatorID:    creatorID,
		Status:       StatusWaiting,
		SongCount:    songCount,
		CurrentRound: 0,
		Players:      []Player{},
		Rounds:       []Round{},
		CreatedAt:    createdAt,
		PlayersReady: map[string]bool{},
	}, nil
}

// Clone returns a deep copy that shares no maps or slices with s.
func (s State) Clone() State {
	c := s
	c.Players = slices.Clone(s.Players)
	if c.Players == nil {
		c.Players = []Player{}
	}
	c.PlayersReady = maps.Clone(s.PlayersReady)
	if c.PlayersReady == nil {
		c.PlayersReady = map[string]bool{}
	}
	c.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		c.Rounds[i] = r.clone()
	}
	return c
}

func (r Round) clone() Round {
	c := r
	c.Options = slices.Clone(r.Options)
	c.CorrectAnswers = slices.Clone(r.CorrectAnswers)
	c.PlayerSelections = make(map[string][]string, len(r.PlayerSelections))
	for id, sel := range r.PlayerSelections {
		c.PlayerSelections[id] = slices.Clone(sel)
	}
	c.Scores = maps.Clone(r.Scores)
	if c.Scores == nil {
		c.Scores = map[string]float64{}
	}
	c.MatchingDetails = make(map[string][]MatchingDetail, len(r.MatchingDetails))
	for id, details := range r.MatchingDetails {
		c.MatchingDetails[id] = slices.Clone(details)
	}
	return c
}

func (s State) PlayerIndex(userID string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.UserID == userID })
}

func (s State) Player(userID string) (Player, bool) {
	if i := s.PlayerIndex(userID); i >= 0 {
		return s.Players[i], true
	}
	return Player{}, false
}

func (s State) PlayerIDs() []string {
	ids := make([]string, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.UserID
	}
	return ids
}

func (s State) allSubmitted(r *Round) bool {
	for _, p := range s.Players {
		if len(r.PlayerSelections[p.UserID]) == 0 {
			return false
		}
	}
	return true
}

func (s State) Expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) > RoomTTL
}

// ViewFor masks what viewerID must not see yet: while a round is selecting,
// its correct answers and everyone else's selections are withheld.
func (s State) ViewFor(viewerID string) State {
	v := s.Clone()
	for i := range v.Rounds {
		r := &v.Rounds[i]
		if r.Status != RoundSelecting {
			continue
		}
		r.CorrectAnswers = nil
		for id := range r.PlayerSelections {
			if id != viewerID {
				delete(r.PlayerSelections, id)
			}
		}
	}
	return v
}

// Leaderboard orders players by score, keeping join order on ties.
func (s State) Leaderboard() []Player {
	board := slices.Clone(s.Players)
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Score > board[j].Score
	})
	return board
}
