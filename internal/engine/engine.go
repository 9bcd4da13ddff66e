package engine

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

const (
	// RoomTTL is the hard retention of a room counted from CreatedAt.
	RoomTTL      = 24 * time.Hour
	MaxOptions   = 12
	MaxSongCount = 50
)

type Status string

const (
	StatusWaiting         Status = "waiting"
	StatusStarted         Status = "started"
	StatusRoundInProgress Status = "round_in_progress"
	StatusEvaluating      Status = "evaluating"
	StatusCompleted       Status = "completed"
)

type RoundStatus string

const (
	RoundSelecting RoundStatus = "selecting"
	RoundCompleted RoundStatus = "completed"
)

type Tag struct {
	Name        string `json:"name"`
	Family      string `json:"family"`
	Description string `json:"description"`
}

type Song struct {
	ID          string `json:"songId"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	Youtube     string `json:"youtube,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

type Round struct {
	RoundNumber      int                         `json:"roundNumber"`
	SongID           string                      `json:"songId"`
	Title            string                      `json:"title"`
	Artist           string                      `json:"artist"`
	Album            string                      `json:"album,omitempty"`
	Youtube          string                      `json:"youtube,omitempty"`
	Explanation      string                      `json:"explanation,omitempty"`
	Options          []Tag                       `json:"options"`
	CorrectAnswers   []Tag                       `json:"correctAnswers,omitempty"`
	PlayerSelections map[string][]string         `json:"playerSelections"`
	Scores           map[string]float64          `json:"scores"`
	MatchingDetails  map[string][]MatchingDetail `json:"matchingDetails"`
	Status           RoundStatus                 `json:"status"`
	StartedAt        time.Time                   `json:"startedAt"`
}

type Player struct {
	UserID    string  `json:"userId"`
	Name      string  `json:"name,omitempty"`
	IsCreator bool    `json:"isCreator"`
	Score     float64 `json:"score"`
}

// State is one battle room. Apply never mutates the State it is given.
type State struct {
	Code         string          `json:"code"`
	CreatorID    string          `json:"creatorId"`
	Status       Status          `json:"status"`
	SongCount    int             `json:"songCount"`
	CurrentRound int             `json:"currentRound"`
	Players      []Player        `json:"players"`
	Rounds       []Round         `json:"rounds"`
	CreatedAt    time.Time       `json:"createdAt"`
	PlayersReady map[string]bool `json:"playersReady"`
}

type CommandType string

const (
	CmdJoin       CommandType = "Join"
	CmdSetReady   CommandType = "SetReady"
	CmdStart      CommandType = "Start"
	CmdStartRound CommandType = "StartRound"
	CmdSubmit     CommandType = "Submit"
	CmdEvaluate   CommandType = "Evaluate"
)

/*
	CmdJoin       -> EvtPlayerJoined (nothing if the player is already in the room)
	CmdSetReady   -> EvtPlayerReady
	CmdStart      -> EvtBattleStarted
	CmdStartRound -> EvtRoundStarted
	CmdSubmit     -> EvtSelectionSubmitted [-> EvtAllSubmitted]
	CmdEvaluate   -> EvtRoundEvaluated [-> EvtBattleCompleted]

	Song lookup and option sampling happen before CmdStartRound is applied, so a
	content failure never reaches the reducer.
*/

type Command struct {
	Type        CommandType
	UserID      string
	Name        string
	Ready       bool
	RoundNumber int
	TagNames    []string
	Round       *Round
}

type EventType string

const (
	EvtPlayerJoined       EventType = "PlayerJoined"
	EvtPlayerReady        EventType = "PlayerReady"
	EvtBattleStarted      EventType = "BattleStarted"
	EvtRoundStarted       EventType = "RoundStarted"
	EvtSelectionSubmitted EventType = "SelectionSubmitted"
	EvtAllSubmitted       EventType = "AllSubmitted"
	EvtRoundEvaluated     EventType = "RoundEvaluated"
	EvtBattleCompleted    EventType = "BattleCompleted"
)

type Event struct {
	Type        EventType
	UserID      string
	RoundNumber int
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	next := s.Clone()
	cmd.UserID = strings.TrimSpace(cmd.UserID)

	var (
		events []Event
		err    error
	)
	switch cmd.Type {
	case CmdJoin:
		events, err = applyJoin(&next, cmd)
	case CmdSetReady:
		events, err = applySetReady(&next, cmd)
	case CmdStart:
		events, err = applyStart(&next, cmd)
	case CmdStartRound:
		events, err = applyStartRound(&next, cmd)
	case CmdSubmit:
		events, err = applySubmit(&next, cmd)
	case CmdEvaluate:
		events, err = applyEvaluate(&next, cmd)
	default:
		err = ErrUnsupportedCommand
	}
	if err != nil {
		return nil, s, err
	}
	if len(events) == 0 {
		return nil, s, nil
	}
	return events, next, nil
}

func applyJoin(s *State, cmd Command) ([]Event, error) {
	id := cmd.UserID
	if id == "" {
		return nil, ErrMissingUser
	}
	// Re-joining is idempotent in every state.
	if s.PlayerIndex(id) >= 0 {
		return nil, nil
	}
	if s.Status != StatusWaiting {
		return nil, ErrRoomNotWaiting
	}

	s.Players = append(s.Players, Player{
		UserID:    id,
		Name:      strings.TrimSpace(cmd.Name),
		IsCreator: id == s.CreatorID,
	})
	return []Event{{Type: EvtPlayerJoined, UserID: id}}, nil
}

func applySetReady(s *State, cmd Command) ([]Event, error) {
	if cmd.UserID == "" {
		return nil, ErrMissingUser
	}
	if s.Status != StatusWaiting {
		return nil, ErrRoomNotWaiting
	}
	if s.PlayerIndex(cmd.UserID) < 0 {
		return nil, ErrPlayerNotFound
	}
	s.PlayersReady[cmd.UserID] = cmd.Ready
	return []Event{{Type: EvtPlayerReady, UserID: cmd.UserID}}, nil
}

func applyStart(s *State, cmd Command) ([]Event, error) {
	if s.Status != StatusWaiting {
		return nil, ErrWrongState
	}
	if cmd.UserID != s.CreatorID {
		return nil, ErrNotCreator
	}
	if len(s.Players) == 0 {
		return nil, ErrNoPlayers
	}
	if err := s.moveTo(StatusStarted); err != nil {
		return nil, err
	}
	return []Event{{Type: EvtBattleStarted, UserID: cmd.UserID}}, nil
}

func applyStartRound(s *State, cmd Command) ([]Event, error) {
	switch s.Status {
	case StatusCompleted:
		return nil, ErrBattleCompleted
	case StatusStarted, StatusEvaluating:
	default:
		return nil, ErrWrongState
	}
	if s.CurrentRound >= s.SongCount {
		return nil, ErrBattleCompleted
	}
	if cmd.Round == nil {
		return nil, ErrInvalidRound
	}
	if err := validateRound(*cmd.Round); err != nil {
		return nil, err
	}

	r := cmd.Round.clone()
	r.RoundNumber = s.CurrentRound + 1
	r.Status = RoundSelecting
	r.PlayerSelections = map[string][]string{}
	r.Scores = map[string]float64{}
	r.MatchingDetails = map[string][]MatchingDetail{}

	s.Rounds = append(s.Rounds, r)
	s.CurrentRound = r.RoundNumber
	if err := s.moveTo(StatusRoundInProgress); err != nil {
		return nil, err
	}
	return []Event{{Type: EvtRoundStarted, RoundNumber: r.RoundNumber}}, nil
}

func applySubmit(s *State, cmd Command) ([]Event, error) {
	if cmd.UserID == "" {
		return nil, ErrMissingUser
	}
	if s.PlayerIndex(cmd.UserID) < 0 {
		return nil, ErrPlayerNotFound
	}
	if cmd.RoundNumber < 1 || cmd.RoundNumber > len(s.Rounds) {
		return nil, ErrRoundNotFound
	}
	switch {
	case s.Status == StatusCompleted:
		return nil, ErrBattleCompleted
	case s.Status != StatusRoundInProgress, cmd.RoundNumber != s.CurrentRound:
		return nil, ErrRoundNotSelecting
	}
	round := &s.Rounds[cmd.RoundNumber-1]
	if round.Status != RoundSelecting {
		return nil, ErrRoundNotSelecting
	}
	if len(cmd.TagNames) == 0 {
		return nil, ErrEmptySelection
	}

	canonical := make(map[string]string, len(round.Options))
	for _, opt := range round.Options {
		canonical[foldName(opt.Name)] = opt.Name
	}
	selected := make([]string, 0, len(cmd.TagNames))
	for _, name := range cmd.TagNames {
		opt, ok := canonical[foldName(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
		}
		selected = append(selected, opt)
	}
	round.PlayerSelections[cmd.UserID] = selected

	events := []Event{{Type: EvtSelectionSubmitted, UserID: cmd.UserID, RoundNumber: round.RoundNumber}}
	if s.allSubmitted(round) {
		events = append(events, Event{Type: EvtAllSubmitted, RoundNumber: round.RoundNumber})
	}
	return events, nil
}

func applyEvaluate(s *State, cmd Command) ([]Event, error) {
	switch {
	case s.Status == StatusCompleted:
		return nil, ErrBattleCompleted
	case s.Status != StatusRoundInProgress, cmd.RoundNumber != s.CurrentRound:
		// A second trigger for the same round lands here.
		return nil, ErrRoundNotSelecting
	}
	round := &s.Rounds[s.CurrentRound-1]

	scores, details := Evaluate(*round, s.PlayerIDs())
	round.Scores = scores
	round.MatchingDetails = details
	round.Status = RoundCompleted
	for i := range s.Players {
		s.Players[i].Score += scores[s.Players[i].UserID]
	}

	if err := s.moveTo(StatusEvaluating); err != nil {
		return nil, err
	}
	events := []Event{{Type: EvtRoundEvaluated, RoundNumber: round.RoundNumber}}
	if s.CurrentRound < s.SongCount {
		return events, nil
	}
	// The last round passes through evaluating and ends the battle.
	if err := s.moveTo(StatusCompleted); err != nil {
		return nil, err
	}
	return append(events, Event{Type: EvtBattleCompleted}), nil
}

func validateRound(r Round) error {
	if len(r.CorrectAnswers) == 0 {
		return fmt.Errorf("%w: no correct answers", ErrInvalidRound)
	}
	names := make(map[string]bool, len(r.Options))
	for _, opt := range r.Options {
		if names[opt.Name] {
			return fmt.Errorf("%w: duplicate option %q", ErrInvalidRound, opt.Name)
		}
		names[opt.Name] = true
	}
	for _, c := range r.CorrectAnswers {
		if !names[c.Name] {
			return fmt.Errorf("%w: correct answer %q missing from options", ErrInvalidRound, c.Name)
		}
	}
	return nil
}

func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
