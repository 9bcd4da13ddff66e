// Package types holds the JSON shapes returned to HTTP clients.
package types

// Tag mirrors a content tag on the wire.
type Tag struct {
	Name        string `json:"name"`
	Family      string `json:"family"`
	Description string `json:"description"`
}

// BattleData is one single-player question:
//
//	type:           tag category being asked about ("genre", "mood", ...)
//	youtube:        link to the song, may be empty
//	question:       prompt shown to the player
//	options:        shuffled choices, correct answers included
//	correctAnswers: the song's tags in the category
type BattleData struct {
	Type           string `json:"type"`
	Youtube        string `json:"youtube"`
	Title          string `json:"title"`
	Artist         string `json:"artist"`
	Album          string `json:"album"`
	Explanation    string `json:"explanation"`
	Question       string `json:"question"`
	Options        []Tag  `json:"options"`
	CorrectAnswers []Tag  `json:"correctAnswers"`
}

type CreateBattleResponse struct {
	Code string `json:"code"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
