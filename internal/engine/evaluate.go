package engine

import (
	"fmt"
	"slices"
)

type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchFamily MatchType = "family"
	MatchNone   MatchType = "none"
)

const (
	ExactMatchScore  = 1.0
	FamilyMatchScore = 0.5
	NoMatchScore     = 0.0
)

type MatchingDetail struct {
	UserGenre   string    `json:"userGenre"`
	MatchedWith *string   `json:"matchedWith"`
	Score       float64   `json:"score"`
	MatchType   MatchType `json:"matchType"`
	Explanation string    `json:"explanation"`
}

// Evaluate scores every player's selections for r. It reads nothing but its
// arguments, so repeated calls give identical results. Players without a
// selection get a zero score and an empty detail list; a tag selected twice is
// credited twice.
func Evaluate(r Round, playerIDs []string) (map[string]float64, map[string][]MatchingDetail) {
	ids := slices.Clone(playerIDs)
	var extra []string
	for id := range r.PlayerSelections {
		if !slices.Contains(ids, id) {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	ids = append(ids, extra...)

	families := make(map[string]string, len(r.Options))
	for _, opt := range r.Options {
		families[opt.Name] = opt.Family
	}

	scores := make(map[string]float64, len(ids))
	details := make(map[string][]MatchingDetail, len(ids))
	for _, id := range ids {
		selections := r.PlayerSelections[id]
		total := 0.0
		matched := make([]MatchingDetail, 0, len(selections))
		for _, name := range selections {
			d := matchSelection(name, families[name], r.CorrectAnswers)
			total += d.Score
			matched = append(matched, d)
		}
		scores[id] = total
		details[id] = matched
	}
	return scores, details
}

func matchSelection(name, family string, correct []Tag) MatchingDetail {
	for _, c := range correct {
		if c.Name == name {
			return MatchingDetail{
				UserGenre:   name,
				MatchedWith: &c.Name,
				Score:       ExactMatchScore,
				MatchType:   MatchExact,
				Explanation: fmt.Sprintf("%s is one of the song's tags", name),
			}
		}
	}
	if family != "" {
		for _, c := range correct {
			if c.Family == family {
				return MatchingDetail{
					UserGenre:   name,
					MatchedWith: &c.Name,
					Score:       FamilyMatchScore,
					MatchType:   MatchFamily,
					Explanation: fmt.Sprintf("%s shares the %s family with %s", name, family, c.Name),
				}
			}
		}
	}
	return MatchingDetail{
		UserGenre:   name,
		MatchedWith: nil,
		Score:       NoMatchScore,
		MatchType:   MatchNone,
		Explanation: fmt.Sprintf("%s does not match any of the song's tags", name),
	}
}
