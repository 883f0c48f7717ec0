package game

import "globetrotter/internal/app/gateway"

// OptionView is one choice as the player sees it.
type OptionView struct {
	ID      int64  `json:"id"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// RoundView is a round as sent to the browser. Until the round is answered it
// carries only the clues, so the target cannot be read off the payload.
type RoundView struct {
	Clues        []string              `json:"clues"`
	Options      []OptionView          `json:"options"`
	UserAnswer   string                `json:"userAnswer,omitempty"`
	AnswerResult *gateway.AnswerResult `json:"answerResult,omitempty"`

	// Destination is revealed once the answer has been checked.
	Destination *gateway.Destination `json:"destination,omitempty"`
}

// StateView is the browser-facing form of State.
type StateView struct {
	Phase   Phase      `json:"phase"`
	Loading bool       `json:"loading"`
	Round   *RoundView `json:"round"`
	Score   Score      `json:"score"`
	Error   string     `json:"error,omitempty"`
}

// View converts s for the browser.
func (s State) View() StateView {
	v := StateView{
		Phase:   s.Phase,
		Loading: s.Phase == PhaseLoading,
		Score:   s.Score,
		Error:   s.Error,
	}
	if s.Round == nil {
		return v
	}

	r := &RoundView{
		Clues:      s.Round.Target.Clues,
		Options:    make([]OptionView, 0, len(s.Round.Options)),
		UserAnswer: s.Round.Answer,
	}
	for _, o := range s.Round.Options {
		r.Options = append(r.Options, OptionView{ID: o.ID, City: o.City, Country: o.Country})
	}
	if s.Round.Result != nil {
		res := *s.Round.Result
		target := s.Round.Target
		r.AnswerResult = &res
		r.Destination = &target
	}
	v.Round = r
	return v
}
