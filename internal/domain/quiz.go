package domain

// QuizItem is one multiple-choice question. Answer is expected to be one of
// Options but generated items are not guaranteed to respect that.
type QuizItem struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}
