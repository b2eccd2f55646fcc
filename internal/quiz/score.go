package quiz

import (
	"fmt"
	"slices"
	"strings"

	"academic-assistant/internal/domain"
)

type Result struct {
	Score int `json:"score"`
	Total int `json:"total"`
}

// Score counts exact matches between answers and each item's answer.
// Missing answers count as incorrect. Total is always len(items).
func Score(items []domain.QuizItem, answers map[int]string) Result {
	res := Result{Total: len(items)}
	for i, item := range items {
		if given, ok := answers[i]; ok && given == item.Answer {
			res.Score++
		}
	}
	return res
}

func ResultMessage(r Result) string {
	return fmt.Sprintf("You got %d out of %d correct!", r.Score, r.Total)
}

type ItemGrade struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Given    string `json:"given,omitempty"`
	Answered bool   `json:"answered"`
	Expected string `json:"expected"`
	Correct  bool   `json:"correct"`
}

type Grading struct {
	Result
	Items []ItemGrade `json:"items"`
}

// Grade scores the quiz and reports each item.
func Grade(items []domain.QuizItem, answers map[int]string) Grading {
	g := Grading{Result: Score(items, answers), Items: make([]ItemGrade, 0, len(items))}
	for i, item := range items {
		given, answered := answers[i]
		g.Items = append(g.Items, ItemGrade{
			Index:    i,
			Question: item.Question,
			Given:    given,
			Answered: answered,
			Expected: item.Answer,
			Correct:  answered && given == item.Answer,
		})
	}
	return g
}

// Issue is a data-quality problem in a generated item.
type Issue struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (i Issue) String() string {
	return fmt.Sprintf("question %d: %s", i.Index+1, i.Reason)
}

// Validate flags items a learner cannot answer correctly. The placeholder
// item is not validated.
func Validate(items []domain.QuizItem) []Issue {
	if IsPlaceholder(items) {
		return nil
	}
	var issues []Issue
	for i, item := range items {
		switch {
		case strings.TrimSpace(item.Question) == "":
			issues = append(issues, Issue{Index: i, Reason: "empty question"})
		case len(item.Options) == 0:
			issues = append(issues, Issue{Index: i, Reason: "no options"})
		case !slices.Contains(item.Options, item.Answer):
			issues = append(issues, Issue{Index: i, Reason: "answer is not one of the options"})
		}
	}
	return issues
}
