package grading

import (
	"github.com/frankdogbe328/signals-sub000/internal/exam"
)

// Rule decides whether a student's answer earns the question's marks.
type Rule interface {
	Correct(q exam.Question, answer string) bool
}

// RuleFunc adapts a plain function to Rule.
type RuleFunc func(q exam.Question, answer string) bool

func (f RuleFunc) Correct(q exam.Question, answer string) bool { return f(q, answer) }

// ExactMatch compares trimmed, case-folded answer and key.
var ExactMatch Rule = RuleFunc(func(q exam.Question, answer string) bool {
	return Equivalent(answer, q.CorrectAnswer)
})

// ItemResult is the outcome for one response.
type ItemResult struct {
	QuestionID    string `json:"question_id"`
	SequenceOrder int    `json:"sequence_order"`
	Answer        string `json:"answer"`
	IsCorrect     bool   `json:"is_correct"`
	MarksAwarded  int    `json:"marks_awarded"`
	Marks         int    `json:"marks"`
}

// Result is the outcome of grading one attempt.
type Result struct {
	Score      int          `json:"score"`
	TotalMarks int          `json:"total_marks"`
	Percentage float64      `json:"percentage"`
	Items      []ItemResult `json:"items"`
}

// Engine routes by question type to the correct Rule. The zero value is not
// usable; construct with New.
type Engine struct {
	rules    map[exam.QuestionType]Rule
	fallback Rule
}

type Option func(*Engine)

// WithRule overrides the rule used for one question type.
func WithRule(t exam.QuestionType, r Rule) Option {
	return func(e *Engine) { e.rules[t] = r }
}

// WithFallback sets the rule used for question types without an entry.
func WithFallback(r Rule) Option { return func(e *Engine) { e.fallback = r } }

// New installs exact matching for every built-in question type.
func New(opts ...Option) *Engine {
	e := &Engine{
		rules: map[exam.QuestionType]Rule{
			exam.QuestionMultipleChoice: ExactMatch,
			exam.QuestionTrueFalse:      ExactMatch,
			exam.QuestionShortAnswer:    ExactMatch,
			exam.QuestionEssay:          ExactMatch,
		},
		fallback: ExactMatch,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Grade scores responses against questions. Only questions that have a
// response count toward TotalMarks; responses naming an unknown question are
// ignored. Grade is pure: the same inputs always give the same Result.
func (e *Engine) Grade(questions []exam.Question, responses []exam.Response) Result {
	byID := make(map[string]exam.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	res := Result{Items: make([]ItemResult, 0, len(responses))}
	seen := make(map[string]bool, len(responses))
	for _, r := range responses {
		q, ok := byID[r.QuestionID]
		if !ok || seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true
		item := ItemResult{
			QuestionID:    q.ID,
			SequenceOrder: r.SequenceOrder,
			Answer:        r.Answer,
			Marks:         q.Marks,
		}
		if e.rule(q.Type).Correct(q, r.Answer) {
			item.IsCorrect = true
			item.MarksAwarded = q.Marks
		}
		res.TotalMarks += q.Marks
		res.Score += item.MarksAwarded
		res.Items = append(res.Items, item)
	}
	res.Percentage = Percentage(res.Score, res.TotalMarks)
	return res
}

func (e *Engine) rule(t exam.QuestionType) Rule {
	if r, ok := e.rules[t]; ok {
		return r
	}
	return e.fallback
}

// Percentage is 100*score/total, or 0 when total is not positive.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(score) / float64(total)
}

// Apply copies item outcomes onto the matching responses.
func (r Result) Apply(rs []exam.Response) []exam.Response {
	byQ := make(map[string]ItemResult, len(r.Items))
	for _, it := range r.Items {
		byQ[it.QuestionID] = it
	}
	out := make([]exam.Response, len(rs))
	for i, x := range rs {
		if it, ok := byQ[x.QuestionID]; ok {
			correct, marks := it.IsCorrect, it.MarksAwarded
			x.IsCorrect = &correct
			x.MarksAwarded = &marks
		}
		out[i] = x
	}
	return out
}
