// Package score applies an answer key to resolved marks and produces the
// graded result: per-question outcomes, per-subject subscores and the sheet
// total. Unresolved questions score as incorrect and are listed for manual
// review rather than silently dropped.
package score

import (
	"fmt"
	"time"

	"omr-grader/internal/resolve"
	"omr-grader/internal/template"
)

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	Question   int               `json:"question"`
	Subject    string            `json:"subject"`
	State      resolve.MarkState `json:"state"`
	Selected   int               `json:"selected"` // chosen option, -1 when blank or unresolved
	Accepted   []int             `json:"accepted"` // options the key accepts
	Correct    bool              `json:"correct"`
	Method     resolve.Method    `json:"method"`
	Confidence float64           `json:"confidence"`
	Scores     []float64         `json:"scores,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// SubjectScore is the subscore for one subject block.
type SubjectScore struct {
	Name       string  `json:"name"`
	Questions  int     `json:"questions"`
	Correct    int     `json:"correct"`
	Answered   int     `json:"answered"`
	Blank      int     `json:"blank"`
	Unresolved int     `json:"unresolved"`
	Percent    float64 `json:"percent"`
}

// Result is the complete graded sheet.
type Result struct {
	RunID      string           `json:"run_id"`
	SheetID    string           `json:"sheet_id,omitempty"`
	Template   string           `json:"template"`
	KeyVersion string           `json:"key_version"`
	GradedAt   time.Time        `json:"graded_at"`
	Total      int              `json:"total_correct"`
	MaxTotal   int              `json:"total_questions"`
	Percent    float64          `json:"percent"`
	Subjects   []SubjectScore   `json:"subjects"`
	Questions  []QuestionResult `json:"questions"`
	Flagged    []int            `json:"flagged"` // unresolved question indices for review
}

// Grade applies the answer key to a sheet's resolved marks. The key must
// match the template and there must be one mark per template question.
func Grade(tmpl *template.SheetTemplate, key *template.AnswerKey, marks []resolve.Mark) (*Result, error) {
	if err := key.Validate(tmpl); err != nil {
		return nil, fmt.Errorf("answer key: %w", err)
	}
	if len(marks) != tmpl.Questions {
		return nil, fmt.Errorf("have %d marks for %d questions", len(marks), tmpl.Questions)
	}

	result := &Result{
		Template:   tmpl.Name(),
		KeyVersion: key.Version(),
		GradedAt:   time.Now().UTC(),
		MaxTotal:   tmpl.Questions,
		Questions:  make([]QuestionResult, tmpl.Questions),
		Flagged:    make([]int, 0),
	}

	bySubject := make(map[string]*SubjectScore)
	for _, s := range tmpl.Subjects {
		sub := &SubjectScore{Name: s.Name, Questions: s.QuestionCount}
		bySubject[s.Name] = sub
	}

	for q, mark := range marks {
		subject, ok := tmpl.SubjectFor(q)
		if !ok {
			return nil, fmt.Errorf("question %d has no subject", q)
		}
		sub := bySubject[subject.Name]

		qr := QuestionResult{
			Question:   q,
			Subject:    subject.Name,
			State:      mark.State,
			Selected:   mark.Option,
			Accepted:   key.Accepted(q),
			Method:     mark.Method,
			Confidence: mark.Confidence,
			Scores:     mark.Scores,
			Reason:     mark.Reason,
		}

		switch mark.State {
		case resolve.MarkAnswered:
			sub.Answered++
			if key.Accepts(q, mark.Option) {
				qr.Correct = true
				sub.Correct++
				result.Total++
			}
		case resolve.MarkBlank:
			sub.Blank++
		case resolve.MarkUnresolved:
			sub.Unresolved++
			result.Flagged = append(result.Flagged, q)
		}

		result.Questions[q] = qr
	}

	// Subscores in template subject order
	result.Subjects = make([]SubjectScore, len(tmpl.Subjects))
	for i, s := range tmpl.Subjects {
		sub := bySubject[s.Name]
		if sub.Questions > 0 {
			sub.Percent = 100 * float64(sub.Correct) / float64(sub.Questions)
		}
		result.Subjects[i] = *sub
	}

	if result.MaxTotal > 0 {
		result.Percent = 100 * float64(result.Total) / float64(result.MaxTotal)
	}

	return result, nil
}
