package resolve

import (
	"fmt"

	"omr-grader/internal/bubble"
)

// Thresholds control the direct-resolution state machine.
type Thresholds struct {
	// FillFloor is the score below which a bubble counts as blank.
	FillFloor float64
	// FillCeiling is the score above which a bubble counts as a full mark.
	FillCeiling float64
	// SeparationMargin lets a full mark resolve directly over a smudged
	// runner-up that sits above the floor but well below the winner.
	SeparationMargin float64
	// TieBand is the score gap under which two strong marks count as
	// competing rather than one dominant.
	TieBand float64
	// MinConfidence is the classifier confidence required to accept its
	// decision for an ambiguous question.
	MinConfidence float64
}

// DefaultThresholds returns the resolution thresholds used by the built-in
// templates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FillFloor:        0.20,
		FillCeiling:      0.60,
		SeparationMargin: 0.15,
		TieBand:          0.10,
		MinConfidence:    0.60,
	}
}

// Validate checks threshold ordering.
func (t Thresholds) Validate() error {
	if t.FillFloor < 0 || t.FillFloor >= 1 {
		return fmt.Errorf("fill floor %.2f out of range", t.FillFloor)
	}
	if t.FillCeiling <= t.FillFloor || t.FillCeiling > 1 {
		return fmt.Errorf("fill ceiling %.2f must be above floor %.2f and at most 1", t.FillCeiling, t.FillFloor)
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("minimum confidence %.2f out of range", t.MinConfidence)
	}
	return nil
}

// Resolver applies the threshold state machine, with an optional classifier
// for ambiguous rows.
type Resolver struct {
	thresholds Thresholds
	classifier Classifier
}

// NewResolver creates a resolver. The classifier may be nil, in which case
// every ambiguous question stays unresolved.
func NewResolver(thresholds Thresholds, classifier Classifier) *Resolver {
	return &Resolver{thresholds: thresholds, classifier: classifier}
}

// ResolveSheet resolves every question of a sheet. Signals are indexed
// [question][option]; patches may be nil.
func (r *Resolver) ResolveSheet(signals [][]bubble.Signal, patches PatchFunc) []Mark {
	marks := make([]Mark, len(signals))
	for q := range signals {
		marks[q] = r.ResolveQuestion(q, signals[q], patches)
	}
	return marks
}

// ResolveQuestion resolves a single question from its option signals.
func (r *Resolver) ResolveQuestion(question int, signals []bubble.Signal, patches PatchFunc) Mark {
	scores := bubble.ScoreVector(signals)
	mark := Mark{Question: question, Option: -1, Scores: scores}

	top, second := topTwo(scores)
	if top < 0 {
		mark.State = MarkBlank
		return mark
	}
	topScore := scores[top]
	secondScore := 0.0
	if second >= 0 {
		secondScore = scores[second]
	}

	// No ink above the floor: the question was left blank.
	if topScore < r.thresholds.FillFloor {
		mark.State = MarkBlank
		return mark
	}

	// One full mark, clearly separated from everything else.
	if topScore >= r.thresholds.FillCeiling &&
		(secondScore <= r.thresholds.FillFloor || topScore-secondScore >= r.thresholds.SeparationMargin) {
		mark.State = MarkAnswered
		mark.Option = top
		mark.Method = MethodDirect
		mark.Confidence = clampUnit(topScore - secondScore)
		return mark
	}

	// Ambiguous: a weak mark, or several options with competing ink.
	return r.resolveAmbiguous(mark, top, second, topScore, secondScore, patches)
}

func (r *Resolver) resolveAmbiguous(mark Mark, top, second int, topScore, secondScore float64, patches PatchFunc) Mark {
	reason := "no option reaches a confident fill"
	if secondScore >= r.thresholds.FillCeiling && topScore-secondScore <= r.thresholds.TieBand {
		reason = "multiple competing full marks"
	} else if secondScore > r.thresholds.FillFloor {
		reason = fmt.Sprintf("options %d and %d both show ink", top, second)
	}

	if r.classifier == nil {
		mark.State = MarkUnresolved
		mark.Reason = reason
		return mark
	}

	var optionPatches [][]uint8
	if patches != nil {
		optionPatches = make([][]uint8, len(mark.Scores))
		for o := range optionPatches {
			optionPatches[o] = patches(mark.Question, o)
		}
	}

	option, confidence := r.classifier.Classify(mark.Scores, optionPatches)
	if option >= 0 && option < len(mark.Scores) && confidence >= r.thresholds.MinConfidence {
		mark.State = MarkAnswered
		mark.Option = option
		mark.Method = MethodClassifier
		mark.Confidence = confidence
		return mark
	}

	mark.State = MarkUnresolved
	mark.Confidence = confidence
	mark.Reason = fmt.Sprintf("%s; classifier confidence %.2f below %.2f", reason, confidence, r.thresholds.MinConfidence)
	return mark
}

// topTwo returns the indices of the highest and second-highest scores.
func topTwo(scores []float64) (top, second int) {
	top, second = -1, -1
	for i, s := range scores {
		if top < 0 || s > scores[top] {
			second = top
			top = i
		} else if second < 0 || s > scores[second] {
			second = i
		}
	}
	return top, second
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
