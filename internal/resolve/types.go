// Package resolve turns per-bubble ink signals into one mark decision per
// question. Clean single marks resolve directly from fill thresholds;
// ambiguous rows go to a classifier, and questions the classifier cannot
// decide confidently stay unresolved rather than guessed.
package resolve

// MarkState is the outcome of resolving one question.
type MarkState int

const (
	// MarkAnswered means exactly one option was selected.
	MarkAnswered MarkState = iota
	// MarkBlank means no option shows ink above the fill floor.
	MarkBlank
	// MarkUnresolved means the ink pattern is ambiguous and no confident
	// decision was possible. Unresolved is a first-class result state, not
	// an error.
	MarkUnresolved
)

func (s MarkState) String() string {
	switch s {
	case MarkAnswered:
		return "answered"
	case MarkBlank:
		return "blank"
	case MarkUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Method identifies how an answered question was decided.
type Method int

const (
	MethodNone Method = iota
	MethodDirect
	MethodClassifier
)

func (m Method) String() string {
	switch m {
	case MethodDirect:
		return "direct"
	case MethodClassifier:
		return "classifier"
	default:
		return "none"
	}
}

// Mark is the resolved outcome for one question.
type Mark struct {
	Question   int       `json:"question"`
	State      MarkState `json:"state"`
	Option     int       `json:"option"` // selected option when answered, else -1
	Method     Method    `json:"method"`
	Confidence float64   `json:"confidence"`
	Scores     []float64 `json:"scores"` // option fill scores in option order
	Reason     string    `json:"reason,omitempty"`
}

// Classifier decides ambiguous questions. Scores are the option fill scores
// in option order; patches optionally carry the raw gray pixels of each
// option's region for appearance-based models. It returns the chosen option
// and a confidence in [0, 1], or option -1 when it cannot decide.
type Classifier interface {
	Classify(scores []float64, patches [][]uint8) (option int, confidence float64)
}

// PatchFunc supplies the raw pixel patch for one bubble on demand. Resolution
// only fetches patches for questions that reach the classifier.
type PatchFunc func(question, option int) []uint8
