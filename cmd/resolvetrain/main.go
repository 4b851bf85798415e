// Command resolvetrain builds the ambiguous-mark training set from reviewed
// sheets and reports how well the trained classifier separates them.
//
// Usage: resolvetrain [options] <review.json>...
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"omr-grader/internal/align"
	"omr-grader/internal/bubble"
	"omr-grader/internal/resolve"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
)

// ReviewFile mirrors a manual review export: one scanned sheet plus the
// reviewer's decision for each flagged question. Labels map the 1-based
// question number to an option letter, or "-" for unreadable.
type ReviewFile struct {
	ImagePath string            `json:"image"`
	Template  string            `json:"template,omitempty"`
	Labels    map[string]string `json:"labels"`
}

var (
	flagOutput  = flag.String("o", "lib/resolve_training.json", "Training set JSON to create or extend")
	flagEval    = flag.Bool("eval", false, "Run leave-one-out evaluation after training")
	flagMinConf = flag.Float64("min-confidence", 0.60, "Confidence needed to count a decision in evaluation")
	flagVerbose = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <review.json>...\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Load the existing output and extend it.
	ts, err := resolve.LoadTrainingSet(*flagOutput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading existing training set: %v\n", err)
		os.Exit(1)
	}
	if ts.Count() > 0 {
		fmt.Printf("Loaded %d existing samples from %s\n", ts.Count(), *flagOutput)
	}

	added := 0
	for _, reviewPath := range flag.Args() {
		n, err := importReview(ts, reviewPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing %s: %v\n", reviewPath, err)
			os.Exit(1)
		}
		added += n
	}

	fmt.Printf("\nImported %d rows (%d samples total, %d with a chosen option)\n",
		added, ts.Count(), ts.LabeledCount())

	classifier := resolve.NewStatClassifier(ts)
	classifier.Train()
	if classifier.Trained() {
		fmt.Println("Classifier trained.")
	} else {
		fmt.Println("Warning: not enough labeled rows to train a classifier yet.")
	}

	if *flagEval {
		evaluate(ts, *flagMinConf)
	}

	if err := ts.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing training set: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nWrote %d training samples to %s\n", ts.Count(), *flagOutput)
}

// importReview extracts the fill scores for each labeled question of one
// reviewed sheet and adds them to the training set.
func importReview(ts *resolve.TrainingSet, reviewPath string) (int, error) {
	fmt.Printf("\nLoading review: %s\n", reviewPath)
	data, err := os.ReadFile(reviewPath)
	if err != nil {
		return 0, err
	}

	var rf ReviewFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return 0, err
	}
	if rf.ImagePath == "" {
		return 0, fmt.Errorf("review names no image")
	}
	if len(rf.Labels) == 0 {
		fmt.Println("  No labels, skipping.")
		return 0, nil
	}

	tmplName := rf.Template
	if tmplName == "" {
		tmplName = "standard-100"
	}
	tmpl := template.Get(tmplName)
	if tmpl == nil {
		return 0, fmt.Errorf("unknown template %q", tmplName)
	}

	// Image path is relative to the review file.
	imgPath := rf.ImagePath
	if !filepath.IsAbs(imgPath) {
		imgPath = filepath.Join(filepath.Dir(reviewPath), rf.ImagePath)
	}
	fmt.Printf("Loading image: %s\n", imgPath)
	s, err := sheet.Load(imgPath)
	if err != nil {
		return 0, err
	}

	gray := s.GrayMat()
	defer gray.Close()

	reg, err := align.Register(gray, tmpl, align.DefaultParams())
	if err != nil {
		return 0, fmt.Errorf("registration: %w", err)
	}
	defer reg.Normalized.Close()

	rois, err := bubble.MapGrid(tmpl)
	if err != nil {
		return 0, err
	}
	signals, err := bubble.Extract(reg.Normalized, tmpl, rois, bubble.DefaultExtractParams())
	if err != nil {
		return 0, err
	}

	// Sorted question order keeps sample IDs reproducible.
	questions := make([]string, 0, len(rf.Labels))
	for q := range rf.Labels {
		questions = append(questions, q)
	}
	sort.Strings(questions)

	added := 0
	for _, qstr := range questions {
		q, err := strconv.Atoi(qstr)
		if err != nil || q < 1 || q > tmpl.Questions {
			return added, fmt.Errorf("bad question number %q", qstr)
		}
		label, err := parseLabel(rf.Labels[qstr], tmpl.Options)
		if err != nil {
			return added, fmt.Errorf("question %d: %w", q, err)
		}
		scores := bubble.ScoreVector(signals[q-1])
		sample := ts.Add(scores, label, "review")
		added++
		if *flagVerbose {
			fmt.Printf("  %s Q%-3d label=%s scores=%v\n", sample.ID, q, rf.Labels[qstr], scores)
		}
	}
	fmt.Printf("  Added %d rows\n", added)
	return added, nil
}

// parseLabel maps an option letter to its index. "-" or empty means the
// reviewer judged the row unreadable.
func parseLabel(letter string, options int) (int, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" || letter == "-" {
		return -1, nil
	}
	if len(letter) != 1 || letter[0] < 'A' || int(letter[0]-'A') >= options {
		return 0, fmt.Errorf("bad option %q", letter)
	}
	return int(letter[0] - 'A'), nil
}

// evaluate runs leave-one-out over the labeled samples: each is classified by
// a model trained on all the others.
func evaluate(ts *resolve.TrainingSet, minConf float64) {
	samples := ts.GetSamples()

	var correct, wrong, abstained, skipped int
	for i, s := range samples {
		if s.Label < 0 {
			continue
		}

		rest := resolve.NewTrainingSet()
		for j, other := range samples {
			if j != i {
				rest.Add(other.Scores, other.Label, other.Source)
			}
		}
		c := resolve.NewStatClassifier(rest)
		c.Train()
		if !c.Trained() {
			skipped++
			continue
		}

		option, conf := c.Classify(s.Scores, nil)
		switch {
		case option < 0 || conf < minConf:
			abstained++
		case option == s.Label:
			correct++
		default:
			wrong++
			if *flagVerbose {
				fmt.Printf("  %s: predicted %s (%.2f), labeled %s\n",
					s.ID, template.OptionLabel(option), conf, template.OptionLabel(s.Label))
			}
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("LEAVE-ONE-OUT EVALUATION")
	fmt.Println(strings.Repeat("=", 80))

	evaluated := correct + wrong + abstained
	fmt.Printf("Labeled samples evaluated: %d\n", evaluated)
	if evaluated == 0 {
		return
	}
	fmt.Printf("  Decided correctly: %d (%.1f%%)\n", correct, pct(correct, evaluated))
	fmt.Printf("  Decided wrong:     %d (%.1f%%)\n", wrong, pct(wrong, evaluated))
	fmt.Printf("  Abstained:         %d (%.1f%%)\n", abstained, pct(abstained, evaluated))
	if skipped > 0 {
		fmt.Printf("  Skipped (not enough other samples): %d\n", skipped)
	}

	if decided := correct + wrong; decided > 0 {
		fmt.Printf("\nDecision accuracy: %.1f%% at confidence >= %.2f\n", pct(correct, decided), minConf)
	}
}

func pct(n, total int) float64 {
	return float64(n) * 100 / float64(total)
}
