// Command sheetcheck grades a single scanned sheet and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"omr-grader/internal/overlay"
	"omr-grader/internal/pipeline"
	"omr-grader/internal/resolve"
	"omr-grader/internal/score"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
	"omr-grader/pkg/logger"
)

func main() {
	imagePath := flag.String("image", "", "Path to scanned sheet (PNG, JPEG, or TIFF)")
	templateName := flag.String("template", "standard-100", "Template name or template JSON file")
	keyPath := flag.String("key", "", "Path to answer key JSON")
	modelPath := flag.String("model", "", "Optional classifier training set JSON")
	overlayPath := flag.String("overlay", "", "Write the review overlay PNG to this path")
	verbose := flag.Bool("v", false, "Print per-question detail")
	flag.Parse()

	if *imagePath == "" || *keyPath == "" {
		fmt.Println("Usage: sheetcheck -image <path> -key <key.json> [-template standard-100] [-model <training.json>] [-overlay <out.png>] [-v]")
		os.Exit(1)
	}

	// Resolve the template: registered name first, then a JSON file.
	tmpl := template.Get(*templateName)
	if tmpl == nil {
		loaded, err := template.LoadFromFile(*templateName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unknown template %q (registered: %s)\n",
				*templateName, strings.Join(template.List(), ", "))
			os.Exit(1)
		}
		tmpl = loaded
	}

	key, err := template.LoadKeyFromFile(*keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load answer key: %v\n", err)
		os.Exit(1)
	}
	if err := key.Validate(tmpl); err != nil {
		fmt.Fprintf(os.Stderr, "Answer key does not fit template %s: %v\n", tmpl.Name(), err)
		os.Exit(1)
	}

	s, err := sheet.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load sheet: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Loaded %s image: %dx%d pixels\n", s.Format, s.Width(), s.Height())
	if s.DPI > 0 {
		fmt.Printf("DPI: %.0f\n", s.DPI)
	}
	fmt.Printf("Template: %s (%d questions x %d options)\n", tmpl.Name(), tmpl.Questions, tmpl.Options)
	fmt.Printf("Answer key: %s\n", key.Version())

	classifier := loadClassifier(*modelPath)

	engine, err := pipeline.NewEngine(pipeline.DefaultConfig(), classifier, logger.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nGrading...\n")
	result, err := engine.Process(context.Background(), s.Image, tmpl, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Grading failed: %v\n", err)
		os.Exit(1)
	}

	printResult(result, *verbose)

	if *overlayPath != "" {
		img, err := engine.RenderOverlay(s.Image, tmpl, result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Overlay render failed: %v\n", err)
			os.Exit(1)
		}
		data, err := overlay.EncodePNG(img)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Overlay encode failed: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*overlayPath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write overlay: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nOverlay written to %s\n", *overlayPath)
	}
}

// loadClassifier builds the ambiguity classifier, or returns nil so ambiguous
// rows stay unresolved.
func loadClassifier(path string) resolve.Classifier {
	if path == "" {
		return nil
	}

	ts, err := resolve.LoadTrainingSet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load training set: %v\n", err)
		os.Exit(1)
	}

	sc := resolve.NewStatClassifier(ts)
	sc.Train()
	if !sc.Trained() {
		fmt.Printf("Warning: %s has too few labeled samples to train; ambiguous rows stay unresolved\n", path)
		return nil
	}

	fmt.Printf("Classifier: %d samples (%d labeled)\n", ts.Count(), ts.LabeledCount())
	return sc
}

func printResult(result *score.Result, verbose bool) {
	fmt.Printf("\n=== Result ===\n")
	fmt.Printf("Run: %s\n", result.RunID)
	fmt.Printf("Score: %d/%d (%.1f%%)\n", result.Total, result.MaxTotal, result.Percent)

	fmt.Printf("\n%-24s %8s %9s %6s %11s %8s\n",
		"Subject", "Correct", "Answered", "Blank", "Unresolved", "Percent")
	for _, sub := range result.Subjects {
		fmt.Printf("%-24s %4d/%-3d %9d %6d %11d %7.1f%%\n",
			sub.Name, sub.Correct, sub.Questions,
			sub.Answered, sub.Blank, sub.Unresolved, sub.Percent)
	}

	if len(result.Flagged) > 0 {
		fmt.Printf("\nFlagged for manual review (%d):\n", len(result.Flagged))
		for _, q := range result.Flagged {
			fmt.Printf("  Q%-3d %s\n", q+1, result.Questions[q].Reason)
		}
	}

	if verbose {
		fmt.Printf("\n%-5s %-10s %-8s %-8s %-10s %-10s\n",
			"Q", "State", "Marked", "Correct", "Confidence", "Method")
		for _, qr := range result.Questions {
			marked := "-"
			if qr.Selected >= 0 {
				marked = template.OptionLabel(qr.Selected)
			}
			correct := ""
			if qr.Correct {
				correct = "yes"
			} else if qr.State == resolve.MarkAnswered {
				correct = "no"
			}
			fmt.Printf("%-5d %-10s %-8s %-8s %-10.2f %-10s\n",
				qr.Question+1, qr.State, marked, correct, qr.Confidence, qr.Method)
		}
	}
}
