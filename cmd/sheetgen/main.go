// Command sheetgen renders synthetic filled answer sheets with known ground
// truth. One run produces a random answer key plus a batch of sheets filled
// by simulated students, for pipeline verification and load tests.
//
// Usage: sheetgen [options]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"

	"omr-grader/internal/sheetgen"
	"omr-grader/internal/template"
)

// GroundTruth records what a generated sheet actually has marked, in the
// review-file shape: 1-based question number to option letter.
type GroundTruth struct {
	Image      string            `json:"image"`
	Template   string            `json:"template"`
	KeyVersion string            `json:"key_version"`
	Seed       int64             `json:"seed"`
	Marks      map[string]string `json:"marks"`
	ExtraMarks map[string]string `json:"extra_marks,omitempty"`
}

var (
	flagTemplate   = flag.String("template", "standard-100", "Template name")
	flagDir        = flag.String("dir", "fixtures", "Output directory")
	flagCount      = flag.Int("count", 1, "Number of sheets to generate")
	flagSeed       = flag.Int64("seed", 1, "Base random seed; sheet i uses seed+i")
	flagKeyVersion = flag.String("key-version", "SYN-A", "Version stamped on the generated answer key")
	flagBlankRate  = flag.Float64("blank-rate", 0.05, "Fraction of questions left blank")
	flagDoubleRate = flag.Float64("double-rate", 0.03, "Fraction of questions given a second mark")
	flagScale      = flag.Float64("scale", 1.0, "Scan scale factor")
	flagRotate     = flag.Float64("rotate", 0, "Scan rotation in degrees")
	flagOffsetX    = flag.Float64("offset-x", 0, "Scan horizontal offset in pixels")
	flagOffsetY    = flag.Float64("offset-y", 0, "Scan vertical offset in pixels")
	flagNoise      = flag.Float64("noise", 0, "Gaussian sensor noise sigma in gray levels")
)

func main() {
	flag.Parse()

	tmpl := template.Get(*flagTemplate)
	if tmpl == nil {
		fmt.Fprintf(os.Stderr, "Unknown template %q\n", *flagTemplate)
		os.Exit(1)
	}
	if *flagCount < 1 {
		fmt.Fprintln(os.Stderr, "Count must be at least 1")
		os.Exit(1)
	}

	if err := os.MkdirAll(*flagDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Template: %s (%d questions x %d options)\n", tmpl.Name(), tmpl.Questions, tmpl.Options)

	// One answer key for the whole batch, like one exam sat by many students.
	key := randomKey(tmpl, *flagKeyVersion, *flagSeed)
	keyPath := filepath.Join(*flagDir, "answerkey.json")
	if err := key.SaveToFile(keyPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write answer key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Answer key %s written to %s\n", key.Version(), keyPath)

	for i := 0; i < *flagCount; i++ {
		seed := *flagSeed + int64(i)
		name := fmt.Sprintf("sheet-%03d", i+1)
		if err := generateSheet(tmpl, key, seed, name); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Printf("\nGenerated %d sheets in %s\n", *flagCount, *flagDir)
}

// generateSheet renders one filled sheet, applies the scan distortion, and
// writes the PNG plus its ground truth JSON.
func generateSheet(tmpl *template.SheetTemplate, key *template.AnswerKey, seed int64, name string) error {
	marks, extras := sheetgen.RandomMarks(tmpl, seed, *flagBlankRate, *flagDoubleRate)

	opts := sheetgen.DefaultOptions()
	opts.Marks = marks
	opts.ExtraMarks = extras
	img := sheetgen.Render(tmpl, opts)

	distorted := sheetgen.Distort(img, sheetgen.Distortion{
		Scale:     *flagScale,
		RotateDeg: *flagRotate,
		OffsetX:   *flagOffsetX,
		OffsetY:   *flagOffsetY,
		Noise:     *flagNoise,
		Seed:      seed,
	})

	imgPath := filepath.Join(*flagDir, name+".png")
	f, err := os.Create(imgPath)
	if err != nil {
		return err
	}
	if err := png.Encode(f, distorted); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	truth := GroundTruth{
		Image:      name + ".png",
		Template:   tmpl.Name(),
		KeyVersion: key.Version(),
		Seed:       seed,
		Marks:      letterMap(marks),
	}
	if len(extras) > 0 {
		truth.ExtraMarks = letterMap(extras)
	}
	data, err := json.MarshalIndent(truth, "", "  ")
	if err != nil {
		return err
	}
	truthPath := filepath.Join(*flagDir, name+".truth.json")
	if err := os.WriteFile(truthPath, data, 0644); err != nil {
		return err
	}

	fmt.Printf("  %s: %d marked, %d blank, %d double\n",
		name, len(marks), tmpl.Questions-len(marks), len(extras))
	return nil
}

// randomKey fabricates an answer key with one accepted option per question.
func randomKey(tmpl *template.SheetTemplate, version string, seed int64) *template.AnswerKey {
	rng := rand.New(rand.NewSource(seed))
	answers := make([][]int, tmpl.Questions)
	for q := range answers {
		answers[q] = []int{rng.Intn(tmpl.Options)}
	}
	return &template.AnswerKey{
		KeyVersion:   version,
		TemplateName: tmpl.Name(),
		Answers:      answers,
	}
}

// letterMap renders question->option maps with 1-based question numbers and
// option letters, the shape review files use.
func letterMap(marks map[int]int) map[string]string {
	out := make(map[string]string, len(marks))
	for q, o := range marks {
		out[fmt.Sprintf("%d", q+1)] = template.OptionLabel(o)
	}
	return out
}
