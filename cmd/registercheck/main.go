// Command registercheck runs sheet registration on a scanned image and prints
// marker detection and fit diagnostics.
package main

import (
	"flag"
	"fmt"
	"image/png"
	"math"
	"os"

	"omr-grader/internal/align"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
)

func main() {
	imagePath := flag.String("image", "", "Path to scanned sheet (PNG, JPEG, or TIFF)")
	templateName := flag.String("template", "standard-100", "Template name or template JSON file")
	warpedPath := flag.String("warped", "", "Write the registered canonical-frame image to this path")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: registercheck -image <path> [-template standard-100] [-warped <out.png>]")
		os.Exit(1)
	}

	tmpl := template.Get(*templateName)
	if tmpl == nil {
		loaded, err := template.LoadFromFile(*templateName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unknown template %q: %v\n", *templateName, err)
			os.Exit(1)
		}
		tmpl = loaded
	}

	s, err := sheet.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load sheet: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Loaded %s image: %dx%d pixels\n", s.Format, s.Width(), s.Height())
	fmt.Printf("Template: %s (canonical %dx%d, %d markers)\n",
		tmpl.Name(), tmpl.CanonicalWidth, tmpl.CanonicalHeight, len(tmpl.Fiducials))

	params := align.DefaultParams()
	fmt.Printf("\nDetection parameters:\n")
	fmt.Printf("  Min markers: %d\n", params.MinFiducials)
	fmt.Printf("  Residual tolerance: %.1f px\n", params.ResidualTolerancePx)
	fmt.Printf("  Search radius: %.0f%% of larger dimension\n", params.SearchRadiusFrac*100)

	gray := s.GrayMat()
	defer gray.Close()

	fmt.Printf("\n=== Marker detection ===\n")
	found, missing := align.DetectFiducials(gray, tmpl, params)
	fmt.Printf("%-12s %10s %10s %12s %12s %8s\n",
		"Marker", "ExpectedX", "ExpectedY", "DetectedX", "DetectedY", "Score")
	for _, f := range found {
		fmt.Printf("%-12s %10.1f %10.1f %12.1f %12.1f %8.2f\n",
			f.Name, f.Expected.X, f.Expected.Y, f.Detected.X, f.Detected.Y, f.Score)
	}
	for _, name := range missing {
		fmt.Printf("%-12s not found\n", name)
	}

	fmt.Printf("\n=== Registration ===\n")
	result, err := align.Register(gray, tmpl, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
		os.Exit(1)
	}
	defer result.Normalized.Close()

	fmt.Printf("Method: %s\n", result.Method)
	fmt.Printf("Markers used: %d of %d\n", len(result.Fiducials), len(tmpl.Fiducials))
	fmt.Printf("Mean residual: %.2f px\n", result.Residual)

	printResiduals(result)

	if *warpedPath != "" {
		img := sheet.GrayImageFromMat(result.Normalized)
		f, err := os.Create(*warpedPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
			os.Exit(1)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			os.Exit(1)
		}
		f.Close()
		fmt.Printf("\nRegistered image written to %s\n", *warpedPath)
	}
}

func printResiduals(result *align.Result) {
	if len(result.Fiducials) == 0 {
		return
	}
	fmt.Printf("\nPer-marker residuals:\n")
	for _, f := range result.Fiducials {
		mapped := result.Transform.Apply(f.Detected)
		dx := f.Expected.X - mapped.X
		dy := f.Expected.Y - mapped.Y
		fmt.Printf("  %-12s err=%.2f px\n", f.Name, math.Sqrt(dx*dx+dy*dy))
	}
}
