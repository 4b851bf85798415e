// Package template provides answer sheet template definitions and management.
//
// A SheetTemplate fixes the geometry of one printed sheet layout in a
// canonical coordinate space: where the fiducial markers sit, how the bubble
// grid is laid out, and which question ranges belong to which subject.
// Templates are immutable once loaded and are shared read-only across
// concurrent processing runs.
package template

import (
	"encoding/json"
	"fmt"
	"os"

	"omr-grader/pkg/geometry"
)

// FiducialSpec defines one registration marker printed on the sheet.
// X and Y are the marker center in canonical coordinates; Size is the
// edge length of the filled square.
type FiducialSpec struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// Center returns the canonical center point of the marker.
func (f FiducialSpec) Center() geometry.Point2D {
	return geometry.Point2D{X: f.X, Y: f.Y}
}

// GridSpec defines the bubble grid layout. Question rows run down the page,
// option columns run across. Subjects occupy consecutive column blocks, each
// ColumnStride wide, holding QuestionsPerColumn rows.
type GridSpec struct {
	OriginX            float64 `json:"origin_x"`
	OriginY            float64 `json:"origin_y"`
	QuestionSpacingY   float64 `json:"question_spacing_y"`
	OptionSpacingX     float64 `json:"option_spacing_x"`
	BubbleRadius       float64 `json:"bubble_radius"`
	QuestionsPerColumn int     `json:"questions_per_column"`
	ColumnStride       float64 `json:"column_stride"`
}

// SubjectSpec maps a named subject onto a contiguous question range.
// FirstQuestion is a zero-based global question index.
type SubjectSpec struct {
	Name          string `json:"name"`
	FirstQuestion int    `json:"first_question"`
	QuestionCount int    `json:"question_count"`
}

// SheetTemplate is the complete layout description for one sheet design.
type SheetTemplate struct {
	TemplateName    string            `json:"name"`
	CanonicalWidth  int               `json:"canonical_width"`
	CanonicalHeight int               `json:"canonical_height"`
	Questions       int               `json:"questions"`
	Options         int               `json:"options"`
	Fiducials       []FiducialSpec    `json:"fiducials"`
	Grid            GridSpec          `json:"grid"`
	Subjects        []SubjectSpec     `json:"subjects"`
	VersionBox      *geometry.RectInt `json:"version_box,omitempty"`
}

// Name returns the template name.
func (t *SheetTemplate) Name() string {
	return t.TemplateName
}

// CanonicalSize returns the canonical frame dimensions in pixels.
func (t *SheetTemplate) CanonicalSize() (width, height int) {
	return t.CanonicalWidth, t.CanonicalHeight
}

// FiducialCenters returns the canonical centers of all fiducial markers,
// in template order.
func (t *SheetTemplate) FiducialCenters() []geometry.Point2D {
	centers := make([]geometry.Point2D, len(t.Fiducials))
	for i, f := range t.Fiducials {
		centers[i] = f.Center()
	}
	return centers
}

// BubbleCenter returns the canonical center of the bubble for a zero-based
// (question, option) pair. Questions fill each subject column top to bottom
// before moving to the next column block.
func (t *SheetTemplate) BubbleCenter(question, option int) geometry.Point2D {
	column := question / t.Grid.QuestionsPerColumn
	row := question % t.Grid.QuestionsPerColumn
	return geometry.Point2D{
		X: t.Grid.OriginX + float64(column)*t.Grid.ColumnStride + float64(option)*t.Grid.OptionSpacingX,
		Y: t.Grid.OriginY + float64(row)*t.Grid.QuestionSpacingY,
	}
}

// SubjectFor returns the subject containing the zero-based question index.
func (t *SheetTemplate) SubjectFor(question int) (SubjectSpec, bool) {
	for _, s := range t.Subjects {
		if question >= s.FirstQuestion && question < s.FirstQuestion+s.QuestionCount {
			return s, true
		}
	}
	return SubjectSpec{}, false
}

// Validate checks the template for internal consistency.
func (t *SheetTemplate) Validate() error {
	if t.TemplateName == "" {
		return fmt.Errorf("template name is required")
	}
	if t.CanonicalWidth <= 0 || t.CanonicalHeight <= 0 {
		return fmt.Errorf("canonical dimensions must be positive")
	}
	if t.Questions <= 0 {
		return fmt.Errorf("question count must be positive")
	}
	if t.Options < 2 {
		return fmt.Errorf("at least two options per question are required")
	}
	if t.Options > 26 {
		return fmt.Errorf("option count %d exceeds the A-Z label range", t.Options)
	}
	if len(t.Fiducials) < 3 {
		return fmt.Errorf("at least three fiducial markers are required, got %d", len(t.Fiducials))
	}
	for _, f := range t.Fiducials {
		if f.Size <= 0 {
			return fmt.Errorf("fiducial %q size must be positive", f.Name)
		}
		if f.X < 0 || f.Y < 0 || f.X > float64(t.CanonicalWidth) || f.Y > float64(t.CanonicalHeight) {
			return fmt.Errorf("fiducial %q center (%.0f, %.0f) outside canonical frame", f.Name, f.X, f.Y)
		}
	}

	g := t.Grid
	if g.BubbleRadius <= 0 {
		return fmt.Errorf("bubble radius must be positive")
	}
	if g.QuestionsPerColumn <= 0 {
		return fmt.Errorf("questions per column must be positive")
	}
	if g.QuestionSpacingY <= 2*g.BubbleRadius {
		return fmt.Errorf("question spacing %.1f too small for bubble radius %.1f", g.QuestionSpacingY, g.BubbleRadius)
	}
	if g.OptionSpacingX <= 2*g.BubbleRadius {
		return fmt.Errorf("option spacing %.1f too small for bubble radius %.1f", g.OptionSpacingX, g.BubbleRadius)
	}
	columns := (t.Questions + g.QuestionsPerColumn - 1) / g.QuestionsPerColumn
	if columns > 1 && g.ColumnStride < float64(t.Options)*g.OptionSpacingX {
		return fmt.Errorf("column stride %.1f overlaps the %d option columns", g.ColumnStride, t.Options)
	}

	if len(t.Subjects) == 0 {
		return fmt.Errorf("at least one subject is required")
	}
	covered := 0
	next := 0
	for _, s := range t.Subjects {
		if s.Name == "" {
			return fmt.Errorf("subject name is required")
		}
		if s.QuestionCount <= 0 {
			return fmt.Errorf("subject %q question count must be positive", s.Name)
		}
		if s.FirstQuestion != next {
			return fmt.Errorf("subject %q starts at question %d, expected %d", s.Name, s.FirstQuestion, next)
		}
		next = s.FirstQuestion + s.QuestionCount
		covered += s.QuestionCount
	}
	if covered != t.Questions {
		return fmt.Errorf("subjects cover %d questions, template has %d", covered, t.Questions)
	}

	if t.VersionBox != nil && !t.VersionBox.Inside(t.CanonicalWidth, t.CanonicalHeight) {
		return fmt.Errorf("version box outside canonical frame")
	}
	return nil
}

// SaveToFile saves the template to a JSON file.
func (t *SheetTemplate) SaveToFile(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFromFile loads and validates a template from a JSON file.
func LoadFromFile(path string) (*SheetTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmpl SheetTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, err
	}

	if err := tmpl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sheet template: %w", err)
	}

	return &tmpl, nil
}

// OptionLabel returns the printed letter for a zero-based option index.
func OptionLabel(option int) string {
	if option < 0 || option >= 26 {
		return "?"
	}
	return string(rune('A' + option))
}

// Registry of known sheet templates
var registry = make(map[string]*SheetTemplate)

// Register adds a sheet template to the registry.
func Register(tmpl *SheetTemplate) {
	registry[tmpl.Name()] = tmpl
}

// Get returns a registered template by name, or nil if unknown.
func Get(name string) *SheetTemplate {
	if tmpl, ok := registry[name]; ok {
		return tmpl
	}
	return nil
}

// List returns all registered template names.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func init() {
	// Register built-in sheet templates
	Register(Standard100Template())
	Register(Practice20Template())
}
