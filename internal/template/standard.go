package template

import "omr-grader/pkg/geometry"

// Standard 100-question answer sheet
// The default sheet used for combined placement exams: five subject blocks
// of twenty questions each, four options per question.
//
// Physical layout (canonical frame):
// - Frame: 800 x 1200 px
// - Filled square fiducials near all four corners
// - Grid origin at (100, 200), one subject block per 140 px column stride
// - 24 px between question rows, 30 px between option columns
// - Bubble radius 8 px
// - Printed version code box in the top right
//
// Five blocks of four option columns (stride 140) span 650 px, keeping the
// rightmost bubble at x 750 inside the 800 px frame.

const (
	// Standard sheet canonical dimensions in pixels
	StandardWidth  = 800
	StandardHeight = 1200

	// Standard grid layout
	StandardGridOriginX     = 100.0
	StandardGridOriginY     = 200.0
	StandardQuestionSpacing = 24.0 // row pitch
	StandardOptionSpacing   = 30.0 // column pitch
	StandardBubbleRadius    = 8.0
	StandardColumnStride    = 140.0 // subject block pitch
	StandardColumnRows      = 20    // questions per subject block

	// Standard fiducial markers
	StandardFiducialSize  = 24.0
	StandardFiducialInset = 30.0 // marker center inset from frame corners
)

// StandardSubjects returns the subject blocks of the standard sheet in
// column order.
func StandardSubjects() []SubjectSpec {
	return []SubjectSpec{
		{Name: "Data Analytics", FirstQuestion: 0, QuestionCount: 20},
		{Name: "Machine Learning", FirstQuestion: 20, QuestionCount: 20},
		{Name: "Python Programming", FirstQuestion: 40, QuestionCount: 20},
		{Name: "Statistics", FirstQuestion: 60, QuestionCount: 20},
		{Name: "Database Management", FirstQuestion: 80, QuestionCount: 20},
	}
}

// StandardFiducials returns the four corner markers of the standard sheet.
func StandardFiducials() []FiducialSpec {
	inset := StandardFiducialInset
	return []FiducialSpec{
		{Name: "top_left", X: inset, Y: inset, Size: StandardFiducialSize},
		{Name: "top_right", X: StandardWidth - inset, Y: inset, Size: StandardFiducialSize},
		{Name: "bottom_right", X: StandardWidth - inset, Y: StandardHeight - inset, Size: StandardFiducialSize},
		{Name: "bottom_left", X: inset, Y: StandardHeight - inset, Size: StandardFiducialSize},
	}
}

// Standard100Template returns the fully specified standard sheet definition.
func Standard100Template() *SheetTemplate {
	return &SheetTemplate{
		TemplateName:    "standard-100",
		CanonicalWidth:  StandardWidth,
		CanonicalHeight: StandardHeight,
		Questions:       100,
		Options:         4,
		Fiducials:       StandardFiducials(),
		Grid: GridSpec{
			OriginX:            StandardGridOriginX,
			OriginY:            StandardGridOriginY,
			QuestionSpacingY:   StandardQuestionSpacing,
			OptionSpacingX:     StandardOptionSpacing,
			BubbleRadius:       StandardBubbleRadius,
			QuestionsPerColumn: StandardColumnRows,
			ColumnStride:       StandardColumnStride,
		},
		Subjects:   StandardSubjects(),
		VersionBox: &geometry.RectInt{X: 600, Y: 70, Width: 150, Height: 50},
	}
}
