package template

// Practice 20-question answer sheet
// A single-subject quiz sheet used for training runs and smaller assessments.
// One column of twenty questions, four options per question, on a 600 x 800
// canonical frame.

// Practice20Template returns the practice sheet definition.
func Practice20Template() *SheetTemplate {
	const (
		width  = 600
		height = 800
		inset  = 25.0
		marker = 20.0
	)
	return &SheetTemplate{
		TemplateName:    "practice-20",
		CanonicalWidth:  width,
		CanonicalHeight: height,
		Questions:       20,
		Options:         4,
		Fiducials: []FiducialSpec{
			{Name: "top_left", X: inset, Y: inset, Size: marker},
			{Name: "top_right", X: width - inset, Y: inset, Size: marker},
			{Name: "bottom_right", X: width - inset, Y: height - inset, Size: marker},
			{Name: "bottom_left", X: inset, Y: height - inset, Size: marker},
		},
		Grid: GridSpec{
			OriginX:            80,
			OriginY:            150,
			QuestionSpacingY:   26,
			OptionSpacingX:     32,
			BubbleRadius:       9,
			QuestionsPerColumn: 20,
			ColumnStride:       128,
		},
		Subjects: []SubjectSpec{
			{Name: "General Knowledge", FirstQuestion: 0, QuestionCount: 20},
		},
	}
}
