package template_test

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"omr-grader/internal/template"
)

func TestBuiltinTemplates(t *testing.T) {
	Convey("Given the built-in sheet templates", t, func() {
		Convey("When validating them", func() {
			for _, name := range template.List() {
				tmpl := template.Get(name)

				Convey("Then "+name+" is registered and valid", func() {
					So(tmpl, ShouldNotBeNil)
					So(tmpl.Validate(), ShouldBeNil)
				})
			}
		})

		Convey("When looking up an unknown template", func() {
			Convey("Then nil is returned", func() {
				So(template.Get("no-such-sheet"), ShouldBeNil)
			})
		})
	})
}

func TestStandardGeometry(t *testing.T) {
	Convey("Given the standard 100-question template", t, func() {
		tmpl := template.Standard100Template()

		Convey("When computing bubble centers", func() {
			Convey("Then every bubble plus its radius stays inside the canonical frame", func() {
				r := tmpl.Grid.BubbleRadius
				for q := 0; q < tmpl.Questions; q++ {
					for opt := 0; opt < tmpl.Options; opt++ {
						c := tmpl.BubbleCenter(q, opt)
						So(c.X-r, ShouldBeGreaterThanOrEqualTo, 0)
						So(c.Y-r, ShouldBeGreaterThanOrEqualTo, 0)
						So(c.X+r, ShouldBeLessThan, float64(tmpl.CanonicalWidth))
						So(c.Y+r, ShouldBeLessThan, float64(tmpl.CanonicalHeight))
					}
				}
			})

			Convey("Then question 21 starts the second subject block", func() {
				first := tmpl.BubbleCenter(0, 0)
				second := tmpl.BubbleCenter(20, 0)
				So(second.X-first.X, ShouldAlmostEqual, tmpl.Grid.ColumnStride, 1e-9)
				So(second.Y, ShouldAlmostEqual, first.Y, 1e-9)
			})
		})

		Convey("When mapping questions to subjects", func() {
			Convey("Then boundaries fall on the 20-question blocks", func() {
				s, ok := tmpl.SubjectFor(0)
				So(ok, ShouldBeTrue)
				So(s.Name, ShouldEqual, "Data Analytics")

				s, ok = tmpl.SubjectFor(19)
				So(ok, ShouldBeTrue)
				So(s.Name, ShouldEqual, "Data Analytics")

				s, ok = tmpl.SubjectFor(20)
				So(ok, ShouldBeTrue)
				So(s.Name, ShouldEqual, "Machine Learning")

				s, ok = tmpl.SubjectFor(99)
				So(ok, ShouldBeTrue)
				So(s.Name, ShouldEqual, "Database Management")

				_, ok = tmpl.SubjectFor(100)
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestTemplateValidation(t *testing.T) {
	Convey("Given a valid template", t, func() {
		tmpl := template.Practice20Template()
		So(tmpl.Validate(), ShouldBeNil)

		Convey("When the fiducial count drops below three", func() {
			tmpl.Fiducials = tmpl.Fiducials[:2]

			Convey("Then validation fails", func() {
				So(tmpl.Validate(), ShouldNotBeNil)
			})
		})

		Convey("When option spacing cannot hold two bubbles", func() {
			tmpl = template.Practice20Template()
			tmpl.Grid.OptionSpacingX = tmpl.Grid.BubbleRadius * 2

			Convey("Then validation fails", func() {
				So(tmpl.Validate(), ShouldNotBeNil)
			})
		})

		Convey("When subjects leave questions uncovered", func() {
			tmpl = template.Practice20Template()
			tmpl.Subjects[0].QuestionCount = 15

			Convey("Then validation fails", func() {
				So(tmpl.Validate(), ShouldNotBeNil)
			})
		})
	})
}

func TestTemplateRoundTrip(t *testing.T) {
	Convey("Given a template saved to disk", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "standard.json")
		tmpl := template.Standard100Template()
		So(tmpl.SaveToFile(path), ShouldBeNil)

		Convey("When loading it back", func() {
			loaded, err := template.LoadFromFile(path)

			Convey("Then the geometry survives unchanged", func() {
				So(err, ShouldBeNil)
				So(loaded.Name(), ShouldEqual, tmpl.Name())
				So(loaded.Questions, ShouldEqual, tmpl.Questions)
				So(loaded.Grid, ShouldResemble, tmpl.Grid)
				So(loaded.BubbleCenter(57, 2), ShouldResemble, tmpl.BubbleCenter(57, 2))
			})
		})
	})
}

func TestAnswerKeys(t *testing.T) {
	Convey("Given an answer key for the practice template", t, func() {
		tmpl := template.Practice20Template()
		key := &template.AnswerKey{
			KeyVersion:   "A",
			TemplateName: tmpl.Name(),
			Answers:      make([][]int, tmpl.Questions),
		}
		for q := range key.Answers {
			key.Answers[q] = []int{q % tmpl.Options}
		}

		Convey("When validating against its template", func() {
			Convey("Then the key is accepted", func() {
				So(key.Validate(tmpl), ShouldBeNil)
			})
		})

		Convey("When a question has an out-of-range option", func() {
			key.Answers[3] = []int{tmpl.Options}

			Convey("Then validation fails", func() {
				So(key.Validate(tmpl), ShouldNotBeNil)
			})
		})

		Convey("When the question count differs from the template", func() {
			key.Answers = key.Answers[:10]

			Convey("Then validation fails", func() {
				So(key.Validate(tmpl), ShouldNotBeNil)
			})
		})

		Convey("When checking accepted options", func() {
			Convey("Then only listed options are accepted", func() {
				So(key.Accepts(0, 0), ShouldBeTrue)
				So(key.Accepts(0, 1), ShouldBeFalse)
				So(key.Accepts(-1, 0), ShouldBeFalse)
				So(key.Accepts(len(key.Answers), 0), ShouldBeFalse)
			})
		})

		Convey("When loading a key directory", func() {
			dir := t.TempDir()
			So(key.SaveToFile(filepath.Join(dir, "set_a.json")), ShouldBeNil)

			keyB := &template.AnswerKey{
				KeyVersion:   "B",
				TemplateName: tmpl.Name(),
				Answers:      key.Answers,
			}
			So(keyB.SaveToFile(filepath.Join(dir, "set_b.json")), ShouldBeNil)

			store, err := template.LoadKeyDir(dir)

			Convey("Then both versions resolve", func() {
				So(err, ShouldBeNil)
				So(store.Get("A"), ShouldNotBeNil)
				So(store.Get("B"), ShouldNotBeNil)
				So(store.Get("C"), ShouldBeNil)
				So(len(store.Versions()), ShouldEqual, 2)
			})
		})
	})
}

func TestOptionLabel(t *testing.T) {
	Convey("Given option indices", t, func() {
		Convey("When formatting labels", func() {
			Convey("Then indices map to letters", func() {
				So(template.OptionLabel(0), ShouldEqual, "A")
				So(template.OptionLabel(3), ShouldEqual, "D")
				So(template.OptionLabel(-1), ShouldEqual, "?")
				So(template.OptionLabel(26), ShouldEqual, "?")
			})
		})
	})
}
