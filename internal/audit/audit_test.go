package audit_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"omr-grader/internal/audit"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRecord(t *testing.T) {
	Convey("Given a fresh audit record", t, func() {
		record := audit.NewRecord("run-1", "sheet-9", "standard-100", "A")

		Convey("When stages are appended and the record is sealed", func() {
			So(record.Append(audit.StageRegister, "registered", map[string]any{
				"method":   "perspective",
				"residual": 0.42,
			}), ShouldBeNil)
			So(record.Append(audit.StageResolve, "resolved 100 questions", nil), ShouldBeNil)
			record.Seal(nil)

			Convey("Then events keep their order and the record closes as completed", func() {
				So(record.EventCount(), ShouldEqual, 2)
				So(record.Sealed(), ShouldBeTrue)
				So(record.Outcome, ShouldEqual, audit.OutcomeCompleted)
				So(record.Events[0].Seq, ShouldEqual, 1)
				So(record.Events[0].Stage, ShouldEqual, audit.StageRegister)
				So(record.Events[1].Seq, ShouldEqual, 2)
			})

			Convey("Then appending after sealing fails", func() {
				err := record.Append(audit.StageScore, "late", nil)
				So(err, ShouldNotBeNil)
				So(record.EventCount(), ShouldEqual, 2)
			})

			Convey("Then the export round-trips as JSON", func() {
				data, err := record.ExportJSON()
				So(err, ShouldBeNil)

				var decoded map[string]any
				So(json.Unmarshal(data, &decoded), ShouldBeNil)
				So(decoded["run_id"], ShouldEqual, "run-1")
				So(decoded["template"], ShouldEqual, "standard-100")
				So(decoded["outcome"], ShouldEqual, "completed")
			})
		})

		Convey("When the run fails during registration", func() {
			So(record.Append(audit.StageRegister, "registration failed", nil), ShouldBeNil)
			record.Seal(errors.New("found 2 of 4 fiducial markers"))

			Convey("Then the record closes as failed with the error", func() {
				So(record.Outcome, ShouldEqual, audit.OutcomeFailed)
				So(record.Error, ShouldContainSubstring, "2 of 4")
			})

			Convey("Then sealing again does not change the outcome", func() {
				record.Seal(nil)
				So(record.Outcome, ShouldEqual, audit.OutcomeFailed)
			})
		})
	})
}

func TestStore(t *testing.T) {
	Convey("Given a store with limited capacity", t, func() {
		store := audit.NewStore(3)

		Convey("When more records than capacity are added", func() {
			for i := 1; i <= 5; i++ {
				store.Put(audit.NewRecord(fmt.Sprintf("run-%d", i), "", "standard-100", "A"))
			}

			Convey("Then the oldest records are evicted", func() {
				So(store.Len(), ShouldEqual, 3)

				_, ok := store.Get("run-1")
				So(ok, ShouldBeFalse)
				_, ok = store.Get("run-2")
				So(ok, ShouldBeFalse)

				got, ok := store.Get("run-5")
				So(ok, ShouldBeTrue)
				So(got.RunID, ShouldEqual, "run-5")
			})
		})

		Convey("When the same run is put twice", func() {
			record := audit.NewRecord("run-x", "", "standard-100", "A")
			store.Put(record)
			store.Put(record)

			Convey("Then it is stored once", func() {
				So(store.Len(), ShouldEqual, 1)
			})
		})

		Convey("When a sheet is processed more than once", func() {
			store.Put(audit.NewRecord("run-a", "sheet-7", "standard-100", "A"))
			store.Put(audit.NewRecord("run-b", "sheet-9", "standard-100", "A"))
			store.Put(audit.NewRecord("run-c", "sheet-7", "standard-100", "A"))

			Convey("Then FindBySheet returns its runs oldest first", func() {
				runs := store.FindBySheet("sheet-7")
				So(len(runs), ShouldEqual, 2)
				So(runs[0].RunID, ShouldEqual, "run-a")
				So(runs[1].RunID, ShouldEqual, "run-c")

				So(store.FindBySheet("sheet-404"), ShouldBeEmpty)
			})
		})
	})
}
