package datastore_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"omr-grader/internal/datastore"

	. "github.com/smartystreets/goconvey/convey"
)

func openStore(t *testing.T) *datastore.SQLiteStore {
	t.Helper()
	store := datastore.New(filepath.Join(t.TempDir(), "omr.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func sheetRow(id, status string) *datastore.Sheet {
	return &datastore.Sheet{
		ID:           id,
		OriginalName: id + ".png",
		ImagePath:    "/tmp/" + id + ".png",
		Template:     "standard-100",
		KeyVersion:   "A",
		Status:       status,
	}
}

func TestSheets(t *testing.T) {
	Convey("Given an open store", t, func() {
		store := openStore(t)
		Reset(func() { _ = store.Close() })

		Convey("When a sheet is saved", func() {
			So(store.SaveSheet(sheetRow("s-1", datastore.StatusUploaded)), ShouldBeNil)

			Convey("Then it comes back by ID", func() {
				got, err := store.GetSheet("s-1")
				So(err, ShouldBeNil)
				So(got.OriginalName, ShouldEqual, "s-1.png")
				So(got.Status, ShouldEqual, datastore.StatusUploaded)
				So(got.CreatedAt.IsZero(), ShouldBeFalse)
			})

			Convey("Then an unknown ID reports not found", func() {
				_, err := store.GetSheet("nope")
				So(errors.Is(err, datastore.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When several sheets exist", func() {
			for i := 1; i <= 3; i++ {
				s := sheetRow(fmt.Sprintf("s-%d", i), datastore.StatusUploaded)
				s.CreatedAt = time.Date(2026, 3, i, 12, 0, 0, 0, time.UTC)
				So(store.SaveSheet(s), ShouldBeNil)
			}

			Convey("Then listing returns newest first with paging", func() {
				sheets, err := store.ListSheets(2, 0)
				So(err, ShouldBeNil)
				So(len(sheets), ShouldEqual, 2)
				So(sheets[0].ID, ShouldEqual, "s-3")
				So(sheets[1].ID, ShouldEqual, "s-2")

				rest, err := store.ListSheets(2, 2)
				So(err, ShouldBeNil)
				So(len(rest), ShouldEqual, 1)
				So(rest[0].ID, ShouldEqual, "s-1")
			})
		})

		Convey("When a sheet is claimed for processing", func() {
			So(store.SaveSheet(sheetRow("s-9", datastore.StatusUploaded)), ShouldBeNil)

			claimed, err := store.ClaimSheet("s-9")
			So(err, ShouldBeNil)
			So(claimed, ShouldBeTrue)

			Convey("Then a second claim loses", func() {
				again, err := store.ClaimSheet("s-9")
				So(err, ShouldBeNil)
				So(again, ShouldBeFalse)
			})

			Convey("Then the status moved to processing", func() {
				got, err := store.GetSheet("s-9")
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, datastore.StatusProcessing)
			})
		})

		Convey("When claiming a sheet that does not exist", func() {
			claimed, err := store.ClaimSheet("ghost")
			So(err, ShouldBeNil)
			So(claimed, ShouldBeFalse)
		})

		Convey("When a queued upload is rolled back", func() {
			So(store.SaveSheet(sheetRow("s-gone", datastore.StatusUploaded)), ShouldBeNil)
			So(store.DeleteSheet("s-gone"), ShouldBeNil)

			Convey("Then the sheet is gone", func() {
				_, err := store.GetSheet("s-gone")
				So(errors.Is(err, datastore.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When a restart finds sheets mid-flight", func() {
			orphan := sheetRow("s-orphan", datastore.StatusProcessing)
			orphan.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			So(store.SaveSheet(orphan), ShouldBeNil)

			pending := sheetRow("s-pending", datastore.StatusUploaded)
			pending.CreatedAt = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
			So(store.SaveSheet(pending), ShouldBeNil)

			So(store.SaveSheet(sheetRow("s-done", datastore.StatusCompleted)), ShouldBeNil)

			released, err := store.ReleaseProcessing()
			So(err, ShouldBeNil)
			So(released, ShouldEqual, 1)

			Convey("Then the orphan is uploadable again", func() {
				got, err := store.GetSheet("s-orphan")
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, datastore.StatusUploaded)
			})

			Convey("Then pending IDs list oldest first", func() {
				ids, err := store.SheetIDsByStatus(datastore.StatusUploaded)
				So(err, ShouldBeNil)
				So(ids, ShouldResemble, []string{"s-orphan", "s-pending"})
			})

			Convey("Then completed sheets are untouched", func() {
				got, err := store.GetSheet("s-done")
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, datastore.StatusCompleted)
			})
		})
	})
}

func TestResults(t *testing.T) {
	Convey("Given a store with a processing sheet", t, func() {
		store := openStore(t)
		Reset(func() { _ = store.Close() })

		So(store.SaveSheet(sheetRow("s-1", datastore.StatusProcessing)), ShouldBeNil)

		logs := []datastore.ProcessingLog{
			{SheetID: "s-1", RunID: "r-1", Seq: 1, Stage: "register", Message: "registered"},
			{SheetID: "s-1", RunID: "r-1", Seq: 2, Stage: "score", Message: "graded"},
		}

		Convey("When a result is saved", func() {
			result := &datastore.SheetResult{
				SheetID:    "s-1",
				RunID:      "r-1",
				KeyVersion: "A",
				Total:      83,
				MaxTotal:   100,
				Percent:    83,
				Answered:   95,
				Blank:      3,
				Unresolved: 2,
				Detail:     `{"total":83}`,
			}
			So(store.SaveResult("s-1", result, logs), ShouldBeNil)

			Convey("Then the sheet is completed and linked to the run", func() {
				sheet, err := store.GetSheet("s-1")
				So(err, ShouldBeNil)
				So(sheet.Status, ShouldEqual, datastore.StatusCompleted)
				So(sheet.RunID, ShouldEqual, "r-1")
				So(sheet.Error, ShouldBeBlank)
			})

			Convey("Then the result and logs read back in order", func() {
				got, err := store.GetResult("s-1")
				So(err, ShouldBeNil)
				So(got.Total, ShouldEqual, 83)
				So(got.Detail, ShouldEqual, `{"total":83}`)

				events, err := store.GetLogs("s-1")
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, 2)
				So(events[0].Stage, ShouldEqual, "register")
				So(events[1].Stage, ShouldEqual, "score")
			})
		})

		Convey("When a run fails", func() {
			So(store.MarkFailed("s-1", "r-2", "registration: found 2 of 4 fiducial markers", logs[:1]), ShouldBeNil)

			Convey("Then the sheet carries the error and no result exists", func() {
				sheet, err := store.GetSheet("s-1")
				So(err, ShouldBeNil)
				So(sheet.Status, ShouldEqual, datastore.StatusError)
				So(sheet.RunID, ShouldEqual, "r-2")
				So(sheet.Error, ShouldContainSubstring, "fiducial")

				_, err = store.GetResult("s-1")
				So(errors.Is(err, datastore.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestAnalytics(t *testing.T) {
	Convey("Given a store with graded and failed sheets", t, func() {
		store := openStore(t)
		Reset(func() { _ = store.Close() })

		percents := []float64{50, 75, 100}
		for i, p := range percents {
			id := fmt.Sprintf("s-%d", i+1)
			So(store.SaveSheet(sheetRow(id, datastore.StatusProcessing)), ShouldBeNil)
			result := &datastore.SheetResult{
				SheetID:  id,
				RunID:    fmt.Sprintf("r-%d", i+1),
				Total:    int(p),
				MaxTotal: 100,
				Percent:  p,
				Detail:   "{}",
			}
			if i == 2 {
				result.FlaggedCount = 4
			}
			So(store.SaveResult(id, result, nil), ShouldBeNil)
		}
		So(store.SaveSheet(sheetRow("s-bad", datastore.StatusError)), ShouldBeNil)

		Convey("When counting by status", func() {
			counts, err := store.CountByStatus()
			So(err, ShouldBeNil)
			So(counts[datastore.StatusCompleted], ShouldEqual, 3)
			So(counts[datastore.StatusError], ShouldEqual, 1)
		})

		Convey("When aggregating results", func() {
			agg, err := store.ResultAggregates()
			So(err, ShouldBeNil)
			So(agg.Graded, ShouldEqual, 3)
			So(agg.MeanPercent, ShouldEqual, 75)
			So(agg.MinPercent, ShouldEqual, 50)
			So(agg.MaxPercent, ShouldEqual, 100)
			So(agg.FlaggedSheets, ShouldEqual, 1)
		})

		Convey("When walking completed results", func() {
			var seen []string
			err := store.EachCompletedResult(func(sheet datastore.Sheet, result datastore.SheetResult) error {
				seen = append(seen, sheet.ID)
				So(result.MaxTotal, ShouldEqual, 100)
				return nil
			})
			So(err, ShouldBeNil)
			So(len(seen), ShouldEqual, 3)

			Convey("Then a callback error stops the walk", func() {
				calls := 0
				err := store.EachCompletedResult(func(datastore.Sheet, datastore.SheetResult) error {
					calls++
					return errors.New("stop")
				})
				So(err, ShouldNotBeNil)
				So(calls, ShouldEqual, 1)
			})
		})
	})
}

func TestAggregatesEmpty(t *testing.T) {
	Convey("Given an empty store", t, func() {
		store := openStore(t)
		Reset(func() { _ = store.Close() })

		Convey("Then aggregates come back zeroed, not as an error", func() {
			agg, err := store.ResultAggregates()
			So(err, ShouldBeNil)
			So(agg.Graded, ShouldEqual, 0)
			So(agg.MeanPercent, ShouldEqual, 0)
		})
	})
}
