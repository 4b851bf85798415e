package worker_test

import (
	"io"
	"os"
	"testing"

	"omr-grader/internal/worker"
	"omr-grader/pkg/logger"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.Options{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

func TestQueue(t *testing.T) {
	Convey("Given a queue with capacity two", t, func() {
		q := worker.NewQueue(2)

		Convey("When sheets are enqueued up to capacity", func() {
			So(q.Enqueue("s-1"), ShouldBeTrue)
			So(q.Enqueue("s-2"), ShouldBeTrue)

			Convey("Then the next enqueue is refused", func() {
				So(q.Enqueue("s-3"), ShouldBeFalse)
				So(q.Len(), ShouldEqual, 2)
			})

			Convey("Then dequeue yields them in order", func() {
				So(<-q.Dequeue(), ShouldEqual, "s-1")
				So(<-q.Dequeue(), ShouldEqual, "s-2")
				So(q.Len(), ShouldEqual, 0)
			})
		})

		Convey("When the queue is closed", func() {
			So(q.Enqueue("s-1"), ShouldBeTrue)
			q.Close()

			Convey("Then intake stops but the backlog drains", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue("s-2"), ShouldBeFalse)

				id, ok := <-q.Dequeue()
				So(ok, ShouldBeTrue)
				So(id, ShouldEqual, "s-1")

				_, ok = <-q.Dequeue()
				So(ok, ShouldBeFalse)
			})

			Convey("Then closing again is harmless", func() {
				So(q.Close, ShouldNotPanic)
			})
		})
	})
}
