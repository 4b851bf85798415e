package api_test

import (
	"bytes"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	. "github.com/smartystreets/goconvey/convey"

	"omr-grader/internal/api"
	"omr-grader/internal/datastore"
	"omr-grader/internal/overlay"
	"omr-grader/internal/template"
	"omr-grader/internal/worker"
	"omr-grader/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.Options{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

type harness struct {
	ctrl       *api.Controller
	store      *datastore.SQLiteStore
	queue      *worker.Queue
	dataDir    string
	overlayDir string
}

func newHarness(t *testing.T, queueCap int) *harness {
	t.Helper()

	store := datastore.New(filepath.Join(t.TempDir(), "omr.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("opening datastore: %v", err)
	}

	tmpl := template.Get("practice-20")
	keys := template.NewKeyStore()
	answers := make([][]int, tmpl.Questions)
	for q := range answers {
		answers[q] = []int{(q * 3) % tmpl.Options}
	}
	keys.Add(&template.AnswerKey{KeyVersion: "A", TemplateName: tmpl.Name(), Answers: answers})

	dir := t.TempDir()
	h := &harness{
		store:      store,
		queue:      worker.NewQueue(queueCap),
		dataDir:    filepath.Join(dir, "uploads"),
		overlayDir: filepath.Join(dir, "overlays"),
	}
	if err := os.MkdirAll(h.overlayDir, 0o755); err != nil {
		t.Fatalf("creating overlay dir: %v", err)
	}

	ctrl, err := api.New(echo.New(), api.Config{
		Store:           store,
		Queue:           h.queue,
		Keys:            keys,
		DataDir:         h.dataDir,
		OverlayDir:      h.overlayDir,
		DefaultTemplate: "practice-20",
		Log:             logger.Discard(),
	})
	if err != nil {
		t.Fatalf("building controller: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ctrl.Echo.ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// pngBytes encodes a small valid grayscale PNG for upload bodies.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	data, err := overlay.EncodePNG(image.NewGray(image.Rect(0, 0, 24, 24)))
	if err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return data
}

// uploadRequest builds a multipart POST /api/v1/sheets request.
func uploadRequest(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("writing field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sheets", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	Convey("Given a running controller", t, func() {
		h := newHarness(t, 4)
		Reset(func() { _ = h.store.Close() })

		Convey("When /healthz is hit", func() {
			rec := h.get("/healthz")

			Convey("Then it reports ok with the registered templates and keys", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				decodeJSON(t, rec, &body)
				So(body["status"], ShouldEqual, "ok")
				So(body["templates"], ShouldContain, "practice-20")
				So(body["key_versions"], ShouldContain, "A")
			})
		})

		Convey("When /metrics is scraped", func() {
			rec := h.get("/metrics")

			Convey("Then prometheus output is served", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, "omr_grader_")
			})
		})
	})
}

func TestUploadSheet(t *testing.T) {
	Convey("Given a controller with a roomy queue", t, func() {
		h := newHarness(t, 8)
		Reset(func() { _ = h.store.Close() })
		png := pngBytes(t)

		Convey("When a valid sheet is uploaded", func() {
			rec := h.do(uploadRequest(t, "scan.png", png, map[string]string{"key_version": "A"}))

			Convey("Then it is accepted, stored, and queued", func() {
				So(rec.Code, ShouldEqual, http.StatusAccepted)
				var resp api.SheetResponse
				decodeJSON(t, rec, &resp)
				So(resp.ID, ShouldNotBeEmpty)
				So(resp.Status, ShouldEqual, datastore.StatusUploaded)
				So(resp.Template, ShouldEqual, "practice-20")
				So(resp.KeyVersion, ShouldEqual, "A")

				row, err := h.store.GetSheet(resp.ID)
				So(err, ShouldBeNil)
				So(row.OriginalName, ShouldEqual, "scan.png")
				_, err = os.Stat(row.ImagePath)
				So(err, ShouldBeNil)
				So(h.queue.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the file field is missing", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sheets", nil)
			rec := h.do(req)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the extension is not an image format", func() {
			rec := h.do(uploadRequest(t, "scan.pdf", png, nil))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(rec.Body.String(), ShouldContainSubstring, "upload rejected")
		})

		Convey("When the body does not decode as an image", func() {
			rec := h.do(uploadRequest(t, "scan.png", []byte("not a png"), nil))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(rec.Body.String(), ShouldContainSubstring, "decode failed")
		})

		Convey("When the template is unknown", func() {
			rec := h.do(uploadRequest(t, "scan.png", png, map[string]string{"template": "mystery-40"}))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(rec.Body.String(), ShouldContainSubstring, "unknown template")
		})

		Convey("When the key version is unknown", func() {
			rec := h.do(uploadRequest(t, "scan.png", png, map[string]string{"key_version": "Z"}))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(rec.Body.String(), ShouldContainSubstring, "unknown key version")
		})
	})

	Convey("Given a controller whose queue is full", t, func() {
		h := newHarness(t, 1)
		Reset(func() { _ = h.store.Close() })
		So(h.queue.Enqueue("blocker"), ShouldBeTrue)

		Convey("When a sheet is uploaded", func() {
			rec := h.do(uploadRequest(t, "scan.png", pngBytes(t), nil))

			Convey("Then the upload is rolled back with 503", func() {
				So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)

				rows, err := h.store.ListSheets(10, 0)
				So(err, ShouldBeNil)
				So(rows, ShouldBeEmpty)

				entries, err := os.ReadDir(h.dataDir)
				So(err, ShouldBeNil)
				So(entries, ShouldBeEmpty)
			})
		})
	})
}
