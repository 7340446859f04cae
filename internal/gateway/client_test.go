package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second, logger.Discard())
}

func TestSubmitVideoByURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/video/submit_job/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("expected X-Request-ID header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("url"); got != "https://youtu.be/abc" {
			t.Errorf("url = %q", got)
		}
		if got := r.FormValue("screenshot_interval"); got != "5" {
			t.Errorf("screenshot_interval = %q", got)
		}
		if got := r.FormValue("smart_mode"); got != "true" {
			t.Errorf("smart_mode = %q", got)
		}
		if _, _, err := r.FormFile("file"); err == nil {
			t.Errorf("file part should be absent for url submissions")
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
	})

	id, err := c.SubmitVideo(context.Background(), VideoSubmission{
		URL:                "https://youtu.be/abc",
		ScreenshotInterval: 5,
		SmartMode:          true,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("id = %q, want job-1", id)
	}
}

func TestSubmitVideoStreamsFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "lecture.mp4" || string(data) != "frames" {
			t.Errorf("got file %q with %q", hdr.Filename, data)
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-2"})
	})
	id, err := c.SubmitVideo(context.Background(), VideoSubmission{
		File:               &FilePart{Name: "lecture.mp4", Content: strings.NewReader("frames")},
		ScreenshotInterval: 10,
	})
	if err != nil || id != "job-2" {
		t.Fatalf("submit = %q, %v", id, err)
	}
}

func TestSubmitVideoRequiresExactlyOneSource(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	_, err := c.SubmitVideo(context.Background(), VideoSubmission{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if called {
		t.Fatalf("validation failures must not reach the network")
	}
}

func TestSubmitDocument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/document/upload/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"document_id": "doc-1"})
	})
	id, err := c.SubmitDocument(context.Background(), FilePart{Name: "a.pdf", Content: strings.NewReader("%PDF-1.4")})
	if err != nil || id != "doc-1" {
		t.Fatalf("submit = %q, %v", id, err)
	}
}

func TestSubmitMissingIDIsServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	_, err := c.SubmitDocument(context.Background(), FilePart{Name: "a.pdf", Content: strings.NewReader("x")})
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestGenerateMissingNoteIDIsServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"note_id":""}`)
	})
	noteID, err := c.GenerateNotes(context.Background(), "job-1", model.SourceVideo)
	if noteID != "" || !errors.Is(err, ErrServer) {
		t.Fatalf("generate = %q, %v; want server error", noteID, err)
	}
}

func TestUnbuildableRequestIsValidationError(t *testing.T) {
	c := New("http://exa\nmple.com", time.Second, logger.Discard())
	_, err := c.DashboardStats(context.Background())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if IsTransient(err) {
		t.Fatalf("a request that cannot be built must not be retried")
	}
}

func TestProgressRoutesByKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video/progress/job-1":
			io.WriteString(w, `{"progress":55,"stage":"embedding","message":"vectors"}`)
		case "/document/progress/doc-1":
			io.WriteString(w, `{"progress":10,"stage":"extracting","message":""}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	rep, err := c.Progress(ctx, model.SourceVideo, "job-1")
	if err != nil {
		t.Fatalf("video progress: %v", err)
	}
	if rep.Progress != 55 || rep.Stage != "embedding" || rep.Message != "vectors" {
		t.Errorf("unexpected report %+v", rep)
	}
	rep, err = c.Progress(ctx, model.SourceDocument, "doc-1")
	if err != nil || rep.Stage != "extracting" {
		t.Errorf("document progress = %+v, %v", rep, err)
	}
}

func TestErrorMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video/progress/missing":
			http.NotFound(w, r)
		case "/video/progress/boom":
			http.Error(w, "pipeline exploded", http.StatusBadGateway)
		case "/video/progress/garbled":
			io.WriteString(w, `{"progress":`)
		}
	})
	ctx := context.Background()

	_, err := c.Progress(ctx, model.SourceVideo, "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if IsTransient(err) {
		t.Errorf("not found must not be transient")
	}

	_, err = c.Progress(ctx, model.SourceVideo, "boom")
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if se.Code != http.StatusBadGateway || !strings.Contains(se.Body, "pipeline exploded") {
		t.Errorf("unexpected server error %+v", se)
	}
	if !IsTransient(err) || StatusCode(err) != http.StatusBadGateway {
		t.Errorf("502 should be transient with status code")
	}

	_, err = c.Progress(ctx, model.SourceVideo, "garbled")
	if !errors.Is(err, ErrServer) {
		t.Errorf("undecodable body should be a server error, got %v", err)
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New(base, time.Second, logger.Discard())
	_, err := c.ListResults(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !IsTransient(err) {
		t.Errorf("network errors are transient")
	}
}

func TestListResultsDecodesRecords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"n1","title":"Intro","source_type":"video","source_name":"lecture.mp4",
			"created_at":"2024-03-01T10:15:00.123456","model_used":"gemini","thumbnails":["a.png","b.png"],
			"markdown_url":"/notes/download/md/n1"}]`)
	})
	notes, err := c.ListResults(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("len = %d", len(notes))
	}
	n := notes[0]
	if n.SourceKind != model.SourceVideo || n.CreatedAt.Year() != 2024 || len(n.Thumbnails) != 2 || n.Thumbnails[1] != "b.png" {
		t.Errorf("unexpected record %+v", n)
	}
}

func TestListNullIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `null`)
	})
	docs, err := c.ListDocuments(context.Background())
	if err != nil || docs == nil || len(docs) != 0 {
		t.Fatalf("docs = %#v, %v", docs, err)
	}
}

func TestDownloadArtifact(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notes/download/md/n1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/markdown")
		io.WriteString(w, "# Notes")
	})
	data, err := c.DownloadArtifact(context.Background(), "n1", model.FormatMarkdown)
	if err != nil || string(data) != "# Notes" {
		t.Fatalf("download = %q, %v", data, err)
	}
	_, err = c.DownloadArtifact(context.Background(), "n1", model.ArtifactFormat("docx"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown format, got %v", err)
	}
	_, err = c.DownloadArtifact(context.Background(), "n2", model.FormatPDF)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateAndExport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notes/generate/":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["source_id"] != "doc-1" || body["source_type"] != "document" {
				t.Errorf("unexpected body %v", body)
			}
			io.WriteString(w, `{"note_id":"n7"}`)
		case "/notion/push_notes/n7":
			if r.Method != http.MethodPost {
				t.Errorf("export must POST")
			}
			io.WriteString(w, `{"success":true}`)
		}
	})
	ctx := context.Background()
	noteID, err := c.GenerateNotes(ctx, "doc-1", model.SourceDocument)
	if err != nil || noteID != "n7" {
		t.Fatalf("generate = %q, %v", noteID, err)
	}
	ok, err := c.TriggerExport(ctx, noteID)
	if err != nil || !ok {
		t.Fatalf("export = %v, %v", ok, err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	var stored model.UserSettings
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settings/demo-user" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&stored)
		}
		json.NewEncoder(w).Encode(stored)
	})
	ctx := context.Background()
	in := model.UserSettings{UserID: "demo-user", ScreenshotInterval: 8, LLMPreference: "gemini"}
	if _, err := c.SaveSettings(ctx, "demo-user", in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := c.GetSettings(ctx, "demo-user")
	if err != nil || got != in {
		t.Fatalf("get = %+v, %v", got, err)
	}
}

func TestCancelledContextIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.DashboardStats(ctx)
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected network error wrapping context.Canceled, got %v", err)
	}
}
