// Package gateway is the only place that talks to the processing service. It
// turns domain operations into HTTP exchanges and every failure into one of
// the error kinds in errors.go. It holds no mutable state and never retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/model"
)

// maxErrorBody bounds how much of an error response is kept in ServerError.
const maxErrorBody = 2048

// Client is a thin HTTP client for the processing service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// New builds a Client with its own http.Client.
func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout}, log)
}

// NewWithHTTPClient lets tests and callers supply a preconfigured client.
func NewWithHTTPClient(baseURL string, hc *http.Client, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		log:        log,
	}
}

// FilePart is a local file streamed as a multipart "file" field.
type FilePart struct {
	Name    string
	Content io.Reader
}

// VideoSubmission is the input of SubmitVideo. Exactly one of URL and File is
// expected; the upload coordinator enforces that before calling.
type VideoSubmission struct {
	URL                string
	File               *FilePart
	ScreenshotInterval int
	SmartMode          bool
}

// SubmitVideo creates a video job and returns its id.
func (c *Client) SubmitVideo(ctx context.Context, sub VideoSubmission) (string, error) {
	const op = "submit video job"
	if (sub.URL == "") == (sub.File == nil) {
		return "", NewValidationError("source", "exactly one of url or file is required")
	}
	fields := map[string]string{
		"screenshot_interval": strconv.Itoa(sub.ScreenshotInterval),
		"smart_mode":          strconv.FormatBool(sub.SmartMode),
	}
	if sub.URL != "" {
		fields["url"] = sub.URL
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.postMultipart(ctx, op, "/video/submit_job/", fields, sub.File, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &ServerError{Op: op, Code: http.StatusOK, Err: fmt.Errorf("response has no job_id")}
	}
	return out.JobID, nil
}

// SubmitDocument uploads a document and returns its id.
func (c *Client) SubmitDocument(ctx context.Context, file FilePart) (string, error) {
	const op = "upload document"
	if file.Content == nil {
		return "", NewValidationError("file", "document content is required")
	}
	var out struct {
		DocumentID string `json:"document_id"`
	}
	if err := c.postMultipart(ctx, op, "/document/upload/", nil, &file, &out); err != nil {
		return "", err
	}
	if out.DocumentID == "" {
		return "", &ServerError{Op: op, Code: http.StatusOK, Err: fmt.Errorf("response has no document_id")}
	}
	return out.DocumentID, nil
}

// Progress fetches the progress of a unit from the endpoint matching its kind.
func (c *Client) Progress(ctx context.Context, kind model.SourceKind, id string) (model.ProgressReport, error) {
	var (
		op   string
		path string
	)
	switch kind {
	case model.SourceVideo:
		op, path = "fetch video progress", "/video/progress/"+url.PathEscape(id)
	case model.SourceDocument:
		op, path = "fetch document progress", "/document/progress/"+url.PathEscape(id)
	default:
		return model.ProgressReport{}, NewValidationError("source kind", "unsupported kind %q", kind)
	}
	var report model.ProgressReport
	if err := c.getJSON(ctx, op, path, &report); err != nil {
		return model.ProgressReport{}, err
	}
	return report, nil
}

// JobStatus returns the legacy discrete status of a video job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (model.LegacyJobStatus, error) {
	var status model.LegacyJobStatus
	if err := c.getJSON(ctx, "fetch job status", "/video/job_status/"+url.PathEscape(jobID), &status); err != nil {
		return model.LegacyJobStatus{}, err
	}
	return status, nil
}

// ListDocuments returns the uploaded documents.
func (c *Client) ListDocuments(ctx context.Context) ([]model.DocumentMeta, error) {
	var docs []model.DocumentMeta
	if err := c.getJSON(ctx, "list documents", "/document/list/", &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.DocumentMeta{}
	}
	return docs, nil
}

// ListResults returns every generated note.
func (c *Client) ListResults(ctx context.Context) ([]model.ResultRecord, error) {
	var notes []model.ResultRecord
	if err := c.getJSON(ctx, "list notes", "/notes/", &notes); err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []model.ResultRecord{}
	}
	return notes, nil
}

// GenerateNotes asks the service to build notes for a processed source.
func (c *Client) GenerateNotes(ctx context.Context, sourceID string, kind model.SourceKind) (string, error) {
	const op = "generate notes"
	if sourceID == "" {
		return "", NewValidationError("source id", "must not be empty")
	}
	body := map[string]string{"source_id": sourceID, "source_type": string(kind)}
	var out struct {
		NoteID string `json:"note_id"`
	}
	if err := c.sendJSON(ctx, op, http.MethodPost, "/notes/generate/", body, &out); err != nil {
		return "", err
	}
	if out.NoteID == "" {
		return "", &ServerError{Op: op, Code: http.StatusOK, Err: fmt.Errorf("response has no note_id")}
	}
	return out.NoteID, nil
}

// DownloadArtifact returns the raw bytes of a note rendering.
func (c *Client) DownloadArtifact(ctx context.Context, noteID string, format model.ArtifactFormat) ([]byte, error) {
	op := "download " + string(format)
	if format != model.FormatPDF && format != model.FormatMarkdown {
		return nil, NewValidationError("format", "unsupported artifact format %q", format)
	}
	path := fmt.Sprintf("/notes/download/%s/%s", format, url.PathEscape(noteID))
	resp, err := c.do(ctx, op, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

// TriggerExport pushes a note to the external note service.
func (c *Client) TriggerExport(ctx context.Context, noteID string) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.sendJSON(ctx, "export note", http.MethodPost, "/notion/push_notes/"+url.PathEscape(noteID), nil, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// GetSettings reads the settings of a user.
func (c *Client) GetSettings(ctx context.Context, userID string) (model.UserSettings, error) {
	var s model.UserSettings
	if err := c.getJSON(ctx, "load settings", "/settings/"+url.PathEscape(userID), &s); err != nil {
		return model.UserSettings{}, err
	}
	return s, nil
}

// SaveSettings writes the settings of a user and returns what was stored.
func (c *Client) SaveSettings(ctx context.Context, userID string, s model.UserSettings) (model.UserSettings, error) {
	var out model.UserSettings
	if err := c.sendJSON(ctx, "save settings", http.MethodPost, "/settings/"+url.PathEscape(userID), s, &out); err != nil {
		return model.UserSettings{}, err
	}
	return out, nil
}

// DashboardStats fetches the summary counts.
func (c *Client) DashboardStats(ctx context.Context) (model.DashboardStats, error) {
	var stats model.DashboardStats
	if err := c.getJSON(ctx, "load dashboard", "/dashboard/stats", &stats); err != nil {
		return model.DashboardStats{}, err
	}
	return stats, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return decodeJSON(op, resp, out)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		bs, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(bs)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, op, method, path, body, contentType)
	if err != nil {
		return err
	}
	return decodeJSON(op, resp, out)
}

// postMultipart streams a multipart form through an io.Pipe so large videos are
// never held in memory.
func (c *Client) postMultipart(ctx context.Context, op, path string, fields map[string]string, file *FilePart, out any) error {
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeMultipart(mw, fields, file)
		if err == nil {
			err = mw.Close()
		}
		// CloseWithError(nil) behaves like Close, signalling EOF to the reader.
		pw.CloseWithError(err)
	}()
	resp, err := c.do(ctx, op, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		return err
	}
	return decodeJSON(op, resp, out)
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, file *FilePart) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if file == nil {
		return nil
	}
	part, err := mw.CreateFormFile("file", file.Name)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	return nil
}

// do performs one request and returns the response only for 2xx statuses.
// Non-2xx responses are drained, closed and translated into error kinds.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	reqID := logger.RequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	log := logger.FromContext(ctx, c.log).With("req_id", reqID)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		if rc, ok := body.(io.Closer); ok {
			rc.Close()
		}
		return nil, NewValidationError("request", "%s: %v", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log.Debug("gateway.http.request", "op", op, "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("gateway.http.send_error", "op", op, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &NetworkError{Op: op, Err: err}
	}
	log.Debug("gateway.http.response", "op", op, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Op: op, Path: path}
	}
	return nil, &ServerError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

func decodeJSON(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := resp.Request.Context().Err(); ctxErr != nil {
			return &NetworkError{Op: op, Err: ctxErr}
		}
		return &ServerError{Op: op, Code: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
