package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ArtifactFormat names one of the two downloadable renderings of a note.
type ArtifactFormat string

const (
	FormatPDF      ArtifactFormat = "pdf"
	FormatMarkdown ArtifactFormat = "md"
)

// ParseArtifactFormat validates a user supplied format.
func ParseArtifactFormat(s string) (ArtifactFormat, error) {
	switch ArtifactFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPDF:
		return FormatPDF, nil
	case FormatMarkdown, "markdown":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown artifact format %q (want pdf or md)", s)
}

// Extension returns the file extension used when saving the artifact.
func (f ArtifactFormat) Extension() string {
	return "." + string(f)
}

// ContentType is the MIME type stored alongside archived artifacts.
func (f ArtifactFormat) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/markdown; charset=utf-8"
}

// ResultRecord is a generated note as listed by the service. Records are never
// edited locally.
type ResultRecord struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	SourceKind  SourceKind `json:"source_type"`
	SourceName  string     `json:"source_name"`
	CreatedAt   Timestamp  `json:"created_at"`
	ModelUsed   string     `json:"model_used"`
	Thumbnails  []string   `json:"thumbnails"`
	MarkdownURL string     `json:"markdown_url,omitempty"`
	PDFURL      string     `json:"pdf_url,omitempty"`
}

// DocumentMeta describes an uploaded document.
type DocumentMeta struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	UploadedAt Timestamp `json:"uploaded_at"`
	Status     string    `json:"status"` // pending, processed
}

// UserSettings mirrors the settings object of the service.
type UserSettings struct {
	UserID             string `json:"user_id" yaml:"user_id"`
	GeminiAPIKey       string `json:"gemini_api_key" yaml:"gemini_api_key"`
	WhisperAPIKey      string `json:"whisper_api_key" yaml:"whisper_api_key"`
	NotionAPIKey       string `json:"notion_api_key" yaml:"notion_api_key"`
	ScreenshotInterval int    `json:"screenshot_interval" yaml:"screenshot_interval"`
	EmbeddingType      string `json:"embedding_type" yaml:"embedding_type"`
	LLMPreference      string `json:"llm_preference" yaml:"llm_preference"`
}

// RecentUpload is one entry of the dashboard's recent list.
type RecentUpload struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      SourceKind `json:"type"`
	Thumbnail string     `json:"thumbnail,omitempty"`
	CreatedAt Timestamp  `json:"created_at"`
}

// DashboardStats holds the summary counts shown on the dashboard.
type DashboardStats struct {
	TotalVideos    int            `json:"total_videos"`
	TotalDocuments int            `json:"total_documents"`
	ActiveJobs     int            `json:"active_jobs"`
	RecentUploads  []RecentUpload `json:"recent_uploads"`
}

// Timestamp decodes the handful of ISO-8601 shapes the service emits: with or
// without a zone, with or without fractional seconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", raw)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}
