package mockserver

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/notely/internal/model"
)

const modelName = "mock-llm"

func newNote(job Job) *Note {
	id := uuid.NewString()
	title := titleFor(job)
	md := fmt.Sprintf("# %s\n\nSource: %s (%s)\n\n## Summary\n\n- Key idea one\n- Key idea two\n", title, job.Name, job.Kind)
	rec := model.ResultRecord{
		ID:         id,
		Title:      title,
		SourceKind: job.Kind,
		SourceName: job.Name,
		CreatedAt:  model.Timestamp{Time: time.Now().UTC()},
		ModelUsed:  modelName,
	}
	if job.Kind == model.SourceVideo {
		rec.Thumbnails = []string{
			fmt.Sprintf("/static/%s/frame-001.png", job.ID),
			fmt.Sprintf("/static/%s/frame-002.png", job.ID),
		}
	}
	return &Note{Record: rec, Markdown: md}
}

func titleFor(job Job) string {
	name := job.Name
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = job.ID
	}
	return "Notes: " + base
}

// renderPDF lays out one page per line group. The output is small but valid
// enough for PDF readers to count pages and pull text.
func renderPDF(title string, body string) []byte {
	lines := append([]string{title}, strings.Split(strings.TrimSpace(body), "\n")...)
	var text strings.Builder
	text.WriteString("BT /F1 12 Tf 72 740 Td 14 TL")
	for _, l := range lines {
		fmt.Fprintf(&text, " (%s) '", pdfEscape(l))
	}
	text.WriteString(" ET")
	stream := text.String()

	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func pdfEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
