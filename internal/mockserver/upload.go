package mockserver

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const sniffLen = 512

type uploadForm struct {
	fields      map[string]string
	fileName    string
	contentType string
	size        int64
}

// readUpload streams a multipart body. The file part is counted and sniffed
// but not kept.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		return uploadForm{}, errors.New("expecting multipart form")
	}
	form := uploadForm{fields: make(map[string]string)}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return uploadForm{}, fmt.Errorf("read upload: %w", err)
		}
		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				return uploadForm{}, fmt.Errorf("read field %s: %w", part.FormName(), err)
			}
			form.fields[part.FormName()] = string(value)
			continue
		}
		if part.FormName() != "file" || form.fileName != "" {
			part.Close()
			continue
		}
		if err := s.consumeFile(part, &form); err != nil {
			return uploadForm{}, err
		}
	}
	return form, nil
}

func (s *Server) consumeFile(part *multipart.Part, form *uploadForm) error {
	defer part.Close()
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.opts.MaxUploadBytes {
				return errors.New("file exceeds limit")
			}
			if len(sniff) < sniffLen {
				chunk := n
				if remain := sniffLen - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		return errors.New("empty file")
	}
	form.fileName = part.FileName()
	form.contentType = http.DetectContentType(sniff)
	form.size = written
	return nil
}

func allowedDocumentType(contentType string) bool {
	switch contentType {
	case "application/pdf", "application/zip":
		return true
	}
	return false
}
