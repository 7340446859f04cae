package signing

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/notely/internal/model"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	sig := s.Sign("note-1", model.FormatPDF, 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	s.now = func() time.Time { return time.Unix(1600000000, 0) }
	if err := s.Validate("note-1", model.FormatPDF, "1700000000", sig); err != nil {
		t.Fatalf("expected signature to validate: %v", err)
	}
	if err := s.Validate("note-2", model.FormatPDF, "1700000000", sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong note id: %v", err)
	}
	if err := s.Validate("note-1", model.FormatMarkdown, "1700000000", sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong format: %v", err)
	}
	if err := s.Validate("note-1", model.FormatPDF, "42", sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong expiry: %v", err)
	}
}

func TestLinkExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewSigner([]byte("k"))
	s.now = func() time.Time { return now }

	link := s.Link("note-1", model.FormatMarkdown, time.Minute)
	if !strings.HasPrefix(link, SharedPrefix+"md/note-1?") {
		t.Fatalf("link = %q", link)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("expires") != strconv.FormatInt(now.Add(time.Minute).Unix(), 10) {
		t.Fatalf("expires = %q", q.Get("expires"))
	}
	if err := s.Validate("note-1", model.FormatMarkdown, q.Get("expires"), q.Get("sig")); err != nil {
		t.Fatalf("fresh link rejected: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := s.Validate("note-1", model.FormatMarkdown, q.Get("expires"), q.Get("sig")); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
