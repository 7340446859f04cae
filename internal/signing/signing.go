// Package signing issues and checks expiring HMAC links to note artifacts.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dharsanguruparan/notely/internal/model"
)

// SharedPrefix is the path under which signed links are served.
const SharedPrefix = "/shared/"

var (
	ErrExpired      = errors.New("link expired")
	ErrBadSignature = errors.New("link signature mismatch")
)

// Signer generates and validates link signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature binding noteID, format and expiry.
func (s *Signer) Sign(noteID string, format model.ArtifactFormat, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s:%d", noteID, format, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Link returns a relative URL to the artifact that stays valid for ttl.
func (s *Signer) Link(noteID string, format model.ArtifactFormat, ttl time.Duration) string {
	exp := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("sig", s.Sign(noteID, format, exp))
	return SharedPrefix + string(format) + "/" + url.PathEscape(noteID) + "?" + q.Encode()
}

// Validate checks a signature taken from a link's query.
func (s *Signer) Validate(noteID string, format model.ArtifactFormat, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	expected := s.Sign(noteID, format, exp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}
