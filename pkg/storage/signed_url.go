package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Download token errors.
var (
	ErrTokenMalformed = errors.New("malformed download token")
	ErrTokenSignature = errors.New("invalid download token signature")
	ErrTokenExpired   = errors.New("download token expired")
)

// DownloadGrant is the content of a verified download token.
type DownloadGrant struct {
	ReportID  string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner issues HMAC-signed, expiring download tokens for stored reports.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer. A non-positive ttl defaults to one hour.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token of the form reportID.expiry.path.signature.
func (s *SignedURLSigner) Sign(reportID, path string) (string, time.Time, error) {
	if reportID == "" || path == "" {
		return "", time.Time{}, fmt.Errorf("report id and path required")
	}
	if strings.Contains(reportID, ".") {
		return "", time.Time{}, fmt.Errorf("report id must not contain dots")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(path))
	token := strings.Join([]string{reportID, exp, encodedPath, s.mac(reportID, exp, encodedPath)}, ".")
	return token, expiresAt, nil
}

// Verify checks the signature and expiry of token.
func (s *SignedURLSigner) Verify(token string) (DownloadGrant, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return DownloadGrant{}, ErrTokenMalformed
	}
	reportID, exp, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.mac(reportID, exp, encodedPath)), []byte(signature)) {
		return DownloadGrant{}, ErrTokenSignature
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return DownloadGrant{}, ErrTokenMalformed
	}
	path, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return DownloadGrant{}, ErrTokenMalformed
	}
	grant := DownloadGrant{ReportID: reportID, Path: string(path), ExpiresAt: time.Unix(expUnix, 0).UTC()}
	if s.now().After(grant.ExpiresAt) {
		return grant, ErrTokenExpired
	}
	return grant, nil
}

func (s *SignedURLSigner) mac(reportID, exp, encodedPath string) string {
	m := hmac.New(sha256.New, s.secret)
	_, _ = m.Write([]byte(reportID + "|" + exp + "|" + encodedPath))
	return hex.EncodeToString(m.Sum(nil))
}
