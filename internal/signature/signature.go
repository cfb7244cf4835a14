// Package signature authenticates relay requests signed with a shared secret.
//
// A caller signs "<unix-seconds>.<raw body>" with HMAC-SHA256 and sends the
// timestamp and the "sha256=<hex>" digest in two headers. Verification runs on
// the raw body before any JSON parsing.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Header names carried by signed requests.
const (
	HeaderTimestamp = "X-Relay-Timestamp"
	HeaderSignature = "X-Relay-Signature"
)

// DefaultMaxSkew is used when a verifier is built with a non-positive skew.
const DefaultMaxSkew = 300 * time.Second

// Failure codes returned in Error.Code.
const (
	CodeInvalidTimestamp       = "invalid_timestamp"
	CodeTimestampOutOfRange    = "timestamp_out_of_range"
	CodeMissingSignature       = "missing_signature"
	CodeInvalidSignatureFormat = "invalid_signature_format"
	CodeSignatureMismatch      = "signature_mismatch"
)

var signaturePattern = regexp.MustCompile(`^sha256=[0-9a-f]{64}$`)

// Error is an authentication failure.
type Error struct{ Code string }

func (e *Error) Error() string { return "signature: " + e.Code }

// Verifier checks request signatures against a shared secret.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier returns a verifier for secret. maxSkew <= 0 selects DefaultMaxSkew.
func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

// MaxSkew reports the accepted clock skew window.
func (v *Verifier) MaxSkew() time.Duration { return v.maxSkew }

// Verify authenticates body given the raw header values. It returns nil or *Error.
func (v *Verifier) Verify(timestamp, sig string, body []byte) error {
	timestamp = strings.TrimSpace(timestamp)
	if timestamp == "" {
		return &Error{Code: CodeInvalidTimestamp}
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &Error{Code: CodeInvalidTimestamp}
	}
	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(v.maxSkew/time.Second) {
		return &Error{Code: CodeTimestampOutOfRange}
	}

	sig = strings.TrimSpace(sig)
	if sig == "" {
		return &Error{Code: CodeMissingSignature}
	}
	if !signaturePattern.MatchString(sig) {
		return &Error{Code: CodeInvalidSignatureFormat}
	}
	got, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return &Error{Code: CodeInvalidSignatureFormat}
	}
	if !hmac.Equal(got, v.digest(timestamp, body)) {
		return &Error{Code: CodeSignatureMismatch}
	}
	return nil
}

func (v *Verifier) digest(timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the signature header value for body sent at unix time ts.
func Sign(secret string, ts int64, body []byte) string {
	v := &Verifier{secret: []byte(secret)}
	return "sha256=" + hex.EncodeToString(v.digest(strconv.FormatInt(ts, 10), body))
}
