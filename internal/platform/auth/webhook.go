package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VNZray/capstone-project-sub001/internal/platform/httpx"
)

const (
	defaultSignatureHeader = "X-Gateway-Signature"
	defaultClockSkew       = 5 * time.Minute
)

var (
	// ErrSignatureInvalid indicates the HMAC did not match or was malformed.
	ErrSignatureInvalid = errors.New("auth: webhook signature invalid")
	// ErrTimestampSkew indicates the signed timestamp is outside the tolerance window.
	ErrTimestampSkew = errors.New("auth: webhook timestamp outside tolerance")
)

// WebhookVerifier validates gateway webhook signatures of the form
// "t=<unix seconds>,v1=<hex hmac>" where the HMAC-SHA256 is computed over
// "<timestamp>.<raw body>" with a shared secret. The timestamp embedded in the
// signed payload defeats replay beyond the tolerance window.
type WebhookVerifier struct {
	secret []byte

	header    string
	clockSkew time.Duration
	now       func() time.Time
}

// WebhookVerifierOption customises the verifier.
type WebhookVerifierOption func(*WebhookVerifier)

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithClockSkew adjusts the accepted timestamp tolerance.
func WithClockSkew(d time.Duration) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithSignatureHeader overrides the header carrying the signature.
func WithSignatureHeader(name string) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if name != "" {
			v.header = name
		}
	}
}

// NewWebhookVerifier builds a verifier for the shared secret.
func NewWebhookVerifier(secret string, opts ...WebhookVerifierOption) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: webhook secret is required")
	}
	v := &WebhookVerifier{
		secret:    []byte(secret),
		header:    defaultSignatureHeader,
		clockSkew: defaultClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify checks the signature header against the raw body. It returns
// ErrTimestampSkew when the embedded timestamp is outside the tolerance window
// and ErrSignatureInvalid for every other verification failure.
func (v *WebhookVerifier) Verify(header string, body []byte) error {
	timestamp, candidates, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return ErrTimestampSkew
	}

	signed := make([]byte, 0, len(body)+21)
	signed = strconv.AppendInt(signed, timestamp.Unix(), 10)
	signed = append(signed, '.')
	signed = append(signed, body...)

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(signed)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// Middleware rejects requests that fail signature verification before the
// handler runs. The body is restored for downstream reads. Nothing is persisted
// for rejected requests.
func (v *WebhookVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get(v.header))
			if header == "" {
				httpx.WriteError(w, r, http.StatusUnauthorized, "signature_missing", "signature header missing", nil)
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification", nil)
				return
			}

			switch err := v.Verify(header, body); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrTimestampSkew):
				httpx.WriteError(w, r, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window", nil)
			default:
				httpx.WriteError(w, r, http.StatusUnauthorized, "signature_invalid", "signature verification failed", nil)
			}
		})
	}
}

func parseSignatureHeader(value string) (time.Time, [][]byte, error) {
	var (
		timestamp  time.Time
		candidates [][]byte
	)

	for _, part := range strings.Split(value, ",") {
		key, raw, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			seconds, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("%w: bad timestamp %q", ErrSignatureInvalid, raw)
			}
			timestamp = time.Unix(seconds, 0).UTC()
		case "v1":
			decoded, err := hex.DecodeString(raw)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("%w: bad signature encoding", ErrSignatureInvalid)
			}
			candidates = append(candidates, decoded)
		}
	}

	if timestamp.IsZero() || len(candidates) == 0 {
		return time.Time{}, nil, fmt.Errorf("%w: header missing timestamp or signature", ErrSignatureInvalid)
	}
	return timestamp, candidates, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
