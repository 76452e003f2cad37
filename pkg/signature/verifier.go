package signature

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

// HeaderName is the header Mercury uses to sign webhook deliveries.
const HeaderName = "Mercury-Signature"

// DefaultTolerance is the accepted clock skew between Mercury and this service.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMalformedHeader   = errors.New("malformed signature header")
	ErrInvalidSecret     = errors.New("invalid webhook secret")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrStaleTimestamp    = errors.New("signature timestamp outside allowed skew")
)

// Verify checks a Mercury-Signature header value against the raw request body.
//
// The header has the form t=<unix seconds>,v1=<hex hmac-sha256>. The signed
// payload is "<t>.<body>" using the timestamp exactly as received. The secret
// is the base64 encoded value returned by Mercury when the webhook was created.
func Verify(header string, body []byte, secret string, maxSkew time.Duration, now time.Time) error {
	if maxSkew <= 0 {
		maxSkew = DefaultTolerance
	}
	timestamp, digest, err := parseHeader(header)
	if err != nil {
		return err
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrMalformedHeader, err)
	}
	provided, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("%w: v1: %v", ErrMalformedHeader, err)
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return err
	}

	signedAt := time.Unix(ts, 0)
	if now.Sub(signedAt) > maxSkew || signedAt.Sub(now) > maxSkew {
		return ErrStaleTimestamp
	}
	if !hmac.Equal(provided, compute(key, timestamp, body)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign returns a header value for body signed at t. It mirrors what Mercury
// sends and is used by tests and local tooling.
func Sign(body []byte, secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	timestamp := strconv.FormatInt(t.Unix(), 10)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(compute(key, timestamp, body)), nil
}

// Verifier binds a tolerance and clock to Verify.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a Verifier. A non-positive maxSkew uses DefaultTolerance.
func NewVerifier(maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultTolerance
	}
	return &Verifier{maxSkew: maxSkew, now: time.Now}
}

// WithClock returns a copy of v reading the current time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	if now != nil {
		cp.now = now
	}
	return &cp
}

// Verify validates header and body against secret using the bound tolerance.
func (v *Verifier) Verify(header string, body []byte, secret string) error {
	return Verify(header, body, secret, v.maxSkew, v.now())
}

func parseHeader(header string) (timestamp, digest string, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", fmt.Errorf("%w: empty", ErrMalformedHeader)
	}
	seen := make(map[string]bool, 2)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return "", "", fmt.Errorf("%w: %q is not key=value", ErrMalformedHeader, part)
		}
		var field *string
		switch key {
		case "t":
			field = &timestamp
		case "v1":
			field = &digest
		default:
			continue
		}
		if seen[key] {
			return "", "", fmt.Errorf("%w: %s repeated", ErrMalformedHeader, key)
		}
		seen[key] = true
		*field = value
	}
	if timestamp == "" || digest == "" {
		return "", "", fmt.Errorf("%w: t and v1 are required", ErrMalformedHeader)
	}
	return timestamp, digest, nil
}

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}

func compute(key []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}
