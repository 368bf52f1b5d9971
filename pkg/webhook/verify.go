package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimestamp       = errors.New("invalid signature timestamp")
	ErrTimestampOutsideWindow = errors.New("signature timestamp outside allowed window")
	ErrInvalidSignature       = errors.New("invalid signature")
)

// SignatureInput carries everything needed to verify one delivery
type SignatureInput struct {
	Secret          string
	TimestampHeader string
	SignatureHeader string
	Body            []byte
	Now             time.Time
	Window          time.Duration
}

// VerifySignature checks the HMAC-SHA256 signature over
// "<timestamp>.<body>". The timestamp window limits replay; the
// signature compare is constant time.
func VerifySignature(in SignatureInput) error {
	tsHeader := strings.TrimSpace(in.TimestampHeader)
	sigHeader := strings.TrimSpace(in.SignatureHeader)
	if in.Window <= 0 {
		in.Window = 5 * time.Minute
	}

	tsInt, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	ts := time.Unix(tsInt, 0).UTC()

	// Replay protection
	now := in.Now.UTC()
	if ts.Before(now.Add(-in.Window)) || ts.After(now.Add(in.Window)) {
		return ErrTimestampOutsideWindow
	}

	providedSig, err := hex.DecodeString(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	expectedSig := computeSignature(in.Secret, tsHeader, in.Body)
	if !hmac.Equal(providedSig, expectedSig) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHex computes the hex signature for "<timestamp>.<body>".
// Used by tests and delivery tooling.
func SignHex(secret, timestampHeader string, body []byte) string {
	return hex.EncodeToString(computeSignature(secret, timestampHeader, body))
}

func computeSignature(secret, timestampHeader string, body []byte) []byte {
	msg := make([]byte, 0, len(timestampHeader)+1+len(body))
	msg = append(msg, []byte(timestampHeader)...)
	msg = append(msg, '.')
	msg = append(msg, body...)

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(msg)
	return mac.Sum(nil)
}
