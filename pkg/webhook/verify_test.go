package webhook

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event_id":"evt-1"}`)
	now := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	ts := fmt.Sprintf("%d", now.Unix())

	tests := []struct {
		name    string
		input   SignatureInput
		wantErr error
	}{
		{
			name: "valid signature",
			input: SignatureInput{
				Secret:          secret,
				TimestampHeader: ts,
				SignatureHeader: SignHex(secret, ts, body),
				Body:            body,
				Now:             now,
			},
		},
		{
			name: "headers with surrounding whitespace",
			input: SignatureInput{
				Secret:          secret,
				TimestampHeader: " " + ts + " ",
				SignatureHeader: " " + SignHex(secret, ts, body) + " ",
				Body:            body,
				Now:             now,
			},
		},
		{
			name: "wrong secret",
			input: SignatureInput{
				Secret:          secret,
				TimestampHeader: ts,
				SignatureHeader: SignHex("other-secret", ts, body),
				Body:            body,
				Now:             now,
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "tampered body",
			input: SignatureInput{
				Secret:          secret,
				TimestampHeader: ts,
				SignatureHeader: SignHex(secret, ts, []byte(`{"event_id":"evt-2"}`)),
				Body:            body,
				Now:             now,
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "signature not hex",
			input: SignatureInput{
				Secret:          secret,
				TimestampHeader: ts,
				SignatureHeader: "zzzz",
				Body:            body,
				Now:             now,
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "timestamp not a number",
			input: SignatureInput{
				Secret:          secret,
				TimestampHeader: "yesterday",
				SignatureHeader: SignHex(secret, "yesterday", body),
				Body:            body,
				Now:             now,
			},
			wantErr: ErrInvalidTimestamp,
		},
		{
			name: "timestamp too old",
			input: func() SignatureInput {
				old := fmt.Sprintf("%d", now.Add(-6*time.Minute).Unix())
				return SignatureInput{
					Secret:          secret,
					TimestampHeader: old,
					SignatureHeader: SignHex(secret, old, body),
					Body:            body,
					Now:             now,
					Window:          5 * time.Minute,
				}
			}(),
			wantErr: ErrTimestampOutsideWindow,
		},
		{
			name: "timestamp too far in the future",
			input: func() SignatureInput {
				future := fmt.Sprintf("%d", now.Add(6*time.Minute).Unix())
				return SignatureInput{
					Secret:          secret,
					TimestampHeader: future,
					SignatureHeader: SignHex(secret, future, body),
					Body:            body,
					Now:             now,
					Window:          5 * time.Minute,
				}
			}(),
			wantErr: ErrTimestampOutsideWindow,
		},
		{
			name: "missing signature",
			input: SignatureInput{
				Secret:          secret,
				TimestampHeader: ts,
				Body:            body,
				Now:             now,
			},
			wantErr: ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifySignature_SignatureBoundToTimestamp(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{}`)
	now := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)

	tsSigned := fmt.Sprintf("%d", now.Unix())
	tsReplayed := fmt.Sprintf("%d", now.Add(time.Minute).Unix())

	// A valid signature replayed under a different timestamp must fail:
	// the timestamp is part of the signed message
	err := VerifySignature(SignatureInput{
		Secret:          secret,
		TimestampHeader: tsReplayed,
		SignatureHeader: SignHex(secret, tsSigned, body),
		Body:            body,
		Now:             now,
	})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
