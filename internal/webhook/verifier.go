package webhook

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderRequestID = "X-Fal-Webhook-Request-Id"
	HeaderUserID    = "X-Fal-Webhook-User-Id"
	HeaderTimestamp = "X-Fal-Webhook-Timestamp"
	HeaderSignature = "X-Fal-Webhook-Signature"
)

var (
	ErrMissingHeaders = errors.New("missing webhook signature headers")
	ErrTimestampSkew  = errors.New("webhook timestamp outside allowed window")
	ErrBadSignature   = errors.New("webhook signature does not verify")
)

// Headers carries the out-of-band fields of a signed delivery.
type Headers struct {
	RequestID string
	UserID    string
	Timestamp string
	Signature string
}

func HeadersFrom(h http.Header) Headers {
	return Headers{
		RequestID: h.Get(HeaderRequestID),
		UserID:    h.Get(HeaderUserID),
		Timestamp: h.Get(HeaderTimestamp),
		Signature: h.Get(HeaderSignature),
	}
}

// KeySource supplies the candidate verification keys.
type KeySource interface {
	Keys(ctx context.Context) ([]ed25519.PublicKey, error)
}

type Verifier struct {
	keys    KeySource
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(keys KeySource, maxSkew time.Duration) *Verifier {
	return &Verifier{keys: keys, maxSkew: maxSkew, now: time.Now}
}

// WithClock returns a copy of v reading time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Message is the canonical byte string the provider signs.
func Message(h Headers, body []byte) []byte {
	digest := sha256.Sum256(body)
	return []byte(h.RequestID + "\n" + h.UserID + "\n" + h.Timestamp + "\n" + hex.EncodeToString(digest[:]))
}

// Verify authenticates body against h. Any failure, including an
// unreachable key set, is an error.
func (v *Verifier) Verify(ctx context.Context, h Headers, body []byte) error {
	if h.RequestID == "" || h.UserID == "" || h.Timestamp == "" || h.Signature == "" {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return ErrTimestampSkew
	}
	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(v.maxSkew/time.Second) {
		return ErrTimestampSkew
	}

	sig, err := hex.DecodeString(h.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}

	keys, err := v.keys.Keys(ctx)
	if err != nil {
		return err
	}

	msg := Message(h, body)
	for _, key := range keys {
		if ed25519.Verify(key, msg, sig) {
			return nil
		}
	}
	return ErrBadSignature
}

func (v *Verifier) Valid(ctx context.Context, h Headers, body []byte) bool {
	return v.Verify(ctx, h, body) == nil
}
