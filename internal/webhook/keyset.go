package webhook

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrKeySetUnavailable = errors.New("webhook key set unavailable")
	ErrKeySetClosed      = errors.New("webhook key set closed")
)

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
}

// KeySet caches the provider's ed25519 public keys. It is refreshed lazily
// on the first access after the TTL; concurrent refreshes collapse into one
// fetch, and readers keep the previous keys if a refresh fails.
type KeySet struct {
	url          string
	ttl          time.Duration
	fetchTimeout time.Duration
	httpClient   *http.Client
	now          func() time.Time
	logger       zerolog.Logger
	group        singleflight.Group

	mu      sync.RWMutex
	keys    []ed25519.PublicKey
	fetched time.Time
	closed  bool
}

type KeySetOption func(*KeySet)

func WithHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySet) { k.httpClient = c }
}

func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(k *KeySet) { k.now = now }
}

func NewKeySet(url string, ttl time.Duration, logger zerolog.Logger, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:          url,
		ttl:          ttl,
		fetchTimeout: 10 * time.Second,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
		logger:       logger.With().Str("component", "webhook_keyset").Logger(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Keys returns the current key set, fetching it if it is missing or stale.
func (k *KeySet) Keys(ctx context.Context) ([]ed25519.PublicKey, error) {
	k.mu.RLock()
	closed := k.closed
	keys := k.keys
	fresh := len(keys) > 0 && k.now().Sub(k.fetched) < k.ttl
	k.mu.RUnlock()

	if closed {
		return nil, ErrKeySetClosed
	}
	if fresh {
		return keys, nil
	}

	if err := k.Refresh(ctx); err != nil {
		if len(keys) > 0 {
			k.logger.Warn().Err(err).Msg("key set refresh failed, serving stale keys")
			return keys, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys, nil
}

// Refresh fetches the key set now.
func (k *KeySet) Refresh(ctx context.Context) error {
	_, err, _ := k.group.Do("refresh", func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others
		// waiting on the same fetch.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.fetchTimeout)
		defer cancel()

		keys, err := k.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		k.mu.Lock()
		k.keys = keys
		k.fetched = k.now()
		k.mu.Unlock()

		k.logger.Info().Int("keys", len(keys)).Msg("webhook key set refreshed")
		return nil, nil
	})
	return err
}

func (k *KeySet) fetch(ctx context.Context) ([]ed25519.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("failed to fetch key set: status %d, body: %s", resp.StatusCode, string(body))
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode key set: %w", err)
	}

	keys := make([]ed25519.PublicKey, 0, len(set.Keys))
	for _, key := range set.Keys {
		if key.Crv != "" && key.Crv != "Ed25519" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(key.X)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			k.logger.Warn().Str("kid", key.Kid).Msg("skipping malformed webhook key")
			continue
		}
		keys = append(keys, ed25519.PublicKey(raw))
	}
	if len(keys) == 0 {
		return nil, errors.New("no usable keys in key set")
	}
	return keys, nil
}

// Close drops the cached keys and idle connections. Keys fails afterwards.
func (k *KeySet) Close() {
	k.mu.Lock()
	k.closed = true
	k.keys = nil
	k.mu.Unlock()
	k.httpClient.CloseIdleConnections()
}
