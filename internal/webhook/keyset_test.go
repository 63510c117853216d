package webhook_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"imgus-backend/internal/webhook"
)

type jwksServer struct {
	*httptest.Server
	hits atomic.Int32
	fail atomic.Bool
}

func newJWKSServer(t *testing.T, keys ...ed25519.PublicKey) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"keys":[`)
		for i, k := range keys {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"kty":"OKP","crv":"Ed25519","kid":"k%d","x":%q}`, i, base64.RawURLEncoding.EncodeToString(k))
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestKeySet_CachesUntilTTL(t *testing.T) {
	pub, _ := newKey(t)
	server := newJWKSServer(t, pub)
	now := time.Unix(1_000, 0)
	ks := webhook.NewKeySet(server.URL, 24*time.Hour, zerolog.Nop(),
		webhook.WithKeySetClock(func() time.Time { return now }))

	keys, err := ks.Keys(t.Context())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, pub.Equal(keys[0]))

	_, _ = ks.Keys(t.Context())
	now = now.Add(23 * time.Hour)
	_, _ = ks.Keys(t.Context())
	assert.Equal(t, int32(1), server.hits.Load())

	now = now.Add(2 * time.Hour)
	_, err = ks.Keys(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), server.hits.Load())
}

func TestKeySet_ConcurrentColdStart(t *testing.T) {
	pub, _ := newKey(t)
	server := newJWKSServer(t, pub)
	ks := webhook.NewKeySet(server.URL, time.Hour, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := ks.Keys(t.Context())
			assert.NoError(t, err)
			assert.Len(t, keys, 1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, server.hits.Load(), int32(16))
	assert.GreaterOrEqual(t, server.hits.Load(), int32(1))
}

func TestKeySet_ServesStaleKeysWhenRefreshFails(t *testing.T) {
	pub, _ := newKey(t)
	server := newJWKSServer(t, pub)
	now := time.Unix(1_000, 0)
	ks := webhook.NewKeySet(server.URL, time.Hour, zerolog.Nop(),
		webhook.WithKeySetClock(func() time.Time { return now }))

	_, err := ks.Keys(t.Context())
	require.NoError(t, err)

	server.fail.Store(true)
	now = now.Add(2 * time.Hour)

	keys, err := ks.Keys(t.Context())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestKeySet_FailsClosedWithoutKeys(t *testing.T) {
	server := newJWKSServer(t)
	server.fail.Store(true)
	ks := webhook.NewKeySet(server.URL, time.Hour, zerolog.Nop())

	_, err := ks.Keys(t.Context())
	assert.ErrorIs(t, err, webhook.ErrKeySetUnavailable)
}

func TestKeySet_SkipsMalformedKeys(t *testing.T) {
	pub, _ := newKey(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"keys":[{"x":"!!"},{"crv":"P-256","x":"abc"},{"x":%q}]}`,
			base64.RawURLEncoding.EncodeToString(pub))
	}))
	defer server.Close()
	ks := webhook.NewKeySet(server.URL, time.Hour, zerolog.Nop())

	keys, err := ks.Keys(t.Context())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, pub.Equal(keys[0]))
}

func TestKeySet_CloseStopsServing(t *testing.T) {
	pub, _ := newKey(t)
	server := newJWKSServer(t, pub)
	ks := webhook.NewKeySet(server.URL, time.Hour, zerolog.Nop())

	_, err := ks.Keys(t.Context())
	require.NoError(t, err)

	ks.Close()
	_, err = ks.Keys(t.Context())
	assert.ErrorIs(t, err, webhook.ErrKeySetClosed)
}

func TestKeySet_EndToEndWithVerifier(t *testing.T) {
	pub, priv := newKey(t)
	server := newJWKSServer(t, pub)
	ks := webhook.NewKeySet(server.URL, time.Hour, zerolog.Nop())
	v := webhook.NewVerifier(ks, 300*time.Second)

	body := []byte(`{"status":"OK"}`)
	h := signedDelivery(t, priv, body, time.Now())

	assert.True(t, v.Valid(t.Context(), h, body))
	assert.False(t, v.Valid(t.Context(), h, []byte(`{"status":"KO"}`)))
}
