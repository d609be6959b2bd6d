package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(int(n)) + `}`))
	})
}

func post(h http.Handler, key string) *httptest.ResponseRecorder {
	return postBody(h, key, `{}`)
}

func postBody(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/cri/update", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotent_ReplaysSuccess(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	defer store.Close()

	var calls int32
	h := Idempotent(store, countingHandler(&calls, http.StatusOK))

	first := post(h, "tx_1")
	second := post(h, "tx_1")

	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))
}

func TestIdempotent_DistinctKeysAndNoKey(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	defer store.Close()

	var calls int32
	h := Idempotent(store, countingHandler(&calls, http.StatusOK))

	post(h, "tx_1")
	post(h, "tx_2")
	post(h, "")
	post(h, "")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestIdempotent_ErrorsAreNotCached(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	defer store.Close()

	var calls int32
	h := Idempotent(store, countingHandler(&calls, http.StatusBadRequest))

	post(h, "tx_bad")
	rec := post(h, "tx_bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotent_SameKeyDifferentBody(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	defer store.Close()

	var bodies []string
	h := Idempotent(store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(data))
		w.WriteHeader(http.StatusOK)
	}))

	postBody(h, "tx_1", `{"success":true}`)
	second := postBody(h, "tx_1", `{"success":false}`)
	third := postBody(h, "tx_1", `{"success":false}`)

	assert.Equal(t, []string{`{"success":true}`, `{"success":false}`}, bodies)
	assert.Empty(t, second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "true", third.Header().Get("Idempotent-Replayed"))
}
