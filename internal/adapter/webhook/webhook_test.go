package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalcast/internal/adapter"
	"signalcast/pkg/logx"
)

func newTestAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	a, err := New(Config{ChannelID: "hook", URL: url, RatePerSec: 1000}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestSendDelivers(t *testing.T) {
	var got struct {
		ChannelID string `json:"channel_id"`
		Text      string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"abc-123"}`))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	rec, err := a.Send(context.Background(), "hello out there")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", rec.MessageID)
	assert.False(t, rec.DeliveredAt.IsZero())
	assert.Equal(t, "hook", got.ChannelID)
	assert.Equal(t, "hello out there", got.Text)
}

func TestSendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Send(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, adapter.IsTransient(err))

	var ra adapter.RetryAfterError
	require.True(t, errors.As(err, &ra))
	assert.Equal(t, 3*time.Second, ra.RetryAfter())
}

func TestSendServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Send(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, adapter.IsTransient(err))
}

func TestSendClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Send(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, adapter.IsTransient(err))
	assert.Contains(t, err.Error(), "404")
}

func TestSendConnectFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Send(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, adapter.IsTransient(err))
}

func TestRetryAfterHeaderParsing(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"seconds", "7", 7 * time.Second},
		{"missing", "", 0},
		{"http date", "Wed, 21 Oct 2026 07:28:00 GMT", 0},
		{"negative", "-1", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer srv.Close()

			a := newTestAdapter(t, srv.URL)
			_, err := a.Send(context.Background(), "x")
			require.Error(t, err)
			var ra adapter.RetryAfterError
			require.True(t, errors.As(err, &ra))
			assert.Equal(t, tc.want, ra.RetryAfter())
		})
	}
}
