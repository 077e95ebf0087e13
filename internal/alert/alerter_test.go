package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu       sync.Mutex
	payloads []map[string]any
	status   int
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	json.NewDecoder(r.Body).Decode(&payload)
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	status := c.status
	c.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func newTestWebhook(t *testing.T, cooldown time.Duration) (*Webhook, *capture) {
	t.Helper()
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhook(srv.URL, cooldown, logger), cap
}

func TestWebhook_SendsPayload(t *testing.T) {
	t.Parallel()

	w, cap := newTestWebhook(t, time.Minute)

	err := w.Send(context.Background(), Event{
		Type:    TypeFunding,
		Title:   "mining halted: account underfunded",
		Message: "have 0.0005 EOS",
		Fields:  map[string]string{"account": "mineracct"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, cap.count())

	got := cap.payloads[0]
	assert.Equal(t, "INSUFFICIENT_FUNDING", got["type"])
	assert.Equal(t, "mining halted: account underfunded", got["title"])
	fields, _ := got["fields"].(map[string]any)
	assert.Equal(t, "mineracct", fields["account"])
}

func TestWebhook_CooldownSuppressesRepeats(t *testing.T) {
	t.Parallel()

	w, cap := newTestWebhook(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Send(ctx, Event{Type: TypeSubmissionFailed, Title: "first"}))
	require.NoError(t, w.Send(ctx, Event{Type: TypeSubmissionFailed, Title: "suppressed"}))
	assert.Equal(t, 1, cap.count())

	// A different alert type is not suppressed.
	require.NoError(t, w.Send(ctx, Event{Type: TypeEndpointDown, Title: "other"}))
	assert.Equal(t, 2, cap.count())
}

func TestWebhook_CooldownExpires(t *testing.T) {
	t.Parallel()

	w, cap := newTestWebhook(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, w.Send(ctx, Event{Type: TypeSubmissionFailed, Title: "first"}))
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, w.Send(ctx, Event{Type: TypeSubmissionFailed, Title: "second"}))
	assert.Equal(t, 2, cap.count())
}

func TestWebhook_NonSuccessStatusIsError(t *testing.T) {
	t.Parallel()

	w, cap := newTestWebhook(t, time.Minute)
	cap.status = http.StatusBadGateway

	err := w.Send(context.Background(), Event{Type: TypeEndpointDown, Title: "down"})
	assert.ErrorContains(t, err, "502")
}

func TestNoop(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Noop{}.Send(context.Background(), Event{Type: TypeFunding}))
}
