package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureNotifier) Channel() Channel { return "capture" }

func (c *captureNotifier) Notify(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func TestNewEventCarriesErrorMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeReverted, "transaction reverted: STF",
		xerrors.WithMetadata("tx_hash", "0xabc"),
		xerrors.WithMetadata("revert_reason", "STF"))

	event := NewEvent(err, map[string]string{"stage": "reverted", "empty": ""})
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, xerrors.CodeReverted, event.Code)
	assert.Equal(t, xerrors.SeverityWarning, event.Severity)
	assert.Equal(t, "0xabc", event.TxHash)
	assert.Equal(t, "STF", event.Metadata["revert_reason"])
	assert.Equal(t, "reverted", event.Metadata["stage"])
	assert.NotContains(t, event.Metadata, "empty")
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &captureNotifier{}
	failing := &captureNotifier{err: errors.New("down")}
	err := NewFanout(ok, nil, failing).Notify(context.Background(), Event{ID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second)
	require.NoError(t, n.Notify(context.Background(), Event{ID: "evt-1", Code: xerrors.CodeBroadcast}))
	assert.Equal(t, "evt-1", received.ID)
	assert.Equal(t, xerrors.CodeBroadcast, received.Code)
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, time.Second).Notify(context.Background(), Event{ID: "x"})
	assert.Error(t, err)
}

func TestSwapAlerterSkipsNonAlertingErrors(t *testing.T) {
	capture := &captureNotifier{}
	alerter := NewSwapAlerter(NewFanout(capture), time.Second)

	alerter.ObserveSwap(&swap.Outcome{}, nil, time.Millisecond)
	alerter.ObserveSwap(nil, xerrors.New(xerrors.CodeValidation, "bad"), time.Millisecond)
	assert.Empty(t, capture.events)

	outcome := &swap.Outcome{Stage: swap.StageBroadcast, Wallet: "0xw", Token: "0xt", TxHash: "0xhash"}
	alerter.ObserveSwap(outcome, xerrors.New(xerrors.CodeConfirmationTimeout, "late"), time.Second)
	require.Len(t, capture.events, 1)
	event := capture.events[0]
	assert.Equal(t, "0xhash", event.TxHash)
	assert.Equal(t, "0xw", event.Wallet)
	assert.Equal(t, "broadcast", event.Metadata["stage"])
}
