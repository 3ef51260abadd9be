package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier(t *testing.T, h http.HandlerFunc) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tn := NewTelegramNotifier("token", "42", "", nil)
	tn.APIURL = srv.URL
	return tn
}

func TestTelegramNotifier_Send(t *testing.T) {
	var gotPath string
	var payload map[string]interface{}
	tn := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, tn.Send(context.Background(), "<b>hi</b>"))
	assert.Equal(t, "/bottoken/sendMessage", gotPath)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "<b>hi</b>", payload["text"])
	assert.Equal(t, "HTML", payload["parse_mode"])
}

func TestTelegramNotifier_SendAPIError(t *testing.T) {
	tn := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	})

	err := tn.Send(context.Background(), "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Bad Request: chat not found", apiErr.Description)
	assert.False(t, apiErr.Temporary())
}

func TestAPIError_Temporary(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Temporary())
	assert.True(t, (&APIError{StatusCode: 502}).Temporary())
	assert.False(t, (&APIError{StatusCode: 403}).Temporary())
}

type flakySender struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flakySender) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func TestRetrySender(t *testing.T) {
	t.Run("retries temporary failures", func(t *testing.T) {
		next := &flakySender{errs: []error{&APIError{StatusCode: 502}, errors.New("connection reset")}}
		r := NewRetrySender(next, 3, time.Millisecond, nil)

		require.NoError(t, r.Send(context.Background(), "x"))
		assert.Equal(t, 3, next.calls)
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		next := &flakySender{errs: []error{&APIError{StatusCode: 400}}}
		r := NewRetrySender(next, 3, time.Millisecond, nil)

		err := r.Send(context.Background(), "x")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 1, next.calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		fail := &APIError{StatusCode: 500}
		next := &flakySender{errs: []error{fail, fail, fail, fail, fail}}
		r := NewRetrySender(next, 2, time.Millisecond, nil)

		require.Error(t, r.Send(context.Background(), "x"))
		assert.Equal(t, 3, next.calls)
	})

	t.Run("zero retries sends once", func(t *testing.T) {
		next := &flakySender{errs: []error{&APIError{StatusCode: 500}}}
		r := NewRetrySender(next, 0, time.Millisecond, nil)

		require.Error(t, r.Send(context.Background(), "x"))
		assert.Equal(t, 1, next.calls)
	})
}

func TestStartPolling_FiltersChatAndReplies(t *testing.T) {
	pollRetryDelay = time.Millisecond

	var polls int32
	var mu sync.Mutex
	var sent []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tn := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottoken/getUpdates":
			if atomic.AddInt32(&polls, 1) == 1 {
				_, _ = w.Write([]byte(`{"ok":true,"result":[
					{"update_id":1,"message":{"text":"/prices","chat":{"id":42}}},
					{"update_id":2,"message":{"text":"/prices","chat":{"id":7}}},
					{"update_id":3,"message":{"text":" /help ","chat":{"id":42}}}
				]}`))
				return
			}
			assert.Equal(t, "4", r.URL.Query().Get("offset"))
			cancel()
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		case "/bottoken/sendMessage":
			var payload map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			mu.Lock()
			sent = append(sent, payload["text"].(string))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	})

	var commands []string
	tn.StartPolling(ctx, func(ctx context.Context, command string) string {
		commands = append(commands, command)
		return "reply " + command
	})

	assert.Equal(t, []string{"/prices", "/help"}, commands)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reply /prices", "reply /help"}, sent)
}

func TestStartPolling_RetriesAfterError(t *testing.T) {
	pollRetryDelay = time.Millisecond

	var polls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tn := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		cancel()
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	})

	tn.StartPolling(ctx, func(context.Context, string) string { return "" })
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}
