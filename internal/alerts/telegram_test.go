package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTelegram answers getMe and sendMessage like the Bot API
type fakeTelegram struct {
	mu       sync.Mutex
	messages map[string]string // chat_id -> text
	failChat string
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"id": 1, "is_bot": true, "first_name": "Sharpefolio", "username": "sharpefolio_bot"},
		})
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		chatID := r.PostForm.Get("chat_id")
		if chatID == f.failChat {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": false, "error_code": 400, "description": "Bad Request: chat not found",
			})
			return
		}
		f.mu.Lock()
		f.messages[chatID] = r.PostForm.Get("text")
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 1, "type": "private"}},
		})
	default:
		http.NotFound(w, r)
	}
}

func newFakeTelegram(t *testing.T) (*fakeTelegram, string) {
	t.Helper()
	fake := &fakeTelegram{messages: make(map[string]string)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, server.URL + "/bot%s/%s"
}

func TestNewTelegramAlerter(t *testing.T) {
	_, endpoint := newFakeTelegram(t)

	_, err := NewTelegramAlerter(TelegramConfig{APIEndpoint: endpoint})
	assert.ErrorContains(t, err, "bot token is required")

	alerter, err := NewTelegramAlerter(TelegramConfig{BotToken: "123:abc", ChatIDs: []int64{42}, APIEndpoint: endpoint})
	require.NoError(t, err)
	assert.Equal(t, "sharpefolio_bot", alerter.api.Self.UserName)
}

func TestTelegramAlerter_Send(t *testing.T) {
	fake, endpoint := newFakeTelegram(t)
	alerter, err := NewTelegramAlerter(TelegramConfig{BotToken: "123:abc", ChatIDs: []int64{42, 43}, APIEndpoint: endpoint})
	require.NoError(t, err)

	require.NoError(t, alerter.Send(context.Background(), RunAlert(finishedRun())))

	require.Len(t, fake.messages, 2)
	assert.Contains(t, fake.messages["42"], "*Optimization Completed*")
	assert.Contains(t, fake.messages["43"], "AAPL 62%")
}

func TestTelegramAlerter_SendPartialFailure(t *testing.T) {
	fake, endpoint := newFakeTelegram(t)
	fake.failChat = "42"
	alerter, err := NewTelegramAlerter(TelegramConfig{BotToken: "123:abc", ChatIDs: []int64{42, 43}, APIEndpoint: endpoint})
	require.NoError(t, err)

	assert.NoError(t, alerter.Send(context.Background(), Alert{Title: "t", Severity: SeverityInfo}))
	assert.Contains(t, fake.messages, "43")

	alerter.chatIDs = []int64{42}
	err = alerter.Send(context.Background(), Alert{Title: "t", Severity: SeverityInfo})
	assert.ErrorContains(t, err, "failed to send alert to any chat")
}

func TestTelegramAlerter_NoChatIDs(t *testing.T) {
	alerter := &TelegramAlerter{}
	assert.NoError(t, alerter.Send(context.Background(), Alert{Title: "t"}))
}

func TestFormatAlert(t *testing.T) {
	msg := formatAlert(Alert{
		Title:     "Optimization Failed",
		Message:   "no prices found for BTC_USDT",
		Severity:  SeverityCritical,
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]interface{}{"source": "csv", "run_id": "abc"},
	})

	assert.True(t, strings.HasPrefix(msg, "🚨 *Optimization Failed*"))
	assert.Contains(t, msg, `BTC\_USDT`, "markdown characters are escaped")
	assert.Less(t, strings.Index(msg, `run\_id`), strings.Index(msg, "source"), "details are sorted")
	assert.Contains(t, msg, "_Time: 2024-06-01 12:00:00_")
}
