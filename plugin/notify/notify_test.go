package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/routinesense/store"
)

func testNotification(userID int32, uid string) *store.Notification {
	return &store.Notification{
		UserID:   userID,
		Kind:     store.NotificationKindPatternDetected,
		Title:    "Automate \"Drink water\"?",
		Body:     "You usually do \"Drink water\" every day at 07:00.",
		Priority: store.PatternPriorityMedium,
		Payload: map[string]any{
			"patternUid": uid,
			"actions":    []string{"accept", "decline"},
		},
		CreatedTs: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC).Unix(),
	}
}

type collectSink struct {
	mu    sync.Mutex
	items []*store.Notification
	err   error
}

func (s *collectSink) Emit(_ context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return s.err
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func TestFanout(t *testing.T) {
	ok1, ok2 := &collectSink{}, &collectSink{}
	bad := &collectSink{err: errors.New("boom")}
	n := testNotification(1, "u1")

	require.NoError(t, Fanout{ok1, ok2}.Emit(context.Background(), n))

	err := Fanout{ok1, bad, ok2}.Emit(context.Background(), n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 sinks failed")
	assert.Equal(t, 2, ok1.count())
	assert.Equal(t, 2, ok2.count())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Emit(context.Background(), testNotification(4, "u1")))
	assert.Contains(t, buf.String(), "user_id=4")
	assert.Contains(t, buf.String(), "kind=pattern_detected")
}

type fakeInbox struct {
	created []*store.Notification
	err     error
}

func (f *fakeInbox) CreateNotification(_ context.Context, n *store.Notification) (*store.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, n)
	return n, nil
}

func TestInboxSink(t *testing.T) {
	inbox := &fakeInbox{}
	require.NoError(t, NewInboxSink(inbox).Emit(context.Background(), testNotification(1, "u1")))
	assert.Len(t, inbox.created, 1)

	inbox.err = errors.New("readonly")
	assert.Error(t, NewInboxSink(inbox).Emit(context.Background(), testNotification(1, "u1")))
}

func TestWebhookSink(t *testing.T) {
	var got WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"code":0,"message":"ok"}`))
	}))
	defer server.Close()

	require.NoError(t, NewWebhookSink(server.URL).Emit(context.Background(), testNotification(9, "u9")))
	assert.Equal(t, int32(9), got.UserID)
	assert.Equal(t, "pattern_detected", got.Kind)
	assert.Equal(t, "medium", got.Priority)
	assert.Equal(t, "u9", got.Payload["patternUid"])
}

func TestWebhookSink_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"empty 204", http.StatusNoContent, "", false},
		{"plain text 200", http.StatusOK, "accepted", false},
		{"error code", http.StatusOK, `{"code":3,"message":"bad user"}`, true},
		{"server error", http.StatusBadGateway, "upstream", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewWebhookSink(server.URL).Emit(context.Background(), testNotification(1, "u1"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	answered []tgbotapi.CallbackConfig
	updates  chan tgbotapi.Update
	stopped  bool
	err      error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answered = append(f.answered, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegram) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTelegram) answers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, 0, len(f.answered))
	for _, cb := range f.answered {
		texts = append(texts, cb.Text)
	}
	return texts
}

func TestTelegramSink(t *testing.T) {
	bot := &fakeTelegram{}
	sink := newTelegramSink(bot, &TelegramConfig{Chats: map[int32]int64{1: 1001}, DefaultChat: 999})

	require.NoError(t, sink.Emit(context.Background(), testNotification(1, "abc")))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(1001), msg.ChatID)
	assert.Contains(t, msg.Text, "Drink water")

	keyboard, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.InlineKeyboard, 1)
	require.Len(t, keyboard.InlineKeyboard[0], 2)
	assert.Equal(t, "Accept", keyboard.InlineKeyboard[0][0].Text)
	require.NotNil(t, keyboard.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "decline:1:abc", *keyboard.InlineKeyboard[0][1].CallbackData)

	require.NoError(t, sink.Emit(context.Background(), testNotification(2, "def")))
	assert.Equal(t, int64(999), bot.sent[1].(tgbotapi.MessageConfig).ChatID)
}

func TestTelegramSink_NoChat(t *testing.T) {
	bot := &fakeTelegram{}
	sink := newTelegramSink(bot, &TelegramConfig{})

	assert.Error(t, sink.Emit(context.Background(), testNotification(5, "abc")))
	assert.Empty(t, bot.sent)
}

func TestTelegramSink_CriticalMarker(t *testing.T) {
	bot := &fakeTelegram{}
	sink := newTelegramSink(bot, &TelegramConfig{DefaultChat: 1})
	n := testNotification(1, "")
	n.Priority = store.PatternPriorityCritical

	require.NoError(t, sink.Emit(context.Background(), n))
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "[!] ")
	assert.Nil(t, msg.ReplyMarkup)
}

type answerCall struct {
	action string
	userID int32
	uid    string
}

type fakeResponder struct {
	mu    sync.Mutex
	calls []answerCall
	err   error
}

func (r *fakeResponder) record(action string, userID int32, uid string) (*store.Pattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, answerCall{action, userID, uid})
	return &store.Pattern{UID: uid, UserID: userID}, r.err
}

func (r *fakeResponder) AcceptAutomation(_ context.Context, userID int32, uid string) (*store.Pattern, error) {
	return r.record("accept", userID, uid)
}

func (r *fakeResponder) DeclineAutomation(_ context.Context, userID int32, uid string) (*store.Pattern, error) {
	return r.record("decline", userID, uid)
}

func (r *fakeResponder) PausePattern(_ context.Context, userID int32, uid string) (*store.Pattern, error) {
	return r.record("pause", userID, uid)
}

func callbackUpdate(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      data,
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}}
}

func TestTelegramSink_ListenCallbacks(t *testing.T) {
	bot := &fakeTelegram{updates: make(chan tgbotapi.Update, 8)}
	sink := newTelegramSink(bot, &TelegramConfig{Chats: map[int32]int64{1: 1001}, DefaultChat: 999})
	responder := &fakeResponder{}

	bot.updates <- callbackUpdate(1001, "accept:1:abc")
	bot.updates <- callbackUpdate(999, "decline:2:def")
	bot.updates <- callbackUpdate(999, "accept:1:abc")
	bot.updates <- callbackUpdate(1001, "snooze:1:abc")
	bot.updates <- callbackUpdate(1001, "garbage")
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi"}}
	close(bot.updates)

	sink.ListenCallbacks(context.Background(), responder, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, []answerCall{
		{"accept", 1, "abc"},
		{"decline", 2, "def"},
	}, responder.calls)
	assert.Equal(t, []string{
		"Automation enabled",
		"Got it, no automation",
		"This chat cannot answer for that user",
		"Unknown action",
		"Unknown action",
	}, bot.answers())
	assert.True(t, bot.stopped)
}

func TestTelegramSink_ListenCallbacksReportsFailure(t *testing.T) {
	bot := &fakeTelegram{updates: make(chan tgbotapi.Update, 1)}
	sink := newTelegramSink(bot, &TelegramConfig{DefaultChat: 7})
	responder := &fakeResponder{err: errors.New("pattern not found")}

	bot.updates <- callbackUpdate(7, "pause:3:xyz")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.ListenCallbacks(ctx, responder, nil)
	}()

	assert.Eventually(t, func() bool { return len(bot.answers()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []string{"Could not apply your answer"}, bot.answers())
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	collectSink
}

func (s *blockingSink) Emit(ctx context.Context, n *store.Notification) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	return s.collectSink.Emit(ctx, n)
}

func TestDispatcher_DeliversAndDedupes(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(sink, DispatcherConfig{Location: time.UTC})

	require.NoError(t, d.Emit(context.Background(), testNotification(1, "u1")))
	assert.ErrorIs(t, d.Emit(context.Background(), testNotification(1, "u1")), ErrDuplicate)
	require.NoError(t, d.Emit(context.Background(), testNotification(2, "u1")))

	next := testNotification(1, "u1")
	next.CreatedTs += int64(24 * time.Hour / time.Second)
	require.NoError(t, d.Emit(context.Background(), next))

	require.NoError(t, d.Close(time.Second))
	assert.Equal(t, 3, sink.count())
	assert.ErrorIs(t, d.Emit(context.Background(), testNotification(3, "u3")), ErrClosed)
}

func TestDispatcher_PrunesExpiredDedupeKeys(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	sink := &collectSink{}
	d := NewDispatcher(sink, DispatcherConfig{Location: time.UTC, Now: clock, PruneInterval: 5 * time.Millisecond})
	defer func() { _ = d.Close(time.Second) }()

	tracked := func() int {
		n := 0
		d.seen.Range(func(_, _ any) bool {
			n++
			return true
		})
		return n
	}

	for i := int32(1); i <= 3; i++ {
		require.NoError(t, d.Emit(context.Background(), testNotification(i, "u")))
	}
	assert.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, tracked())

	mu.Lock()
	now = now.Add(dedupeWindow - time.Minute)
	mu.Unlock()
	require.NoError(t, d.Emit(context.Background(), testNotification(4, "u")))
	assert.Equal(t, 0, d.pruneSeen())
	assert.Equal(t, 4, tracked())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	assert.Eventually(t, func() bool { return tracked() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_QueueFull(t *testing.T) {
	sink := &blockingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(sink, DispatcherConfig{QueueSize: 1, Location: time.UTC})

	require.NoError(t, d.Emit(context.Background(), testNotification(1, "u1")))
	<-sink.started
	require.NoError(t, d.Emit(context.Background(), testNotification(2, "u2")))
	assert.ErrorIs(t, d.Emit(context.Background(), testNotification(3, "u3")), ErrQueueFull)
	// A dropped notification may be retried.
	assert.ErrorIs(t, d.Emit(context.Background(), testNotification(3, "u3")), ErrQueueFull)

	close(sink.release)
	require.NoError(t, d.Close(time.Second))
	assert.Equal(t, 2, sink.count())
	assert.Equal(t, 0, d.QueueSize())
}

type depthObserver struct {
	mu     sync.Mutex
	depths []int
}

func (o *depthObserver) SetQueueDepth(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depths = append(o.depths, n)
}

func TestDispatcher_RateLimitAndObserver(t *testing.T) {
	sink := &collectSink{}
	observer := &depthObserver{}
	d := NewDispatcher(sink, DispatcherConfig{RatePerSecond: 1000, Burst: 1, Location: time.UTC, Observer: observer})

	for i := int32(1); i <= 5; i++ {
		require.NoError(t, d.Emit(context.Background(), testNotification(i, "u")))
	}
	assert.Eventually(t, func() bool { return sink.count() == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close(time.Second))

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.NotEmpty(t, observer.depths)
	assert.Equal(t, 0, observer.depths[len(observer.depths)-1])
}
