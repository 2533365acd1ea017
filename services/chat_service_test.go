package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/NomadCrew/chatpulse-backend/errors"
	"github.com/NomadCrew/chatpulse-backend/internal/cache"
	"github.com/NomadCrew/chatpulse-backend/internal/queue"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) Broadcast(ctx context.Context, channel, event string, data interface{}) error {
	return m.Called(ctx, channel, event, data).Error(0)
}

func (m *mockBroadcaster) DriverName() string { return "mock" }

type recordedEvent struct {
	entryType string
	value     float64
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) Record(entryType string, value float64, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{entryType, value})
}

func (f *fakeRecorder) count(entryType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.entryType == entryType {
			n++
		}
	}
	return n
}

type failingLimiter struct{}

func (failingLimiter) Attempt(context.Context, string, int, time.Duration) (RateLimitResult, error) {
	return RateLimitResult{}, errors.New("redis unavailable")
}

type failingQueue struct {
	*queue.MemoryQueue
}

func (failingQueue) Push(context.Context, string, []byte) error {
	return errors.New("queue unavailable")
}

type chatFixture struct {
	svc         *ChatService
	broadcaster *mockBroadcaster
	queue       *queue.MemoryQueue
	cache       *cache.MemoryCache
	recorder    *fakeRecorder
}

func newChatFixture(t *testing.T, cfg ChatConfig) *chatFixture {
	t.Helper()
	f := &chatFixture{
		broadcaster: &mockBroadcaster{},
		queue:       queue.NewMemoryQueue(),
		cache:       cache.NewMemoryCache(),
		recorder:    &fakeRecorder{},
	}
	f.svc = NewChatService(NewMemoryRateLimiter(), f.broadcaster, f.queue, f.cache, f.recorder, nil, cfg)
	return f
}

func TestChatService_NotifyBroadcastsDirectly(t *testing.T) {
	f := newChatFixture(t, ChatConfig{PerMinute: 30})
	f.broadcaster.On("Broadcast", mock.Anything, "chat-room", EventMessageSent, mock.MatchedBy(func(m types.ChatMessage) bool {
		return m.Message == "hello" && m.UserKey == "user-1" && m.ID != ""
	})).Return(nil).Once()

	resp, err := f.svc.Notify(context.Background(), "user-1", "hello")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "Message broadcast successfully.", resp.Message)
	assert.Equal(t, 29, resp.RateLimitRemaining)
	assert.Equal(t, 1, f.recorder.count(types.EntryChatMessage))
	assert.Equal(t, 1, f.recorder.count(types.EntryBroadcastEvent))
	f.broadcaster.AssertExpectations(t)
}

func TestChatService_NotifyQueued(t *testing.T) {
	f := newChatFixture(t, ChatConfig{Queued: true})

	resp, err := f.svc.Notify(context.Background(), "user-1", "queued hello")
	require.NoError(t, err)
	assert.Equal(t, "Message queued for broadcast.", resp.Message)

	size, err := f.queue.Size(context.Background(), BroadcastQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	raw, err := f.queue.Pop(context.Background(), BroadcastQueue, time.Second)
	require.NoError(t, err)
	var job types.QueuedChatMessage
	require.NoError(t, json.Unmarshal(raw, &job))
	assert.Equal(t, "queued hello", job.Message)
	assert.Equal(t, 0, job.Attempts)

	f.broadcaster.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.recorder.count(types.EntryBroadcastEvent))
}

func TestChatService_NotifyRateLimited(t *testing.T) {
	f := newChatFixture(t, ChatConfig{PerMinute: 2})
	f.broadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Notify(context.Background(), "user-1", "hi")
		require.NoError(t, err)
	}

	_, err := f.svc.Notify(context.Background(), "user-1", "hi")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusTooManyRequests, appErr.GetHTTPStatus())
	assert.Equal(t, "Too many messages sent. Please slow down.", appErr.Message)
	assert.Greater(t, appErr.RetryAfter, 0)
	assert.Equal(t, 1, f.recorder.count(types.EntryChatRateLimits))

	// Other users keep their own budget.
	_, err = f.svc.Notify(context.Background(), "user-2", "hi")
	assert.NoError(t, err)
}

func TestChatService_NotifyBurstLimited(t *testing.T) {
	f := newChatFixture(t, ChatConfig{PerMinute: 30, BurstPerMinute: 10})
	f.broadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var last *types.NotifyResponse
	for i := 0; i < 10; i++ {
		resp, err := f.svc.Notify(context.Background(), "user-1", "hi")
		require.NoError(t, err)
		last = resp
	}
	assert.Equal(t, 20, last.RateLimitRemaining)

	_, err := f.svc.Notify(context.Background(), "user-1", "hi")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusTooManyRequests, appErr.GetHTTPStatus())
	assert.Equal(t, "Too many messages sent. Please slow down.", appErr.Message)
	assert.Equal(t, 10, appErr.RetryAfter)
	assert.Equal(t, 1, f.recorder.count(types.EntryChatRateLimits))
	f.broadcaster.AssertNumberOfCalls(t, "Broadcast", 10)
}

func TestChatService_NotifyValidation(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{name: "empty", message: ""},
		{name: "whitespace", message: "   "},
		{name: "too long", message: strings.Repeat("a", 501)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(t, ChatConfig{})
			_, err := f.svc.Notify(context.Background(), "user-1", tt.message)

			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperrors.ValidationError, appErr.Type)
			f.broadcaster.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("multibyte at the limit", func(t *testing.T) {
		f := newChatFixture(t, ChatConfig{})
		f.broadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		_, err := f.svc.Notify(context.Background(), "user-1", strings.Repeat("é", 500))
		assert.NoError(t, err)
	})
}

func TestChatService_NotifyBroadcastFailure(t *testing.T) {
	f := newChatFixture(t, ChatConfig{})
	f.broadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("publish timeout"))

	_, err := f.svc.Notify(context.Background(), "user-1", "hello")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.BroadcastError, appErr.Type)
	assert.Equal(t, http.StatusInternalServerError, appErr.GetHTTPStatus())
	assert.Equal(t, "publish timeout", appErr.Detail)
	assert.Equal(t, 1, f.recorder.count(types.EntryChatErrors))
	assert.Zero(t, f.recorder.count(types.EntryBroadcastEvent))
}

func TestChatService_NotifyQueueFailure(t *testing.T) {
	b := &mockBroadcaster{}
	rec := &fakeRecorder{}
	svc := NewChatService(NewMemoryRateLimiter(), b, failingQueue{queue.NewMemoryQueue()}, nil, rec, nil, ChatConfig{Queued: true})

	_, err := svc.Notify(context.Background(), "user-1", "hello")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ServerError, appErr.Type)
	assert.Equal(t, 1, rec.count(types.EntryChatErrors))
}

func TestChatService_LimiterOutageAllowsMessages(t *testing.T) {
	b := &mockBroadcaster{}
	b.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := NewChatService(failingLimiter{}, b, nil, nil, nil, nil, ChatConfig{})

	resp, err := svc.Notify(context.Background(), "user-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, 30, resp.RateLimitRemaining)
}

func TestChatService_AnalyticsAndStats(t *testing.T) {
	pool := NewWorkerPool(testPoolConfig(1, 10), nil, "chatpulse")
	pool.Start()

	b := &mockBroadcaster{}
	b.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	c := cache.NewMemoryCache()
	rec := &fakeRecorder{}
	svc := NewChatService(NewMemoryRateLimiter(), b, nil, c, rec, pool, ChatConfig{})
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		_, err := svc.Notify(context.Background(), "user-1", "hello")
		require.NoError(t, err)
	}
	_, err := svc.Notify(context.Background(), "user-2", "hello")
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown(context.Background()))

	stats, err := svc.Stats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, &types.ChatStats{
		UserKey:          "user-1",
		UserMessageCount: 3,
		Date:             "2024-06-01",
		DailyMessages:    4,
	}, stats)
	assert.Equal(t, 4, rec.count(types.EntryMessageProcessingTime))

	empty, err := svc.Stats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.UserMessageCount)
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(0))
	assert.Equal(t, 12, retrySeconds(12*time.Second))
	assert.Equal(t, 13, retrySeconds(12*time.Second+time.Millisecond))
}
