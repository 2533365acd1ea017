package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/NomadCrew/chatpulse-backend/errors"
	"github.com/NomadCrew/chatpulse-backend/middleware"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChatNotifier struct {
	mock.Mock
}

func (m *mockChatNotifier) Notify(ctx context.Context, userKey, message string) (*types.NotifyResponse, error) {
	args := m.Called(ctx, userKey, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.NotifyResponse), args.Error(1)
}

func (m *mockChatNotifier) Stats(ctx context.Context, userKey string) (*types.ChatStats, error) {
	args := m.Called(ctx, userKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ChatStats), args.Error(1)
}

func setupChatRouter(chat ChatNotifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(chat)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.POST("/notify", h.Notify)
	r.GET("/chat/stats", h.Stats)
	return r
}

func postNotify(r *gin.Engine, body, userKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userKey != "" {
		req.Header.Set(middleware.UserKeyHeader, userKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatHandler_Notify(t *testing.T) {
	chat := &mockChatNotifier{}
	chat.On("Notify", mock.Anything, "user-1", "hello").Return(&types.NotifyResponse{
		Success:            true,
		Message:            "Message broadcast successfully.",
		RateLimitRemaining: 29,
	}, nil).Once()

	w := postNotify(setupChatRouter(chat), `{"message":"hello"}`, "user-1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Message broadcast successfully.","rate_limit_remaining":29}`, w.Body.String())
	chat.AssertExpectations(t)
}

func TestChatHandler_NotifyFallsBackToIP(t *testing.T) {
	chat := &mockChatNotifier{}
	chat.On("Notify", mock.Anything, "192.0.2.1", "hi").Return(&types.NotifyResponse{Success: true}, nil).Once()

	w := postNotify(setupChatRouter(chat), `{"message":"hi"}`, "")

	assert.Equal(t, http.StatusOK, w.Code)
	chat.AssertExpectations(t)
}

func TestChatHandler_NotifyErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKeys   map[string]interface{}
	}{
		{
			name:       "rate limited",
			err:        apperrors.RateLimitExceeded("Too many messages sent. Please slow down.", 30),
			wantStatus: http.StatusTooManyRequests,
			wantKeys: map[string]interface{}{
				"success":     false,
				"message":     "Too many messages sent. Please slow down.",
				"retry_after": float64(30),
			},
		},
		{
			name:       "validation",
			err:        apperrors.ValidationFailed("The message field is required.", "message is empty"),
			wantStatus: http.StatusBadRequest,
			wantKeys: map[string]interface{}{
				"success": false,
				"message": "The message field is required.",
			},
		},
		{
			name:       "broadcast failure",
			err:        apperrors.New(apperrors.BroadcastError, "An internal server error occurred while sending the message.", "publish timeout"),
			wantStatus: http.StatusInternalServerError,
			wantKeys: map[string]interface{}{
				"success": false,
				"message": "An internal server error occurred while sending the message.",
				"error":   "publish timeout",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &mockChatNotifier{}
			chat.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			w := postNotify(setupChatRouter(chat), `{"message":"hello"}`, "user-1")

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			for k, v := range tt.wantKeys {
				assert.Equal(t, v, body[k], "field %s", k)
			}
		})
	}
}

func TestChatHandler_NotifyMalformedBody(t *testing.T) {
	chat := &mockChatNotifier{}

	w := postNotify(setupChatRouter(chat), `{"message":`, "user-1")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to bind request")
	chat.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestChatHandler_Stats(t *testing.T) {
	chat := &mockChatNotifier{}
	chat.On("Stats", mock.Anything, "user-1").Return(&types.ChatStats{
		UserKey:          "user-1",
		UserMessageCount: 3,
		Date:             "2024-06-01",
		DailyMessages:    9,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat/stats", nil)
	req.Header.Set(middleware.UserKeyHeader, "user-1")
	w := httptest.NewRecorder()
	setupChatRouter(chat).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_key":"user-1","user_message_count":3,"date":"2024-06-01","daily_messages":9}`, w.Body.String())
}
