package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &config.ServerConfig{
		AllowedOrigins: []string{"http://localhost:3000", "https://*.chatpulse.dev"},
	}

	testCases := []struct {
		name           string
		origin         string
		preflight      bool
		expectedStatus int
		expectedOrigin string
	}{
		{
			name:           "allowed origin",
			origin:         "http://localhost:3000",
			expectedStatus: http.StatusOK,
			expectedOrigin: "http://localhost:3000",
		},
		{
			name:           "wildcard subdomain",
			origin:         "https://app.chatpulse.dev",
			expectedStatus: http.StatusOK,
			expectedOrigin: "https://app.chatpulse.dev",
		},
		{
			name:           "disallowed origin",
			origin:         "http://malicious.com",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "no origin header",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "allowed preflight",
			origin:         "http://localhost:3000",
			preflight:      true,
			expectedStatus: http.StatusNoContent,
			expectedOrigin: "http://localhost:3000",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORSMiddleware(cfg))
			r.GET("/test", func(c *gin.Context) {
				c.String(http.StatusOK, "OK")
			})

			method := http.MethodGet
			if tc.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/test", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.expectedStatus, w.Code)
			assert.Equal(t, tc.expectedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tc.preflight {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestCORSMiddleware_AllowAll(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(CORSMiddleware(&config.ServerConfig{AllowedOrigins: []string{"*"}}))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
