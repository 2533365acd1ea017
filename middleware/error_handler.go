package middleware

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/NomadCrew/chatpulse-backend/errors"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error attached with c.Error as JSON.
// Handlers that already wrote a response are left alone.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		last := c.Errors.Last()
		err := last.Err

		var appError *errors.AppError
		if stderrors.As(err, &appError) {
			statusCode := appError.GetHTTPStatus()
			logger.LogHTTPError(c, err, statusCode, fmt.Sprintf("%s error", appError.Type))

			response := gin.H{
				"success": false,
				"type":    string(appError.Type),
				"message": appError.Message,
				"code":    strconv.Itoa(statusCode),
			}
			if appError.RetryAfter > 0 {
				response["retry_after"] = appError.RetryAfter
				c.Header("Retry-After", strconv.Itoa(appError.RetryAfter))
			}
			// Details are only exposed where they help the client fix the request.
			if appError.Detail != "" && (gin.IsDebugging() ||
				appError.Type == errors.ValidationError ||
				statusCode >= http.StatusInternalServerError) {
				response["error"] = appError.Detail
			}

			c.JSON(statusCode, response)
			return
		}

		if last.Type == gin.ErrorTypeBind {
			logger.LogHTTPError(c, err, http.StatusBadRequest, "Request binding error")

			response := gin.H{
				"success": false,
				"type":    string(errors.ValidationError),
				"message": "Failed to bind request",
				"code":    strconv.Itoa(http.StatusBadRequest),
			}
			if gin.IsDebugging() {
				response["error"] = err.Error()
			}
			c.JSON(http.StatusBadRequest, response)
			return
		}

		logger.LogHTTPError(c, err, http.StatusInternalServerError, "Unexpected server error")

		response := gin.H{
			"success": false,
			"type":    string(errors.ServerError),
			"message": "Internal Server Error",
			"code":    strconv.Itoa(http.StatusInternalServerError),
		}
		if gin.IsDebugging() {
			response["error"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, response)
	}
}
