package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MetricsUnavailableBody is served when collection or rendering fails.
const MetricsUnavailableBody = "# Metrics temporarily unavailable\n"

// Collector refreshes gauges before a scrape.
type Collector interface {
	Collect(ctx context.Context)
}

// Renderer writes the registry in the text exposition format.
type Renderer interface {
	Render(w io.Writer) error
}

type MetricsHandler struct {
	collector Collector
	renderer  Renderer
	log       *zap.SugaredLogger
}

// NewMetricsHandler creates the exposition handler. collector may be nil.
func NewMetricsHandler(collector Collector, renderer Renderer) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		renderer:  renderer,
		log:       logger.GetLogger().Named("metrics_handler"),
	}
}

// Metrics godoc
// @Summary Prometheus metrics
// @Description Text exposition format 0.0.4. Always answers 200.
// @Tags metrics
// @Produce plain
// @Success 200 {string} string "Metrics"
// @Router /metrics [get]
func (h *MetricsHandler) Metrics(c *gin.Context) {
	body, err := h.render(c.Request.Context())
	if err != nil {
		h.log.Errorw("Failed to render metrics", "error", err)
		body = []byte(MetricsUnavailableBody)
	}
	c.Data(http.StatusOK, metrics.ContentType, body)
}

func (h *MetricsHandler) render(ctx context.Context) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metrics panic: %v", r)
		}
	}()

	if h.collector != nil {
		h.collector.Collect(ctx)
	}
	var buf bytes.Buffer
	if err := h.renderer.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
