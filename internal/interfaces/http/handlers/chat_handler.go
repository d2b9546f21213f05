package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/application/usecase"
	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/internal/infrastructure/engine"
)

// ChatHandler serves the OpenAI-compatible chat completion route. The
// stream flag picks the codepath: non-streaming requests go through the
// interactive dispatch class, streaming requests hold a direct proxy
// connection to the engine.
type ChatHandler struct {
	usecase *usecase.ChatCompletionUseCase
	model   string
	started int64
	logger  *zap.Logger
}

// NewChatHandler creates the chat handler. model names the engine's
// served model for the /v1/models listing.
func NewChatHandler(uc *usecase.ChatCompletionUseCase, model string, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		usecase: uc,
		model:   model,
		started: time.Now().Unix(),
		logger:  logger,
	}
}

// ListModels handles GET /v1/models
func (h *ChatHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": h.model, "object": "model", "created": h.started, "owned_by": "batchgate"},
		},
	})
}

// ChatCompletions handles POST /v1/chat/completions
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	var req entity.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if req.Stream {
		h.handleStream(c, &req)
		return
	}

	result, err := h.usecase.Execute(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("Chat completion failed", zap.Error(err))
		respondError(c, err)
		return
	}

	// The engine's status and body pass through verbatim, including
	// upstream error statuses.
	c.Data(result.StatusCode, "application/json", result.Body)
}

// handleStream proxies an engine SSE stream chunk by chunk.
func (h *ChatHandler) handleStream(c *gin.Context, req *entity.ChatRequest) {
	resp, err := h.usecase.ExecuteStream(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("Chat stream failed to open", zap.Error(err))
		respondError(c, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.JSON(resp.StatusCode, gin.H{"detail": fmt.Sprintf("vLLM Error: %s", strings.TrimSpace(string(body)))})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()

	// Chunks are opaque; framing is preserved by flushing each read.
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Warn("Chat stream interrupted",
					zap.Bool("idle_timeout", engine.IsIdleTimeout(err)),
					zap.Error(err))
			}
			return
		}
	}
}
