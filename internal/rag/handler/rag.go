// Package handler provides HTTP handlers for the RAG service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/biz"
)

// 流式响应中溯源信息的帧标记。
const (
	provenanceStart = "\n\n__PROVENANCE_START__\n"
	provenanceEnd   = "\n__PROVENANCE_END__"
)

// queryTimeout 单次查询的最长处理时间。
const queryTimeout = 60 * time.Second

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	service  biz.Service
	ingestor biz.IngestService
}

// NewRAGHandler creates a new RAGHandler.
func NewRAGHandler(service biz.Service, ingestor biz.IngestService) *RAGHandler {
	return &RAGHandler{
		service:  service,
		ingestor: ingestor,
	}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError maps pipeline errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, biz.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, biz.ErrTeamNotFound):
		status = http.StatusNotFound
	case errors.Is(err, biz.ErrDependencyUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ErrorResponse{Code: status, Message: err.Error()})
}

// UploadDocument ingests a multipart file upload into the team's knowledge base.
func (h *RAGHandler) UploadDocument(c *gin.Context) {
	team := c.Param("team")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "multipart field 'file' is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "cannot open uploaded file: " + err.Error()})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "cannot read uploaded file: " + err.Error()})
		return
	}

	stats, err := h.ingestor.Ingest(c.Request.Context(), team, fileHeader.Filename, data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "document ingested", Data: stats})
}

// ListDocuments returns the ingested files of a team.
func (h *RAGHandler) ListDocuments(c *gin.Context) {
	docs, err := h.ingestor.ListDocuments(c.Request.Context(), c.Param("team"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: docs})
}

// DeleteDocument removes a file and all of its chunks from the team.
func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	team := c.Param("team")
	fileName := c.Param("filename")

	if err := h.ingestor.DeleteDocument(c.Request.Context(), team, fileName); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "document deleted"})
}

// DeleteTeam drops the team's collection and parent chunks.
func (h *RAGHandler) DeleteTeam(c *gin.Context) {
	if err := h.ingestor.DeleteTeam(c.Request.Context(), c.Param("team")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "team deleted"})
}

// QueryRequest represents a query request.
type QueryRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
}

// Query performs a full pipeline query.
func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	result, err := h.service.Query(ctx, c.Param("team"), req.SessionID, req.Question)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.JSON(http.StatusRequestTimeout, ErrorResponse{
				Code:    408,
				Message: "Query timeout: the request took too long to process. Please try again or simplify your question.",
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// StreamQuery streams the answer as plain text deltas followed by a
// provenance trailer framed by fixed markers.
func (h *RAGHandler) StreamQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	started := false
	result, err := h.service.StreamQuery(ctx, c.Param("team"), req.SessionID, req.Question,
		func(delta string) error {
			started = true
			if _, werr := c.Writer.WriteString(delta); werr != nil {
				return werr
			}
			c.Writer.Flush()
			return nil
		})
	if err != nil {
		if !started {
			writeError(c, err)
			return
		}
		// 已经开始输出时无法回退为 JSON 错误，记录后中断流
		logger.Errorw("stream aborted after partial output", "error", err.Error())
		return
	}

	// 闲聊与守护路径没有溯源，尾帧输出空数组而非 null
	provenance := result.Provenance
	if provenance == nil {
		provenance = []model.Provenance{}
	}
	trailer, err := json.Marshal(provenance)
	if err != nil {
		logger.Errorw("provenance marshalling failed", "error", err.Error())
		return
	}
	_, _ = c.Writer.WriteString(provenanceStart)
	_, _ = c.Writer.Write(trailer)
	_, _ = c.Writer.WriteString(provenanceEnd)
	c.Writer.Flush()
}

// ClearSession deletes a conversation's memory.
func (h *RAGHandler) ClearSession(c *gin.Context) {
	if err := h.service.ClearSession(c.Request.Context(), c.Param("session_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "session cleared"})
}

// Stats returns knowledge base statistics for a team.
func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), c.Param("team"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: stats})
}
