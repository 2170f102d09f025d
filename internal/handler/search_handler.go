package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragchat/internal/pkg/errcode"
	"github.com/xxxsen/ragchat/internal/pkg/response"
	"github.com/xxxsen/ragchat/internal/service"
)

const maxSearchTopK = 50

type SearchHandler struct {
	retrieval *service.RetrievalService
	topK      int
}

func NewSearchHandler(retrieval *service.RetrievalService, topK int) *SearchHandler {
	return &SearchHandler{retrieval: retrieval, topK: topK}
}

// Search runs the same retrieval a chat turn would, but reports failures
// instead of degrading to an empty result.
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		response.Error(c, errcode.ErrInvalid, "q is required")
		return
	}
	topK := h.topK
	if value := c.Query("top_k"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			topK = min(parsed, maxSearchTopK)
		}
	}
	chunks, err := h.retrieval.Search(c.Request.Context(), query, getUserID(c), topK)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"query": query, "chunks": chunks})
}
