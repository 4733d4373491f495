package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/errors"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func docIDParam(c *gin.Context) (uint64, error) {
	docID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || docID == 0 {
		return 0, errors.BadRequest("Invalid document id", err)
	}
	return docID, nil
}

type StateResponse struct {
	Binary string `json:"binary"`
}

// ShowDocumentState returns the full replica state, base64-encoded. The
// REST backend calls this before snapshotting or exporting.
func (h *Handler) ShowDocumentState(c *gin.Context) {
	docID, err := docIDParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	state, err := h.service.DocumentState(c.Request.Context(), docID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, StateResponse{
		Binary: base64.StdEncoding.EncodeToString(state),
	})
}

type CreateDocumentRequest struct {
	OwnerID uint64 `json:"owner_id" binding:"required"`
	Title   string `json:"title" binding:"max=255"`
}

func (h *Handler) CreateDocument(c *gin.Context) {
	var form CreateDocumentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.BadRequest("Invalid input", err))
		return
	}

	meta, err := h.service.CreateDocument(c.Request.Context(), form.OwnerID, form.Title)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, meta)
}

type PermissionRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
	Email  string `json:"email" binding:"omitempty,email"`
	Role   string `json:"role" binding:"required,oneof=editor viewer none"`
}

func (h *Handler) UpdatePermission(c *gin.Context) {
	docID, err := docIDParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	var form PermissionRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.BadRequest("Invalid input", err))
		return
	}

	err = h.service.UpdatePermission(
		c.Request.Context(),
		docID,
		form.UserID,
		form.Email,
		domain.Role(form.Role),
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) RemoveDocument(c *gin.Context) {
	docID, err := docIDParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.service.RemoveDocument(c.Request.Context(), docID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ShowActiveConnections(c *gin.Context) {
	docID, err := docIDParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id": docID,
		"active":      h.service.ActiveConnections(c.Request.Context(), docID),
	})
}
