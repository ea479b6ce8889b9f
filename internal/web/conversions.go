package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/store"
)

type saveConversionRequest struct {
	OriginalContent string          `json:"original_hl7_content"`
	JSONContent     json.RawMessage `json:"json_content"`
	XMLContent      *string         `json:"xml_content"`
	Metadata        json.RawMessage `json:"conversion_metadata"`
	UserID          *string         `json:"user_id"`
	Title           *string         `json:"title"`
	Description     *string         `json:"description"`
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func (s *Server) handleSaveConversion(c echo.Context) error {
	var req saveConversionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Geçersiz istek gövdesi")
	}

	if strings.TrimSpace(req.OriginalContent) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Orijinal HL7 içeriği gerekli")
	}
	if isNullJSON(req.JSONContent) {
		req.JSONContent = nil
	}
	if isNullJSON(req.Metadata) {
		req.Metadata = nil
	}
	if req.XMLContent != nil && strings.TrimSpace(*req.XMLContent) == "" {
		req.XMLContent = nil
	}
	if req.JSONContent == nil && req.XMLContent == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON veya XML içeriğinden en az biri gerekli")
	}

	now := time.Now().UTC()
	conv := &db.SavedConversion{
		ID:              uuid.New().String(),
		OriginalContent: req.OriginalContent,
		ContentHash:     store.ContentHash(req.OriginalContent),
		JSONContent:     req.JSONContent,
		XMLContent:      req.XMLContent,
		Metadata:        req.Metadata,
		UserID:          req.UserID,
		Title:           req.Title,
		Description:     req.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.deps.Store.SaveConversion(c.Request().Context(), conv); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) handleGetConversion(c echo.Context) error {
	conv, err := s.deps.Store.GetConversion(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversion(c echo.Context) error {
	if err := s.deps.Store.DeleteConversion(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
