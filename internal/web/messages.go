package web

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/triage"
	"golang.org/x/text/encoding/charmap"
)

type textRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

type submitResponse struct {
	MessageID string             `json:"message_id"`
	Status    db.ProcessingState `json:"status"`
	Message   string             `json:"message"`
}

type batchResult struct {
	Filename  string `json:"filename"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type messageView struct {
	db.MessageRecord
	Formats []db.Format `json:"available_formats"`
}

func accepted(id string) submitResponse {
	return submitResponse{
		MessageID: id,
		Status:    db.StatePending,
		Message:   "Mesaj kabul edildi, dönüşüm başlatıldı",
	}
}

func (s *Server) handleSubmitText(c echo.Context) error {
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Geçersiz istek gövdesi")
	}
	if req.Filename == "" {
		req.Filename = "text_input.hl7"
	}

	id, err := s.deps.Intake.Submit(c.Request().Context(), req.Content, req.Filename)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, accepted(id))
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Dosya bulunamadı")
	}

	content, err := s.readUpload(fh)
	if err != nil {
		return err
	}

	id, err := s.deps.Intake.Submit(c.Request().Context(), content, fh.Filename)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, accepted(id))
}

func (s *Server) handleBatchUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Geçersiz multipart form")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Dosya bulunamadı")
	}
	if len(files) > s.config.MaxBatchFiles {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("En fazla %d dosya yüklenebilir", s.config.MaxBatchFiles))
	}

	ctx := c.Request().Context()
	results := make([]batchResult, 0, len(files))
	for _, fh := range files {
		result := batchResult{Filename: fh.Filename}

		content, err := s.readUpload(fh)
		if err != nil {
			result.Status = "rejected"
			if he, ok := err.(*echo.HTTPError); ok {
				result.Error = fmt.Sprint(he.Message)
			} else {
				result.Error = err.Error()
			}
			results = append(results, result)
			continue
		}

		id, err := s.deps.Intake.Submit(ctx, content, fh.Filename)
		if err != nil {
			result.Status = "rejected"
			result.Error = err.Error()
			result.MessageID = id
		} else {
			result.Status = string(db.StatePending)
			result.MessageID = id
		}
		results = append(results, result)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

// readUpload enforces the size limit and decodes the file as UTF-8, falling
// back to Latin-1.
func (s *Server) readUpload(fh *multipart.FileHeader) (string, error) {
	if fh.Size > s.config.MaxFileSize {
		return "", echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Dosya boyutu %d baytı aşıyor", s.config.MaxFileSize))
	}

	f, err := fh.Open()
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Dosya okunamadı")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.config.MaxFileSize+1))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Dosya okunamadı")
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return "", echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Dosya boyutu %d baytı aşıyor", s.config.MaxFileSize))
	}

	return decodeText(data)
}

func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Dosya kodlaması çözülemedi")
	}
	return string(decoded), nil
}

func (s *Server) handleGetMessage(c echo.Context) error {
	rec, err := s.deps.Store.GetMessage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	view := messageView{MessageRecord: *rec, Formats: []db.Format{}}
	for _, f := range []db.Format{db.FormatXML, db.FormatJSON, db.FormatPDF} {
		if rec.HasFormat(f) {
			view.Formats = append(view.Formats, f)
		}
	}
	view.XMLContent = nil
	view.JSONContent = nil
	view.PDFContent = nil

	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetStatus(c echo.Context) error {
	status, err := s.deps.Status.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if status == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Mesaj bulunamadı")
	}
	return c.JSON(http.StatusOK, status)
}

// handleGetFormat serves stored content; presence of the payload decides,
// not the processing state.
func (s *Server) handleGetFormat(c echo.Context) error {
	format, ok := db.ParseFormat(c.Param("format"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Geçersiz format")
	}

	rec, err := s.deps.Store.GetMessage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !rec.HasFormat(format) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s içeriği henüz mevcut değil", format))
	}

	switch format {
	case db.FormatXML:
		return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, []byte(*rec.XMLContent))
	case db.FormatJSON:
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, rec.JSONContent)
	default:
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", rec.ID+".pdf"))
		return c.Blob(http.StatusOK, "application/pdf", rec.PDFContent)
	}
}

func (s *Server) handleGetLogs(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.deps.Store.GetState(ctx, id); err != nil {
		return httpError(err)
	}

	logs, err := s.deps.Store.ListLogs(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if logs == nil {
		logs = []db.ProcessingLogEntry{}
	}
	return c.JSON(http.StatusOK, logs)
}

func (s *Server) handleTriage(c echo.Context) error {
	rec, err := s.deps.Store.GetMessage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, triage.Assess(rec.RawContent, time.Now()))
}
