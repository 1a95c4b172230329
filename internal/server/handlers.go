package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/zombor/billcheck/internal/billing"
	"github.com/zombor/billcheck/internal/extraction"
	"github.com/zombor/billcheck/internal/ocr"
	"github.com/zombor/billcheck/internal/reconcile"
)

const (
	maxUploadSize = int64(50 << 20)
	maxBodySize   = int64(10 << 20)
	timeLayout    = "2006-01-02 15:04:05"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain errors to responses. Anything unknown is
// logged and reported as a generic server error.
func writeServiceError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, reconcile.ErrInvoiceNotFound):
		writeError(w, http.StatusNotFound, "Invoice not found.")
	case errors.Is(err, reconcile.ErrNoMatchingMeasurement):
		writeError(w, http.StatusNotFound, "No matching measurements found.")
	case errors.Is(err, billing.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, reconcile.ErrInvalidUnitPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, billing.ErrNoDocuments), errors.Is(err, ocr.ErrUnsupportedContent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, extraction.ErrUnrecognizedProvider):
		writeError(w, http.StatusUnprocessableEntity, "Could not classify the invoice: unrecognized provider.")
	case errors.Is(err, reconcile.ErrIncompleteData), errors.Is(err, billing.ErrInvalidMeasurement):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("Error "+action,
			"request_id", middleware.GetReqID(r.Context()),
			"user_id", userFrom(r),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// contentTypeOf trusts the part header and falls back to the extension
func contentTypeOf(filename, header string) string {
	if header != "" && header != "application/octet-stream" {
		if mediaType, params, err := mime.ParseMediaType(header); err == nil {
			return mime.FormatMediaType(mediaType, params)
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// handleUploadInvoice accepts one or more "file" parts, in page order
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload is too large. Maximum size is 50MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}

	docs := make([]billing.Document, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeServiceError(w, r, "opening upload", err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeServiceError(w, r, "reading upload", err)
			return
		}
		docs = append(docs, billing.Document{
			Filename:    header.Filename,
			ContentType: contentTypeOf(header.Filename, header.Header.Get("Content-Type")),
			Data:        data,
		})
	}

	invoice, err := s.service.ProcessInvoice(r.Context(), userFrom(r), docs)
	if err != nil {
		writeServiceError(w, r, "processing invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

type submitTextRequest struct {
	Text string `json:"text"`
}

// handleSubmitText takes already transcribed text, as JSON {"text": ...} or
// as a text/plain body
func (s *Server) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error reading body")
		return
	}

	text := ocr.DecodeText(body)
	if !ocr.IsPlainText(r.Header.Get("Content-Type")) {
		var req submitTextRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		text = req.Text
	}

	invoice, err := s.service.SubmitText(r.Context(), userFrom(r), text)
	if err != nil {
		writeServiceError(w, r, "submitting invoice text", err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListInvoices(userFrom(r))
	if err != nil {
		writeServiceError(w, r, "listing invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.service.GetInvoice(userFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "getting invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleGetInvoiceDocument returns a stored page, counting from 1
func (s *Server) handleGetInvoiceDocument(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Page must be a number")
		return
	}
	data, contentType, err := s.service.GetInvoiceDocument(userFrom(r), r.PathValue("id"), page)
	if err != nil {
		writeServiceError(w, r, "getting invoice document", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleListInvoiceComparisons(w http.ResponseWriter, r *http.Request) {
	comparisons, err := s.service.ListInvoiceComparisons(userFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "listing invoice comparisons", err)
		return
	}
	writeJSON(w, http.StatusOK, comparisons)
}

// reconcileResponse echoes both source records next to the verdict
type reconcileResponse struct {
	Status               string              `json:"status"`
	Message              string              `json:"message"`
	UserID               string              `json:"user_id"`
	InvoiceID            string              `json:"invoice_id"`
	MeasurementID        string              `json:"measurement_id"`
	InvoiceCreatedAt     string              `json:"invoice_created_at"`
	MeasurementCreatedAt string              `json:"measurement_created_at"`
	ComparisonID         string              `json:"comparison_id"`
	Result               *billing.Comparison `json:"result"`
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request, invoiceID string) {
	if invoiceID == "" {
		writeError(w, http.StatusBadRequest, "'invoice_id' is required.")
		return
	}
	user := userFrom(r)
	comparison, err := s.reconciler.Reconcile(r.Context(), invoiceID, user)
	if err != nil {
		writeServiceError(w, r, "reconciling invoice", err)
		return
	}

	slog.Info("Invoice reconciled",
		"invoice_id", invoiceID,
		"measurement_id", comparison.MeasurementID,
		"valid", comparison.Valid,
	)
	writeJSON(w, http.StatusOK, reconcileResponse{
		Status:               "success",
		Message:              "Comparison completed successfully.",
		UserID:               user,
		InvoiceID:            comparison.InvoiceID,
		MeasurementID:        comparison.MeasurementID,
		InvoiceCreatedAt:     comparison.InvoiceCreatedAt.Format(timeLayout),
		MeasurementCreatedAt: comparison.MeasurementCreatedAt.Format(timeLayout),
		ComparisonID:         comparison.ID,
		Result:               comparison,
	})
}

func (s *Server) handleReconcileInvoice(w http.ResponseWriter, r *http.Request) {
	s.reconcile(w, r, r.PathValue("id"))
}

type createComparisonRequest struct {
	InvoiceID string `json:"invoice_id"`
}

func (s *Server) handleCreateComparison(w http.ResponseWriter, r *http.Request) {
	var req createComparisonRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	s.reconcile(w, r, req.InvoiceID)
}

func (s *Server) handleListComparisons(w http.ResponseWriter, r *http.Request) {
	comparisons, err := s.service.ListComparisons(userFrom(r))
	if err != nil {
		writeServiceError(w, r, "listing comparisons", err)
		return
	}
	writeJSON(w, http.StatusOK, comparisons)
}

func (s *Server) handleGetComparison(w http.ResponseWriter, r *http.Request) {
	comparison, err := s.service.GetComparison(userFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "getting comparison", err)
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

// handleImportMeasurements takes a JSON array of measurements
func (s *Server) handleImportMeasurements(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error reading body")
		return
	}
	measurements, err := s.service.ImportMeasurements(userFrom(r), body)
	if err != nil {
		writeServiceError(w, r, "importing measurements", err)
		return
	}
	writeJSON(w, http.StatusCreated, measurements)
}

func (s *Server) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	measurements, err := s.service.ListMeasurements(userFrom(r))
	if err != nil {
		writeServiceError(w, r, "listing measurements", err)
		return
	}
	writeJSON(w, http.StatusOK, measurements)
}

func (s *Server) handleGetMeasurement(w http.ResponseWriter, r *http.Request) {
	measurement, err := s.service.GetMeasurement(userFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "getting measurement", err)
		return
	}
	writeJSON(w, http.StatusOK, measurement)
}
