package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/billcheck/internal/extraction"
	"github.com/zombor/billcheck/internal/ocr"
)

// IDGenerator generates unique record IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// DefaultIDGenerator returns the UUID generator used outside tests.
func DefaultIDGenerator() IDGenerator { return uuidGenerator{} }

// DefaultTimeSource returns the UTC wall clock.
func DefaultTimeSource() TimeSource { return systemClock{} }

// Document is one uploaded invoice page.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service handles invoice, measurement and comparison records for their
// owners
type Service struct {
	db          DB
	recognizer  ocr.Recognizer
	storage     Storage
	schema      *jsonschema.Schema
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, recognizer ocr.Recognizer, storage Storage) (*Service, error) {
	return NewServiceWithDeps(db, recognizer, storage, DefaultIDGenerator(), DefaultTimeSource())
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer ocr.Recognizer, storage Storage, idGen IDGenerator, timeSrc TimeSource) (*Service, error) {
	schema, err := compileMeasurementSchema()
	if err != nil {
		return nil, err
	}
	return &Service{
		db:          db,
		recognizer:  recognizer,
		storage:     storage,
		schema:      schema,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}, nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename keeps letters, digits, spaces, hyphens and underscores
// and shortens long scanner- or phone-generated names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	return base + unsafeFilenameChars.ReplaceAllString(ext, "")
}

// hashDocuments fingerprints an upload so identical uploads can be spotted
func hashDocuments(docs []Document) string {
	h := sha256.New()
	for _, doc := range docs {
		h.Write(doc.Data)
		// page boundary, so [ab][c] and [a][bc] differ
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SubmitText extracts an invoice from text that was already OCR'd elsewhere
func (s *Service) SubmitText(ctx context.Context, userID, text string) (*Invoice, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("extracting invoice: %w", extraction.ErrUnrecognizedProvider)
	}
	hash := hashDocuments([]Document{{Data: []byte(text)}})
	if existing, ok := s.findDuplicate(userID, hash); ok {
		return existing, nil
	}

	record, err := extraction.Extract(text)
	if err != nil {
		return nil, fmt.Errorf("extracting invoice: %w", err)
	}
	return s.saveInvoice(userID, hash, record, nil)
}

// ProcessInvoice stores the uploaded pages, transcribes them in order and
// extracts an invoice from the joined transcript
func (s *Service) ProcessInvoice(ctx context.Context, userID string, docs []Document) (*Invoice, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	hash := hashDocuments(docs)
	if existing, ok := s.findDuplicate(userID, hash); ok {
		return existing, nil
	}

	id := s.idGenerator.Generate()
	stored := make([]StoredDocument, 0, len(docs))
	cleanup := func() {
		for _, doc := range stored {
			if err := s.storage.Delete(doc.Path); err != nil {
				slog.Warn("Failed to delete document", "path", doc.Path, "error", err)
			}
		}
	}

	pages := make([]string, 0, len(docs))
	for i, doc := range docs {
		name := fmt.Sprintf("%s_%d_%s", id, i+1, sanitizeFilename(doc.Filename))
		path, err := s.storage.Save(name, doc.Data)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("saving document: %w", err)
		}
		stored = append(stored, StoredDocument{Path: path, ContentType: doc.ContentType})

		text, err := s.recognizer.Recognize(ctx, doc.Data, doc.ContentType)
		if err != nil {
			slog.Error("Failed to recognize page",
				"filename", doc.Filename,
				"page", i+1,
				"content_type", doc.ContentType,
				"file_size", len(doc.Data),
				"error", err,
			)
			cleanup()
			return nil, fmt.Errorf("recognizing page %d: %w", i+1, err)
		}
		pages = append(pages, text)
	}

	record, err := extraction.Extract(strings.Join(pages, "\n"))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("extracting invoice: %w", err)
	}

	invoice, err := s.saveInvoiceWithID(id, userID, hash, record, stored)
	if err != nil {
		cleanup()
		return nil, err
	}
	return invoice, nil
}

func (s *Service) findDuplicate(userID, hash string) (*Invoice, bool) {
	existing, err := s.db.FindInvoiceByHash(userID, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("Failed to look up upload hash", "user_id", userID, "error", err)
		}
		return nil, false
	}
	slog.Info("Duplicate upload, returning existing invoice", "invoice_id", existing.ID, "user_id", userID)
	return existing, true
}

func (s *Service) saveInvoice(userID, hash string, record *extraction.Record, docs []StoredDocument) (*Invoice, error) {
	return s.saveInvoiceWithID(s.idGenerator.Generate(), userID, hash, record, docs)
}

func (s *Service) saveInvoiceWithID(id, userID, hash string, record *extraction.Record, docs []StoredDocument) (*Invoice, error) {
	invoice := &Invoice{
		ID:         id,
		UserID:     userID,
		Record:     *record,
		Documents:  docs,
		SourceHash: hash,
		CreatedAt:  s.timeSource.Now(),
	}
	if err := s.db.SaveInvoice(invoice); err != nil {
		return nil, fmt.Errorf("saving invoice to database: %w", err)
	}

	if missing := record.Missing(); len(missing) > 0 {
		slog.Info("Invoice extracted with missing fields",
			"invoice_id", id,
			"provider", record.Provider.String(),
			"missing", missing,
		)
	}
	return invoice, nil
}

// GetInvoice retrieves one of the user's invoices
func (s *Service) GetInvoice(userID, id string) (*Invoice, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if invoice.UserID != userID {
		return nil, fmt.Errorf("getting invoice: invoice %w: %s", ErrNotFound, id)
	}
	return invoice, nil
}

// ListInvoices returns the user's invoices with their comparison status
func (s *Service) ListInvoices(userID string) ([]*InvoiceSummary, error) {
	invoices, err := s.db.ListInvoices(userID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	comparisons, err := s.db.ListComparisons(userID)
	if err != nil {
		return nil, fmt.Errorf("listing comparisons: %w", err)
	}

	byInvoice := make(map[string][]*Comparison)
	for _, c := range comparisons {
		byInvoice[c.InvoiceID] = append(byInvoice[c.InvoiceID], c)
	}

	summaries := make([]*InvoiceSummary, 0, len(invoices))
	for _, invoice := range invoices {
		summaries = append(summaries, &InvoiceSummary{
			Invoice: invoice,
			Status:  StatusOf(byInvoice[invoice.ID]),
		})
	}
	return summaries, nil
}

// GetInvoiceDocument returns a stored page, counting from 1
func (s *Service) GetInvoiceDocument(userID, id string, page int) ([]byte, string, error) {
	invoice, err := s.GetInvoice(userID, id)
	if err != nil {
		return nil, "", err
	}
	if page < 1 || page > len(invoice.Documents) {
		return nil, "", fmt.Errorf("document %w: %s page %d", ErrNotFound, id, page)
	}
	doc := invoice.Documents[page-1]
	data, err := s.storage.Get(doc.Path)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice document: %w", err)
	}
	return data, doc.ContentType, nil
}

// ImportMeasurements validates a JSON array of measurements and saves them
// for the user in document order. Nothing is saved when any item is invalid.
func (s *Service) ImportMeasurements(userID string, data []byte) ([]*Measurement, error) {
	measurements, err := decodeMeasurements(s.schema, data)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	for _, m := range measurements {
		m.ID = s.idGenerator.Generate()
		m.UserID = userID
		m.CreatedAt = now
		if err := s.db.SaveMeasurement(m); err != nil {
			return nil, fmt.Errorf("saving measurement: %w", err)
		}
	}
	slog.Info("Imported measurements", "user_id", userID, "count", len(measurements))
	return measurements, nil
}

// GetMeasurement retrieves one of the user's measurements
func (s *Service) GetMeasurement(userID, id string) (*Measurement, error) {
	m, err := s.db.GetMeasurement(id)
	if err != nil {
		return nil, fmt.Errorf("getting measurement: %w", err)
	}
	if m.UserID != userID {
		return nil, fmt.Errorf("getting measurement: measurement %w: %s", ErrNotFound, id)
	}
	return m, nil
}

// ListMeasurements returns the user's measurements in creation order
func (s *Service) ListMeasurements(userID string) ([]*Measurement, error) {
	measurements, err := s.db.ListMeasurements(userID)
	if err != nil {
		return nil, fmt.Errorf("listing measurements: %w", err)
	}
	return measurements, nil
}

// GetComparison retrieves one of the user's comparisons
func (s *Service) GetComparison(userID, id string) (*Comparison, error) {
	c, err := s.db.GetComparison(id)
	if err != nil {
		return nil, fmt.Errorf("getting comparison: %w", err)
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("getting comparison: comparison %w: %s", ErrNotFound, id)
	}
	return c, nil
}

// ListComparisons returns the user's comparisons, oldest first
func (s *Service) ListComparisons(userID string) ([]*Comparison, error) {
	comparisons, err := s.db.ListComparisons(userID)
	if err != nil {
		return nil, fmt.Errorf("listing comparisons: %w", err)
	}
	return comparisons, nil
}

// ListInvoiceComparisons returns the comparisons of one of the user's
// invoices
func (s *Service) ListInvoiceComparisons(userID, invoiceID string) ([]*Comparison, error) {
	if _, err := s.GetInvoice(userID, invoiceID); err != nil {
		return nil, err
	}
	comparisons, err := s.db.ListInvoiceComparisons(invoiceID)
	if err != nil {
		return nil, fmt.Errorf("listing invoice comparisons: %w", err)
	}
	return comparisons, nil
}
