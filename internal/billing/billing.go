package billing

import (
	"errors"
	"time"

	"github.com/zombor/billcheck/internal/extraction"
	"github.com/zombor/billcheck/internal/tariff"
)

var (
	// ErrNotFound is returned for records that do not exist or belong to
	// another user.
	ErrNotFound = errors.New("not found")
	// ErrInvalidMeasurement is returned for measurement documents that fail
	// validation.
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrNoDocuments is returned for uploads without any page.
	ErrNoDocuments = errors.New("at least one document is required")
)

// Invoice is a parsed invoice owned by a user. It is never modified after it
// is saved.
type Invoice struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	extraction.Record
	Documents  []StoredDocument `json:"documents,omitempty"`
	SourceHash string           `json:"source_hash"`
	CreatedAt  time.Time        `json:"created_at"`
}

// StoredDocument is one uploaded page kept for audit.
type StoredDocument struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
}

// Split is a quantity broken down by time-of-use band.
type Split struct {
	Peak    *float64 `json:"peak"`
	OffPeak *float64 `json:"off_peak"`
}

// Events counts supply incidents seen during a measurement.
type Events struct {
	Interruptions int `json:"interruptions"`
	VoltageDips   int `json:"voltage_dips"`
}

// Measurement is an independent meter reading over a period. Only the
// consumption fields take part in reconciliation; the telemetry is kept as
// received.
type Measurement struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Seq              uint64    `json:"seq"`
	Start            time.Time `json:"measurement_start"`
	End              time.Time `json:"measurement_end"`
	TotalConsumption *float64  `json:"total_consumption"`
	TimeOfUse        Split     `json:"time_of_use"`
	AverageVoltage   *float64  `json:"average_voltage,omitempty"`
	AverageCurrent   Split     `json:"average_current"`
	MaxDemand        Split     `json:"max_demand"`
	PowerFactor      *float64  `json:"power_factor,omitempty"`
	Events           Events    `json:"events"`
	CreatedAt        time.Time `json:"created_at"`
}

// FieldComparison is one compared quantity.
type FieldComparison struct {
	Invoice     float64 `json:"invoice"`
	Measurement float64 `json:"measurement"`
	Difference  float64 `json:"difference"`
	Matches     bool    `json:"matches"`
}

// PeriodComparison sets the invoice's billing dates against the
// measurement's.
type PeriodComparison struct {
	InvoiceStart     extraction.Date `json:"invoice_start"`
	InvoiceEnd       extraction.Date `json:"invoice_end"`
	MeasurementStart extraction.Date `json:"measurement_start"`
	MeasurementEnd   extraction.Date `json:"measurement_end"`
	BilledDays       *int            `json:"billed_days"`
	DatesMatch       bool            `json:"dates_match"`
}

// Comparison is the verdict of reconciling one invoice with one measurement.
// Fields holds only the quantities the invoice carried.
type Comparison struct {
	ID                   string                                `json:"id"`
	UserID               string                                `json:"user_id"`
	InvoiceID            string                                `json:"invoice_id"`
	MeasurementID        string                                `json:"measurement_id"`
	InvoiceCreatedAt     time.Time                             `json:"invoice_created_at"`
	MeasurementCreatedAt time.Time                             `json:"measurement_created_at"`
	Period               PeriodComparison                      `json:"billing_period"`
	Fields               map[extraction.Field]FieldComparison `json:"fields"`
	Tariff               tariff.Breakdown                      `json:"tariff"`
	Valid                bool                                  `json:"valid"`
	CreatedAt            time.Time                             `json:"created_at"`
}

// Verdict is the AND of the period flag and every stored field flag.
func (c *Comparison) Verdict() bool {
	if !c.Period.DatesMatch {
		return false
	}
	for _, f := range c.Fields {
		if !f.Matches {
			return false
		}
	}
	return true
}

// ComparisonStatus summarizes an invoice's reconciliation history.
type ComparisonStatus string

const (
	StatusNone          ComparisonStatus = "none"
	StatusNoDiscrepancy ComparisonStatus = "no_discrepancy"
	StatusDiscrepancy   ComparisonStatus = "discrepancy"
)

// StatusOf reports none without comparisons, no_discrepancy when any
// comparison is valid and discrepancy otherwise.
func StatusOf(comparisons []*Comparison) ComparisonStatus {
	if len(comparisons) == 0 {
		return StatusNone
	}
	for _, c := range comparisons {
		if c.Valid {
			return StatusNoDiscrepancy
		}
	}
	return StatusDiscrepancy
}

// InvoiceSummary is an invoice annotated with its comparison status.
type InvoiceSummary struct {
	*Invoice
	Status ComparisonStatus `json:"comparison_status"`
}
