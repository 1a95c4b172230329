package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zombor/billcheck/internal/billing"
	"github.com/zombor/billcheck/internal/extraction"
	"github.com/zombor/billcheck/internal/tariff"
)

var (
	// ErrInvoiceNotFound is returned when the invoice does not exist or
	// belongs to someone else.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrNoMatchingMeasurement is returned when no measurement of the owner
	// overlaps the billing period.
	ErrNoMatchingMeasurement = errors.New("no measurement overlaps the billing period")
	// ErrIncompleteData is returned when the records lack what a stage needs.
	ErrIncompleteData = errors.New("incomplete data")
	// ErrInvalidUnitPrice is returned when the invoice's own unit price
	// cannot be used to price the measurement.
	ErrInvalidUnitPrice = errors.New("invalid unit price")
)

// Stage is a step of a reconciliation run.
type Stage string

const (
	StagePending    Stage = "pending"
	StageMatched    Stage = "matched"
	StageCalculated Stage = "calculated"
	StageVerdicted  Stage = "verdicted"
	StageFailed     Stage = "failed"
)

// Failure reports the stage a run was in when it stopped.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("reconciliation failed while %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(stage Stage, invoiceID string, err error) error {
	slog.Debug("Reconciliation stage", "invoice_id", invoiceID, "stage", string(StageFailed), "from", string(stage), "error", err)
	return &Failure{Stage: stage, Err: err}
}

// Tolerance is the largest absolute difference still counted as a match.
// The zero value demands exact equality.
type Tolerance struct {
	Consumption float64
	Money       float64
}

// Config tunes a reconciliation engine.
type Config struct {
	Tolerance Tolerance
	Policy    MatchPolicy
	// PreferInvoicePrice prices the measurement with the invoice's effective
	// unit price when it has one.
	PreferInvoicePrice bool
	// Supersede keeps a single result per invoice. Otherwise every run adds
	// one.
	Supersede bool
}

// Store is the persistence the engine reads from and writes to.
type Store interface {
	GetInvoice(id string) (*billing.Invoice, error)
	ListMeasurements(userID string) ([]*billing.Measurement, error)
	SaveComparison(comparison *billing.Comparison) error
	ReplaceComparisons(comparison *billing.Comparison) error
}

// Engine reconciles invoices against measurements.
type Engine struct {
	store       Store
	calculator  *tariff.Calculator
	config      Config
	matcher     Matcher
	idGenerator billing.IDGenerator
	timeSource  billing.TimeSource
	mu          sync.Mutex
	locks       map[string]*invoiceLock
}

// NewEngine creates an Engine with the default ID generator and time source
func NewEngine(store Store, calculator *tariff.Calculator, config Config) *Engine {
	return NewEngineWithDeps(store, calculator, config, billing.DefaultIDGenerator(), billing.DefaultTimeSource())
}

// NewEngineWithDeps creates an Engine with custom dependencies for testing
func NewEngineWithDeps(store Store, calculator *tariff.Calculator, config Config, idGen billing.IDGenerator, timeSrc billing.TimeSource) *Engine {
	return &Engine{
		store:       store,
		calculator:  calculator,
		config:      config,
		matcher:     Matcher{Policy: config.Policy},
		idGenerator: idGen,
		timeSource:  timeSrc,
		locks:       make(map[string]*invoiceLock),
	}
}

// Reconcile matches the user's invoice with a measurement, reprices the
// measurement and stores the verdict. Nothing is stored when it fails.
func (e *Engine) Reconcile(ctx context.Context, invoiceID, userID string) (*billing.Comparison, error) {
	if e.config.Supersede {
		unlock := e.lock(invoiceID)
		defer unlock()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	invoice, err := e.store.GetInvoice(invoiceID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return nil, fail(StagePending, invoiceID, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID))
		}
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if invoice.UserID != userID {
		return nil, fail(StagePending, invoiceID, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID))
	}
	if invoice.Period.Start == nil || invoice.Period.End == nil {
		return nil, fail(StagePending, invoiceID, fmt.Errorf("%w: invoice %s has no billing period", ErrIncompleteData, invoiceID))
	}
	period := Period{Start: *invoice.Period.Start, End: *invoice.Period.End}

	measurements, err := e.store.ListMeasurements(userID)
	if err != nil {
		return nil, fmt.Errorf("listing measurements: %w", err)
	}
	measurement, err := e.matcher.Select(period, measurements)
	if err != nil {
		return nil, fail(StagePending, invoiceID, err)
	}
	e.logStage(StageMatched, invoiceID, measurement.ID)

	if !hasConsumption(invoice.Consumption) && !measuredConsumption(measurement) {
		return nil, fail(StageMatched, invoiceID, fmt.Errorf("%w: neither invoice nor measurement carries consumption", ErrIncompleteData))
	}
	calculator, err := e.calculatorFor(invoice)
	if err != nil {
		return nil, fail(StageMatched, invoiceID, err)
	}
	breakdown := calculator.Calculate(tariff.Consumption{
		Total:   measuredTotal(measurement),
		Peak:    measurement.TimeOfUse.Peak,
		OffPeak: measurement.TimeOfUse.OffPeak,
	})
	if breakdown.Fallback != "" {
		slog.Debug("Priced on the flat rate", "invoice_id", invoiceID, "reason", breakdown.Fallback)
	}
	e.logStage(StageCalculated, invoiceID, measurement.ID)

	comparison := &billing.Comparison{
		ID:                   e.idGenerator.Generate(),
		UserID:               userID,
		InvoiceID:            invoice.ID,
		MeasurementID:        measurement.ID,
		InvoiceCreatedAt:     invoice.CreatedAt,
		MeasurementCreatedAt: measurement.CreatedAt,
		Period:               comparePeriod(invoice.Period, measurement),
		Fields:               e.compareFields(invoice, measurement, breakdown),
		Tariff:               breakdown,
		CreatedAt:            e.timeSource.Now(),
	}
	comparison.Valid = comparison.Verdict()

	if err := e.persist(comparison); err != nil {
		return nil, err
	}
	e.logStage(StageVerdicted, invoiceID, measurement.ID)
	return comparison, nil
}

type invoiceLock struct {
	sync.Mutex
	refs int
}

// lock serializes runs for one invoice. The entry is dropped once no run
// holds or waits on it.
func (e *Engine) lock(invoiceID string) func() {
	e.mu.Lock()
	l, ok := e.locks[invoiceID]
	if !ok {
		l = &invoiceLock{}
		e.locks[invoiceID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, invoiceID)
		}
		e.mu.Unlock()
	}
}

// heldLocks reports how many invoices currently have a lock entry.
func (e *Engine) heldLocks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.locks)
}

func (e *Engine) logStage(stage Stage, invoiceID, measurementID string) {
	slog.Debug("Reconciliation stage", "invoice_id", invoiceID, "stage", string(stage), "measurement_id", measurementID)
}

func (e *Engine) persist(comparison *billing.Comparison) error {
	save := e.store.SaveComparison
	if e.config.Supersede {
		save = e.store.ReplaceComparisons
	}
	if err := save(comparison); err != nil {
		return fmt.Errorf("saving comparison: %w", err)
	}
	return nil
}

// calculatorFor swaps in the invoice's effective unit price when configured.
func (e *Engine) calculatorFor(invoice *billing.Invoice) (*tariff.Calculator, error) {
	price := invoice.Consumption.UnitPrice
	if !e.config.PreferInvoicePrice || price == nil {
		return e.calculator, nil
	}
	if *price <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUnitPrice, *price)
	}
	calculator, err := e.calculator.WithUnitPrice(*price)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUnitPrice, err)
	}
	return calculator, nil
}

// compareFields compares every quantity the invoice carries. Missing
// measurement quantities count as zero.
func (e *Engine) compareFields(invoice *billing.Invoice, m *billing.Measurement, breakdown tariff.Breakdown) map[extraction.Field]billing.FieldComparison {
	fields := make(map[extraction.Field]billing.FieldComparison)
	add := func(field extraction.Field, invoiced *float64, measured, tolerance float64) {
		if invoiced == nil {
			return
		}
		fields[field] = compare(*invoiced, measured, tolerance)
	}

	tol := e.config.Tolerance
	add(extraction.FieldTotalConsumption, invoice.Consumption.Total, measuredTotal(m), tol.Consumption)
	add(extraction.FieldPeakConsumption, invoice.Consumption.Peak, orZero(m.TimeOfUse.Peak), tol.Consumption)
	add(extraction.FieldOffPeakConsumption, invoice.Consumption.OffPeak, orZero(m.TimeOfUse.OffPeak), tol.Consumption)
	add(extraction.FieldTotalPayable, invoice.Charges.TotalPayable, breakdown.Total, tol.Money)
	return fields
}

// compare records invoiced minus measured. The stored difference is rounded
// to cents; the match uses the exact difference.
func compare(invoiced, measured, tolerance float64) billing.FieldComparison {
	diff := decimal.NewFromFloat(invoiced).Sub(decimal.NewFromFloat(measured))
	rounded, _ := diff.Round(2).Float64()
	return billing.FieldComparison{
		Invoice:     invoiced,
		Measurement: measured,
		Difference:  rounded,
		Matches:     diff.Abs().LessThanOrEqual(decimal.NewFromFloat(tolerance)),
	}
}

func comparePeriod(p extraction.Period, m *billing.Measurement) billing.PeriodComparison {
	mp := measured(m)
	return billing.PeriodComparison{
		InvoiceStart:     *p.Start,
		InvoiceEnd:       *p.End,
		MeasurementStart: mp.Start,
		MeasurementEnd:   mp.End,
		BilledDays:       p.Days,
		DatesMatch:       p.Start.Equal(mp.Start.Time) && p.End.Equal(mp.End.Time),
	}
}

func hasConsumption(c extraction.Consumption) bool {
	return c.Total != nil || c.Peak != nil || c.OffPeak != nil
}

func measuredConsumption(m *billing.Measurement) bool {
	return m.TotalConsumption != nil || m.TimeOfUse.Peak != nil || m.TimeOfUse.OffPeak != nil
}

// measuredTotal falls back to the time-of-use split when the measurement
// carries no total.
func measuredTotal(m *billing.Measurement) float64 {
	if m.TotalConsumption != nil {
		return *m.TotalConsumption
	}
	total, _ := decimal.NewFromFloat(orZero(m.TimeOfUse.Peak)).Add(decimal.NewFromFloat(orZero(m.TimeOfUse.OffPeak))).Float64()
	return total
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
