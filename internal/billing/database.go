package billing

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	invoiceBucketName     = "invoices"
	measurementBucketName = "measurements"
	comparisonBucketName  = "comparisons"
)

// DB defines the interface for database operations
type DB interface {
	// SaveInvoice saves an invoice to the database
	SaveInvoice(invoice *Invoice) error

	// GetInvoice retrieves an invoice by ID
	GetInvoice(id string) (*Invoice, error)

	// ListInvoices returns a user's invoices, oldest first
	ListInvoices(userID string) ([]*Invoice, error)

	// FindInvoiceByHash returns the user's invoice uploaded with the given
	// source hash, or ErrNotFound
	FindInvoiceByHash(userID, hash string) (*Invoice, error)

	// SaveMeasurement saves a measurement and assigns its creation sequence
	SaveMeasurement(measurement *Measurement) error

	// GetMeasurement retrieves a measurement by ID
	GetMeasurement(id string) (*Measurement, error)

	// ListMeasurements returns a user's measurements in creation order
	ListMeasurements(userID string) ([]*Measurement, error)

	// SaveComparison appends a comparison
	SaveComparison(comparison *Comparison) error

	// ReplaceComparisons removes the invoice's earlier comparisons and saves
	// the new one in a single transaction
	ReplaceComparisons(comparison *Comparison) error

	// GetComparison retrieves a comparison by ID
	GetComparison(id string) (*Comparison, error)

	// ListComparisons returns a user's comparisons, oldest first
	ListComparisons(userID string) ([]*Comparison, error)

	// ListInvoiceComparisons returns an invoice's comparisons, oldest first
	ListInvoiceComparisons(invoiceID string) ([]*Comparison, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{invoiceBucketName, measurementBucketName, comparisonBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func put(tx *bbolt.Tx, bucketName, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucketName, err)
	}
	return tx.Bucket([]byte(bucketName)).Put([]byte(id), data)
}

// get decodes the record stored under id. kind names the record in the
// not-found error.
func (b *BoltDB) get(bucketName, kind, id string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s %w: %s", kind, ErrNotFound, id)
		}
		return json.Unmarshal(data, v)
	})
}

// each decodes every record in a bucket and passes it to fn.
func each[T any](tx *bbolt.Tx, bucketName string, fn func(*T)) error {
	return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
		var record T
		if err := json.Unmarshal(v, &record); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", bucketName, err)
		}
		fn(&record)
		return nil
	})
}

// SaveInvoice saves an invoice to the database
func (b *BoltDB) SaveInvoice(invoice *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, invoiceBucketName, invoice.ID, invoice)
	})
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	var invoice Invoice
	if err := b.get(invoiceBucketName, "invoice", id, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListInvoices returns a user's invoices, oldest first
func (b *BoltDB) ListInvoices(userID string) ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return each(tx, invoiceBucketName, func(invoice *Invoice) {
			if invoice.UserID == userID {
				invoices = append(invoices, invoice)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.Before(invoices[j].CreatedAt)
	})
	return invoices, nil
}

// FindInvoiceByHash returns the user's invoice with the given source hash
func (b *BoltDB) FindInvoiceByHash(userID, hash string) (*Invoice, error) {
	var found *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		return each(tx, invoiceBucketName, func(invoice *Invoice) {
			if found == nil && invoice.UserID == userID && invoice.SourceHash == hash {
				found = invoice
			}
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("invoice %w: hash %s", ErrNotFound, hash)
	}
	return found, nil
}

// SaveMeasurement saves a measurement, assigning the next creation sequence
// when it has none
func (b *BoltDB) SaveMeasurement(measurement *Measurement) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if measurement.Seq == 0 {
			seq, err := tx.Bucket([]byte(measurementBucketName)).NextSequence()
			if err != nil {
				return fmt.Errorf("allocating measurement sequence: %w", err)
			}
			measurement.Seq = seq
		}
		return put(tx, measurementBucketName, measurement.ID, measurement)
	})
}

// GetMeasurement retrieves a measurement by ID
func (b *BoltDB) GetMeasurement(id string) (*Measurement, error) {
	var measurement Measurement
	if err := b.get(measurementBucketName, "measurement", id, &measurement); err != nil {
		return nil, err
	}
	return &measurement, nil
}

// ListMeasurements returns a user's measurements in creation order
func (b *BoltDB) ListMeasurements(userID string) ([]*Measurement, error) {
	measurements := make([]*Measurement, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return each(tx, measurementBucketName, func(m *Measurement) {
			if m.UserID == userID {
				measurements = append(measurements, m)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(measurements, func(i, j int) bool {
		return measurements[i].Seq < measurements[j].Seq
	})
	return measurements, nil
}

// SaveComparison appends a comparison
func (b *BoltDB) SaveComparison(comparison *Comparison) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, comparisonBucketName, comparison.ID, comparison)
	})
}

// ReplaceComparisons drops the invoice's earlier comparisons and saves the
// new one atomically
func (b *BoltDB) ReplaceComparisons(comparison *Comparison) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var stale []string
		err := each(tx, comparisonBucketName, func(c *Comparison) {
			if c.InvoiceID == comparison.InvoiceID {
				stale = append(stale, c.ID)
			}
		})
		if err != nil {
			return err
		}
		bucket := tx.Bucket([]byte(comparisonBucketName))
		for _, id := range stale {
			if err := bucket.Delete([]byte(id)); err != nil {
				return fmt.Errorf("deleting comparison %s: %w", id, err)
			}
		}
		return put(tx, comparisonBucketName, comparison.ID, comparison)
	})
}

// GetComparison retrieves a comparison by ID
func (b *BoltDB) GetComparison(id string) (*Comparison, error) {
	var comparison Comparison
	if err := b.get(comparisonBucketName, "comparison", id, &comparison); err != nil {
		return nil, err
	}
	return &comparison, nil
}

// ListComparisons returns a user's comparisons, oldest first
func (b *BoltDB) ListComparisons(userID string) ([]*Comparison, error) {
	return b.listComparisons(func(c *Comparison) bool { return c.UserID == userID })
}

// ListInvoiceComparisons returns an invoice's comparisons, oldest first
func (b *BoltDB) ListInvoiceComparisons(invoiceID string) ([]*Comparison, error) {
	return b.listComparisons(func(c *Comparison) bool { return c.InvoiceID == invoiceID })
}

func (b *BoltDB) listComparisons(keep func(*Comparison) bool) ([]*Comparison, error) {
	comparisons := make([]*Comparison, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return each(tx, comparisonBucketName, func(c *Comparison) {
			if keep(c) {
				comparisons = append(comparisons, c)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(comparisons, func(i, j int) bool {
		return comparisons[i].CreatedAt.Before(comparisons[j].CreatedAt)
	})
	return comparisons, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
