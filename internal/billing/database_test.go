package billing

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/billcheck/internal/extraction"
	"github.com/zombor/billcheck/internal/tariff"
)

func ptr[T any](v T) *T {
	return &v
}

// describeDB runs the storage contract against a DB opened by open.
func describeDB(open func(dir string) DB) {
	var (
		db   DB
		base time.Time
	)

	BeforeEach(func() {
		db = open(GinkgoT().TempDir())
		base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("invoices", func() {
		var invoice *Invoice

		BeforeEach(func() {
			start := extraction.NewDate(2023, time.January, 1)
			invoice = &Invoice{
				ID:     "inv-1",
				UserID: "alice",
				Record: extraction.Record{
					Provider:     extraction.Iberdrola,
					CustomerName: ptr("MARIA GARCIA LOPEZ"),
					Period:       extraction.Period{Start: &start, Days: ptr(30)},
					Charges:      extraction.Charges{TotalPayable: ptr(71.29)},
					RawText:      "iberdrola",
				},
				Documents:  []StoredDocument{{Path: "inv-1_1_scan.png", ContentType: "image/png"}},
				SourceHash: "abc",
				CreatedAt:  base,
			}
			Expect(db.SaveInvoice(invoice)).To(Succeed())
		})

		It("should round-trip the extracted record", func() {
			saved, err := db.GetInvoice("inv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Provider).To(Equal(extraction.Iberdrola))
			Expect(*saved.CustomerName).To(Equal("MARIA GARCIA LOPEZ"))
			Expect(saved.Period.Start.String()).To(Equal("2023-01-01"))
			Expect(saved.Period.End).To(BeNil())
			Expect(*saved.Charges.TotalPayable).To(Equal(71.29))
			Expect(saved.Documents).To(Equal(invoice.Documents))
			Expect(saved.CreatedAt.Equal(base)).To(BeTrue())
		})

		It("should report missing invoices as not found", func() {
			_, err := db.GetInvoice("nope")
			Expect(err).To(MatchError(ErrNotFound))
			Expect(err.Error()).To(Equal("invoice not found: nope"))
		})

		It("should list a user's invoices oldest first", func() {
			Expect(db.SaveInvoice(&Invoice{ID: "inv-2", UserID: "alice", CreatedAt: base.Add(time.Hour)})).To(Succeed())
			Expect(db.SaveInvoice(&Invoice{ID: "inv-3", UserID: "bob", CreatedAt: base})).To(Succeed())

			invoices, err := db.ListInvoices("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(invoices).To(HaveLen(2))
			Expect(invoices[0].ID).To(Equal("inv-1"))
			Expect(invoices[1].ID).To(Equal("inv-2"))
		})

		It("should find an invoice by its owner and hash", func() {
			found, err := db.FindInvoiceByHash("alice", "abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal("inv-1"))

			_, err = db.FindInvoiceByHash("bob", "abc")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("measurements", func() {
		It("should assign increasing sequences", func() {
			first := &Measurement{ID: "m-1", UserID: "alice", Start: base, End: base.AddDate(0, 1, 0)}
			second := &Measurement{ID: "m-2", UserID: "alice", Start: base, End: base.AddDate(0, 1, 0)}
			Expect(db.SaveMeasurement(first)).To(Succeed())
			Expect(db.SaveMeasurement(second)).To(Succeed())

			Expect(first.Seq).NotTo(BeZero())
			Expect(second.Seq).To(BeNumerically(">", first.Seq))
		})

		It("should list a user's measurements in creation order", func() {
			for _, id := range []string{"m-3", "m-1", "m-2"} {
				Expect(db.SaveMeasurement(&Measurement{ID: id, UserID: "alice", Start: base, End: base})).To(Succeed())
			}
			Expect(db.SaveMeasurement(&Measurement{ID: "m-9", UserID: "bob", Start: base, End: base})).To(Succeed())

			measurements, err := db.ListMeasurements("alice")
			Expect(err).NotTo(HaveOccurred())
			ids := []string{}
			for _, m := range measurements {
				ids = append(ids, m.ID)
			}
			Expect(ids).To(Equal([]string{"m-3", "m-1", "m-2"}))
		})

		It("should round-trip consumption", func() {
			m := &Measurement{
				ID:               "m-1",
				UserID:           "alice",
				Start:            base,
				End:              base.AddDate(0, 1, 0),
				TotalConsumption: ptr(495.0),
				TimeOfUse:        Split{Peak: ptr(120.0)},
			}
			Expect(db.SaveMeasurement(m)).To(Succeed())

			saved, err := db.GetMeasurement("m-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(*saved.TotalConsumption).To(Equal(495.0))
			Expect(*saved.TimeOfUse.Peak).To(Equal(120.0))
			Expect(saved.TimeOfUse.OffPeak).To(BeNil())
			Expect(saved.Seq).To(Equal(m.Seq))
		})

		It("should report missing measurements as not found", func() {
			_, err := db.GetMeasurement("nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("comparisons", func() {
		newComparison := func(id, invoiceID string, offset time.Duration) *Comparison {
			return &Comparison{
				ID:        id,
				UserID:    "alice",
				InvoiceID: invoiceID,
				Fields: map[extraction.Field]FieldComparison{
					extraction.FieldTotalConsumption: {Invoice: 500, Measurement: 495, Difference: 5},
				},
				Tariff:    tariff.Breakdown{Method: tariff.Flat, Total: 71.29},
				CreatedAt: base.Add(offset),
			}
		}

		BeforeEach(func() {
			Expect(db.SaveComparison(newComparison("c-1", "inv-1", 0))).To(Succeed())
			Expect(db.SaveComparison(newComparison("c-2", "inv-1", time.Minute))).To(Succeed())
			Expect(db.SaveComparison(newComparison("c-3", "inv-2", 2*time.Minute))).To(Succeed())
		})

		It("should round-trip the field map", func() {
			saved, err := db.GetComparison("c-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Fields[extraction.FieldTotalConsumption].Difference).To(Equal(5.0))
			Expect(saved.Tariff.Method).To(Equal(tariff.Flat))
		})

		It("should append comparisons", func() {
			comparisons, err := db.ListInvoiceComparisons("inv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(comparisons).To(HaveLen(2))
			Expect(comparisons[0].ID).To(Equal("c-1"))
		})

		It("should list a user's comparisons", func() {
			comparisons, err := db.ListComparisons("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(comparisons).To(HaveLen(3))
		})

		It("should replace only the invoice's comparisons", func() {
			Expect(db.ReplaceComparisons(newComparison("c-4", "inv-1", 3*time.Minute))).To(Succeed())

			comparisons, err := db.ListInvoiceComparisons("inv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(comparisons).To(HaveLen(1))
			Expect(comparisons[0].ID).To(Equal("c-4"))

			others, err := db.ListInvoiceComparisons("inv-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(others).To(HaveLen(1))
		})

		It("should report missing comparisons as not found", func() {
			_, err := db.GetComparison("nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
}

var _ = Describe("BoltDB", func() {
	describeDB(func(dir string) DB {
		db, err := NewBoltDB(filepath.Join(dir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})

	It("should keep records across reopen", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "reopen.db")
		db, err := NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(db.SaveInvoice(&Invoice{ID: "inv-1", UserID: "alice"})).To(Succeed())
		Expect(db.Close()).To(Succeed())

		db, err = NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()
		_, err = db.GetInvoice("inv-1")
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("SQLiteDB", func() {
	describeDB(func(dir string) DB {
		db, err := NewSQLiteDB(filepath.Join(dir, "test.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})

	It("should work in memory", func() {
		db, err := NewSQLiteDB(":memory:")
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()
		Expect(db.SaveInvoice(&Invoice{ID: "inv-1", UserID: "alice"})).To(Succeed())
		invoices, err := db.ListInvoices("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(invoices).To(HaveLen(1))
	})
})
