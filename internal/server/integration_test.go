package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/billcheck/internal/billing"
	"github.com/zombor/billcheck/internal/extraction"
	"github.com/zombor/billcheck/internal/ocr"
	"github.com/zombor/billcheck/internal/reconcile"
	"github.com/zombor/billcheck/internal/tariff"
)

var _ = Describe("Integration", func() {
	drivers := []struct {
		name string
		open func(dir string) (billing.DB, error)
	}{
		{"bolt", func(dir string) (billing.DB, error) {
			return billing.NewBoltDB(filepath.Join(dir, "test.db"))
		}},
		{"sqlite", func(dir string) (billing.DB, error) {
			return billing.NewSQLiteDB(filepath.Join(dir, "test.sqlite"))
		}},
	}

	for _, driver := range drivers {
		open := driver.open
		Describe("with the "+driver.name+" database", func() {
			var (
				ghServer *ghttp.Server
				db       billing.DB
			)

			BeforeEach(func() {
				dir := GinkgoT().TempDir()
				var err error
				db, err = open(dir)
				Expect(err).NotTo(HaveOccurred())

				store, err := billing.NewLocalStorage(filepath.Join(dir, "invoices"))
				Expect(err).NotTo(HaveOccurred())

				service, err := billing.NewService(db, ocr.Text{}, store)
				Expect(err).NotTo(HaveOccurred())

				calculator, err := tariff.NewCalculator(tariff.DefaultRates())
				Expect(err).NotTo(HaveOccurred())
				engine := reconcile.NewEngine(db, calculator, reconcile.Config{PreferInvoicePrice: true})

				server := NewServer(service, engine, BasicAuth{Username: "alice", Password: "secret"}, "local")
				ghServer = ghttp.NewServer()
				for i := 0; i < 8; i++ {
					ghServer.AppendHandlers(server.ServeHTTP)
				}
			})

			AfterEach(func() {
				ghServer.Close()
				db.Close()
			})

			do := func(method, path, contentType string, body io.Reader) *http.Response {
				req, err := http.NewRequest(method, ghServer.URL()+path, body)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("alice", "secret")
				if contentType != "" {
					req.Header.Set("Content-Type", contentType)
				}
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				return resp
			}

			uploadInvoice := func() billing.Invoice {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				part, err := writer.CreateFormFile("file", "factura.txt")
				Expect(err).NotTo(HaveOccurred())
				part.Write([]byte(readSample("iberdrola.txt")))
				Expect(writer.Close()).To(Succeed())

				resp := do(http.MethodPost, "/api/invoices", writer.FormDataContentType(), &b)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				return decode[billing.Invoice](resp)
			}

			importMeasurement := func(total string) {
				doc := `[{"measurement_start": "2023-01-01T00:00:00Z", "measurement_end": "2023-01-31T23:59:59Z",
					"total_consumption": ` + total + `, "time_of_use": {"peak": 120, "off_peak": 380},
					"average_voltage": 230.1, "events": {"interruptions": 0, "voltage_dips": 2}}]`
				resp := do(http.MethodPost, "/api/measurements", "application/json", bytes.NewBufferString(doc))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			}

			reconcileInvoice := func(id string) map[string]any {
				resp := do(http.MethodPost, "/api/invoices/"+id+"/reconcile", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				return decode[map[string]any](resp)
			}

			It("should find no discrepancy when the measurement agrees", func() {
				invoice := uploadInvoice()
				Expect(invoice.UserID).To(Equal("alice"))
				Expect(*invoice.Consumption.UnitPrice).To(Equal(0.1121))

				importMeasurement("500")
				body := reconcileInvoice(invoice.ID)

				var result billing.Comparison
				raw, err := json.Marshal(body["result"])
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(raw, &result)).To(Succeed())
				Expect(result.Valid).To(BeTrue())
				Expect(result.Period.DatesMatch).To(BeTrue())
				Expect(result.Fields[extraction.FieldTotalPayable].Measurement).To(Equal(71.29))

				resp := do(http.MethodGet, "/api/invoices", "", nil)
				summaries := decode[[]map[string]any](resp)
				Expect(summaries).To(HaveLen(1))
				Expect(summaries[0]["comparison_status"]).To(Equal("no_discrepancy"))
			})

			It("should flag the consumption gap and persist the verdict", func() {
				invoice := uploadInvoice()
				importMeasurement("495")
				body := reconcileInvoice(invoice.ID)
				Expect(body["result"]).To(HaveKeyWithValue("valid", false))

				resp := do(http.MethodGet, "/api/comparisons/"+body["comparison_id"].(string), "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				stored := decode[billing.Comparison](resp)
				field := stored.Fields[extraction.FieldTotalConsumption]
				Expect(field.Difference).To(Equal(5.0))
				Expect(field.Matches).To(BeFalse())
				Expect(stored.Valid).To(BeFalse())

				resp = do(http.MethodGet, "/api/invoices/"+invoice.ID+"/comparisons", "", nil)
				Expect(decode[[]billing.Comparison](resp)).To(HaveLen(1))
			})

			It("should report a missing measurement and persist nothing", func() {
				invoice := uploadInvoice()

				resp := do(http.MethodPost, "/api/invoices/"+invoice.ID+"/reconcile", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(decode[map[string]string](resp)["error"]).To(Equal("No matching measurements found."))

				resp = do(http.MethodGet, "/api/comparisons", "", nil)
				Expect(decode[[]billing.Comparison](resp)).To(BeEmpty())
			})

			It("should return the existing invoice for a repeated upload", func() {
				first := uploadInvoice()
				second := uploadInvoice()
				Expect(second.ID).To(Equal(first.ID))
			})
		})
	}
})
