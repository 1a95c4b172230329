package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/billcheck/internal/billing"
	"github.com/zombor/billcheck/internal/ocr"
	"github.com/zombor/billcheck/internal/reconcile"
	"github.com/zombor/billcheck/internal/server"
	"github.com/zombor/billcheck/internal/tariff"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	defaults := tariff.DefaultRates()
	fs := ff.NewFlagSet("billcheck")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		logLevel        = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		dbDriver        = fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'sqlite'")
		dbPath          = fs.StringLong("db", "billcheck.db", "Database file path")
		storagePath     = fs.StringLong("storage", "./invoices", "Directory for uploaded invoice pages")
		ocrType         = fs.StringLong("ocr", "gemini", "OCR backend: 'gemini', 'ollama' or 'none' (text uploads only)")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		ocrRPS          = fs.Float64Long("ocr-rps", 1, "OCR requests per second")
		ocrBurst        = fs.IntLong("ocr-burst", 4, "OCR request burst size")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional); owns every record")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		defaultUser     = fs.StringLong("default-user", "local", "Record owner when basic auth is disabled")
		unitPrice       = fs.Float64Long("unit-price", defaults.UnitPrice, "Flat energy price per kWh")
		peakPrice       = fs.Float64Long("peak-price", 0, "Peak energy price per kWh (0 disables time-of-use pricing)")
		offPeakPrice    = fs.Float64Long("off-peak-price", 0, "Off-peak energy price per kWh (0 disables time-of-use pricing)")
		electricityTax  = fs.Float64Long("electricity-tax", defaults.ElectricityTax, "Electricity tax rate")
		vat             = fs.Float64Long("vat", defaults.VAT, "VAT rate")
		preferInvoice   = fs.StringLong("prefer-invoice-price", "true", "Price measurements with the invoice's own unit price when present (true or false)")
		consumptionTol  = fs.Float64Long("consumption-tolerance", 0, "Largest kWh difference still counted as a match")
		moneyTol        = fs.Float64Long("money-tolerance", 0, "Largest amount difference still counted as a match")
		matchPolicy     = fs.StringLong("match-policy", "first", "Measurement choice when several overlap: 'first' or 'overlap'")
		supersede       = fs.BoolLong("supersede", "Keep only the latest comparison per invoice")
		seedMeasurement = fs.StringLong("seed-measurements", "", "JSON file of measurements imported at startup for the default user")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILLCHECK"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	preferInvoicePrice, err := strconv.ParseBool(*preferInvoice)
	if err != nil {
		slog.Error("Invalid prefer-invoice-price value", "value", *preferInvoice, "error", err)
		os.Exit(1)
	}

	policy, err := reconcile.ParseMatchPolicy(*matchPolicy)
	if err != nil {
		slog.Error("Invalid match policy", "error", err)
		os.Exit(1)
	}

	calculator, err := tariff.NewCalculator(tariff.Rates{
		UnitPrice:      *unitPrice,
		PeakPrice:      *peakPrice,
		OffPeakPrice:   *offPeakPrice,
		ElectricityTax: *electricityTax,
		VAT:            *vat,
	})
	if err != nil {
		slog.Error("Invalid tariff", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver, "path", *dbPath)
	var db billing.DB
	switch *dbDriver {
	case "bolt":
		db, err = billing.NewBoltDB(*dbPath)
	case "sqlite":
		db, err = billing.NewSQLiteDB(*dbPath)
	default:
		slog.Error("Invalid database driver", "driver", *dbDriver, "valid", "bolt or sqlite")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize OCR backend; plain-text pages never reach it
	var backend ocr.Recognizer
	switch *ocrType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini OCR...", "model", *geminiModel)
		backend, err = ocr.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaModel)
		backend, err = ocr.NewOllama(*ollamaURL, *ollamaModel)
	case "none":
		slog.Info("No OCR backend; only text uploads are accepted")
	default:
		slog.Error("Invalid OCR backend", "type", *ocrType, "valid", "gemini, ollama or none")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize OCR backend", "error", err)
		os.Exit(1)
	}
	recognizer := ocr.Text{}
	if backend != nil {
		recognizer.Next = ocr.NewLimited(backend, *ocrRPS, *ocrBurst)
	}
	defer recognizer.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := billing.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	billingService, err := billing.NewService(db, recognizer, store)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	owner := *defaultUser
	if *authUser != "" {
		owner = *authUser
	}
	if *seedMeasurement != "" {
		if err := seedMeasurements(billingService, owner, *seedMeasurement); err != nil {
			slog.Error("Failed to seed measurements", "error", err)
			os.Exit(1)
		}
	}

	engine := reconcile.NewEngine(db, calculator, reconcile.Config{
		Tolerance: reconcile.Tolerance{
			Consumption: *consumptionTol,
			Money:       *moneyTol,
		},
		Policy:             policy,
		PreferInvoicePrice: preferInvoicePrice,
		Supersede:          *supersede,
	})

	// Initialize server
	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(billingService, engine, basicAuth, *defaultUser)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// seedMeasurements imports a measurement file for owner
func seedMeasurements(service *billing.Service, owner, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	measurements, err := service.ImportMeasurements(owner, data)
	if err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	slog.Info("Seeded measurements", "user_id", owner, "count", len(measurements), "file", path)
	return nil
}
