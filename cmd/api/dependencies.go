package main

import (
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/bank"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/handler"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/parser"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/pipeline"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/repository"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/service"
	"github.com/FACorreiaa/statement-ledger/pkg/config"
	"github.com/FACorreiaa/statement-ledger/pkg/cron"
	"github.com/FACorreiaa/statement-ledger/pkg/db"
	"github.com/FACorreiaa/statement-ledger/pkg/metrics"
	"github.com/FACorreiaa/statement-ledger/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Repositories
	StatementRepo repository.Repository
	FileStorage   storage.Storage

	// Pipeline
	Gate   *extract.Gate
	Parser *parser.Parser

	// Services
	StatementService *service.StatementService

	// Handlers
	StatementHandler *handler.StatementHandler

	// Background jobs; nil when no inbox is configured
	Scheduler *cron.Scheduler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	deps.initHandlers()

	// Initialize background jobs
	deps.initScheduler()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	dbCfg := d.Config.Database
	database, err := db.New(db.Config{
		DSN:             dbCfg.DSN(),
		MaxConns:        int32(dbCfg.MaxConns),
		MinConns:        int32(dbCfg.MinConns),
		MaxConnLifetime: dbCfg.MaxConnLifetime,
		MaxConnIdleTime: dbCfg.MaxConnIdleTime,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.StatementRepo = repository.NewPostgresRepository(d.DB.Pool)

	fileStorage, err := storage.NewLocalStorage(d.Config.Storage.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage

	d.Logger.Info("repositories initialized", slog.String("storage_path", d.Config.Storage.LocalPath))
	return nil
}

// initServices initializes the extraction pipeline and the statement service
func (d *Dependencies) initServices() error {
	d.Gate = pipeline.NewGate(d.Config.OCR, nil, d.Logger, extract.WithRecorder(d.Metrics))

	p, err := pipeline.NewParser(d.Config.Statement, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to init parser: %w", err)
	}
	d.Parser = p

	d.StatementService = service.NewStatementService(d.StatementRepo, d.Gate, d.Parser, d.Logger).
		WithStorage(d.FileStorage).
		WithRecorder(d.Metrics).
		WithBankDetector(bank.NewDetector(bank.DominicanBanks())).
		WithExtractionTimeout(d.Config.OCR.Timeout)

	d.Logger.Info("services initialized",
		slog.String("currency_marker", d.Config.Statement.CurrencyMarker),
		slog.String("number_format", d.Config.Statement.NumberFormat),
		slog.String("ocr_languages", d.Config.OCR.Languages),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.StatementHandler = handler.NewStatementHandler(
		d.StatementService,
		d.Config.Statement.CurrencyCode,
		d.Config.Server.MaxUploadBytes,
		d.Logger,
	).WithHealthCheck(d.DB.Health)

	d.Logger.Info("handlers initialized")
}

// initScheduler sets up the inbox sweep when an inbox directory is configured
func (d *Dependencies) initScheduler() {
	inboxCfg := d.Config.Inbox
	if inboxCfg.Dir == "" {
		return
	}

	inbox := cron.NewInbox(inboxCfg.Dir, inboxCfg.BankName, inboxCfg.AccountNumber, d.StatementService, d.Logger)
	d.Scheduler = cron.NewScheduler(inboxCfg.Schedule, inbox, d.Logger)
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
