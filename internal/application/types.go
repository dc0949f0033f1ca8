package application

import (
	"log/slog"
	"time"

	"github.com/gearmarket/escrow-service/internal/ports"
)

type Config struct {
	ServiceName          string
	DefaultCurrency      string
	PlatformFeeBps       int64
	MinInstallmentAmount int64
	MaxAttempts          int
	RetryBackoffBase     time.Duration
	RetryBackoffCap      time.Duration
	StuckAfter           time.Duration
	TransferTimeout      time.Duration
	DedupTTL             time.Duration
	ClaimBatchSize       int
	OutboxFlushBatchSize int
}

type Actor struct {
	SubjectID string
	Role      string
	RequestID string
}

type PaymentCapturedInput struct {
	EventID   string
	BookingID string
	Amount    int64
	Timestamp time.Time
}

type ResolveReleaseInput struct {
	ReleaseID          string
	ExternalTransferID string
	Note               string
}

// ProcessStats summarizes one processor pass.
type ProcessStats struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
}

type ReconcileStats struct {
	Reclaimed int
	Completed int
	Reset     int
}

type Service struct {
	cfg Config

	bookings   ports.BookingRepository
	ledger     ports.EscrowLedger
	dedupCache ports.DedupCache
	outbox     ports.OutboxRepository

	transfers ports.TransferClient
	directory ports.DirectoryReader

	domainEvents ports.DomainPublisher
	analytics    ports.AnalyticsPublisher
	dlq          ports.DLQPublisher

	logger *slog.Logger
	nowFn  func() time.Time
}

type Dependencies struct {
	Config       Config
	Bookings     ports.BookingRepository
	Ledger       ports.EscrowLedger
	DedupCache   ports.DedupCache
	Outbox       ports.OutboxRepository
	Transfers    ports.TransferClient
	Directory    ports.DirectoryReader
	DomainEvents ports.DomainPublisher
	Analytics    ports.AnalyticsPublisher
	DLQ          ports.DLQPublisher
	Logger       *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "escrow-release-engine"
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.PlatformFeeBps <= 0 {
		cfg.PlatformFeeBps = 500
	}
	if cfg.MinInstallmentAmount <= 0 {
		cfg.MinInstallmentAmount = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 5 * time.Minute
	}
	if cfg.RetryBackoffCap <= 0 {
		cfg.RetryBackoffCap = 6 * time.Hour
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 45 * 24 * time.Hour
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = 50
	}
	if cfg.OutboxFlushBatchSize <= 0 {
		cfg.OutboxFlushBatchSize = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:          cfg,
		bookings:     deps.Bookings,
		ledger:       deps.Ledger,
		dedupCache:   deps.DedupCache,
		outbox:       deps.Outbox,
		transfers:    deps.Transfers,
		directory:    deps.Directory,
		domainEvents: deps.DomainEvents,
		analytics:    deps.Analytics,
		dlq:          deps.DLQ,
		logger:       logger,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}
