package clientsync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/internal/payments"
	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

const (
	defaultMinInterval  = time.Second
	defaultMaxInterval  = 10 * time.Second
	defaultMaxDuration  = 2 * time.Minute
	defaultSnapshotSize = 20
)

type ledgerReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, params ledger.ListParams) (ledger.ListResult, error)
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.LedgerEntry, error)
}

type ServiceParams struct {
	Ledger ledgerReader
	Config config.SyncConfig
	Logger *logger.Logger
}

// Service serves read-only projections of the ledger to clients. Nothing here
// writes, and a status read from it is never proof that a payment succeeded
// until the reconciler has settled it.
type Service struct {
	ledger       ledgerReader
	logg         *logger.Logger
	minInterval  time.Duration
	maxInterval  time.Duration
	maxDuration  time.Duration
	snapshotSize int
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger reader required")
	}
	cfg := params.Config
	svc := &Service{
		ledger:       params.Ledger,
		logg:         params.Logger,
		minInterval:  orDefault(cfg.MinPollInterval, defaultMinInterval),
		maxInterval:  orDefault(cfg.MaxPollInterval, defaultMaxInterval),
		maxDuration:  orDefault(cfg.MaxPollDuration, defaultMaxDuration),
		snapshotSize: cfg.SnapshotEntries,
		now:          time.Now,
	}
	if svc.snapshotSize <= 0 {
		svc.snapshotSize = defaultSnapshotSize
	}
	if svc.maxInterval < svc.minInterval {
		svc.maxInterval = svc.minInterval
	}
	return svc, nil
}

// EntryView is the client projection of a ledger entry.
type EntryView struct {
	ID                uuid.UUID             `json:"id"`
	Kind              enums.LedgerEntryKind `json:"kind"`
	Amount            int64                 `json:"amount"`
	Description       string                `json:"description"`
	ExternalPaymentID *string               `json:"external_payment_id,omitempty"`
	PaymentStatus     *enums.PaymentStatus  `json:"payment_status,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	SettledAt         *time.Time            `json:"settled_at,omitempty"`
}

func EntryFromModel(entry models.LedgerEntry) EntryView {
	return EntryView{
		ID:                entry.ID,
		Kind:              entry.Kind,
		Amount:            entry.Amount,
		Description:       entry.Description,
		ExternalPaymentID: entry.ExternalPaymentID,
		PaymentStatus:     entry.PaymentStatus,
		CreatedAt:         entry.CreatedAt,
		SettledAt:         entry.SettledAt,
	}
}

func EntriesFromModels(entries []models.LedgerEntry) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, EntryFromModel(entry))
	}
	return out
}

type Snapshot struct {
	AccountID       uuid.UUID               `json:"account_id"`
	Balance         int64                   `json:"balance"`
	RecentEntries   []EntryView             `json:"recent_entries"`
	PendingPayments []payments.IntentStatus `json:"pending_payments"`
	AsOf            time.Time               `json:"as_of"`
}

// Snapshot reads the balance, the newest entries and any purchases still
// awaiting settlement.
func (s *Service) Snapshot(ctx context.Context, accountID uuid.UUID) (*Snapshot, error) {
	asOf := s.now().UTC()
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	recent, err := s.ledger.ListEntries(ctx, ledger.ListParams{
		AccountID: accountID,
		Params:    pagination.Params{Limit: s.snapshotSize},
	})
	if err != nil {
		return nil, err
	}
	pending, err := s.ledger.ListEntries(ctx, ledger.ListParams{
		AccountID: accountID,
		Kinds:     []enums.LedgerEntryKind{enums.LedgerEntryKindPurchase},
		Statuses:  []enums.PaymentStatus{enums.PaymentStatusPending},
		Params:    pagination.Params{Limit: s.snapshotSize},
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		AccountID:       accountID,
		Balance:         balance,
		RecentEntries:   EntriesFromModels(recent.Entries),
		PendingPayments: make([]payments.IntentStatus, 0, len(pending.Entries)),
		AsOf:            asOf,
	}
	for _, entry := range pending.Entries {
		snap.PendingPayments = append(snap.PendingPayments, *payments.StatusFromEntry(entry))
	}
	return snap, nil
}

// PaymentStatus reads the recorded status of one of the account's purchases.
func (s *Service) PaymentStatus(ctx context.Context, accountID uuid.UUID, paymentID string) (*payments.IntentStatus, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	entry, err := s.ledger.FindByExternalPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.AccountID != accountID || entry.Kind != enums.LedgerEntryKindPurchase {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payments.StatusFromEntry(*entry), nil
}

type PollResult struct {
	Status   *payments.IntentStatus `json:"status"`
	Terminal bool                   `json:"terminal"`
	TimedOut bool                   `json:"timed_out"`
	Attempts int                    `json:"attempts"`
}

// PollPayment re-reads the payment every interval until it reaches a
// terminal status, the timeout passes or ctx is done. Interval and timeout
// are clamped to the configured bounds.
func (s *Service) PollPayment(ctx context.Context, accountID uuid.UUID, paymentID string, interval, timeout time.Duration) (*PollResult, error) {
	interval = s.ClampInterval(interval)
	timeout = s.ClampDuration(timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	result := &PollResult{}
	for {
		status, err := s.PaymentStatus(ctx, accountID, paymentID)
		result.Attempts++
		if err != nil {
			if ctx.Err() != nil && result.Status != nil {
				result.TimedOut = true
				return result, nil
			}
			return nil, err
		}
		result.Status = status
		if status.Status.IsTerminal() {
			result.Terminal = true
			return result, nil
		}

		select {
		case <-ctx.Done():
			result.TimedOut = true
			return result, nil
		case <-ticker.C:
		}
	}
}

func (s *Service) ClampInterval(d time.Duration) time.Duration {
	switch {
	case d < s.minInterval:
		return s.minInterval
	case d > s.maxInterval:
		return s.maxInterval
	}
	return d
}

func (s *Service) ClampDuration(d time.Duration) time.Duration {
	if d <= 0 || d > s.maxDuration {
		return s.maxDuration
	}
	return d
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
