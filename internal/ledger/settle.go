package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

// SettleOutcome classifies what a settlement attempt did.
type SettleOutcome string

const (
	OutcomeApplied   SettleOutcome = "applied"
	OutcomeDuplicate SettleOutcome = "duplicate"
	OutcomeAnomaly   SettleOutcome = "anomaly"
	OutcomeNotFound  SettleOutcome = "not_found"
)

const (
	AnomalyReasonStatusConflict    = "status_conflict"
	AnomalyReasonReferenceMismatch = "reference_mismatch"
	// AnomalyReasonUnrecordedPayment flags a provider charge with no purchase entry.
	AnomalyReasonUnrecordedPayment = "unrecorded_payment"

	recordedStatusMissing = "missing"
)

type SettleInput struct {
	ExternalPaymentID string
	Status            enums.PaymentStatus
	Source            enums.ReconcileSource
}

type SettleResult struct {
	Outcome SettleOutcome
	Entry   models.LedgerEntry
	Balance int64
	Anomaly *models.ReconciliationAnomaly
}

// Settle moves a pending purchase to its terminal status exactly once.
// Approval credits the account in the same transaction. A repeat with the
// recorded status is a duplicate; a contradicting status is stored as an
// anomaly and never touches the balance.
func (s *Service) Settle(ctx context.Context, in SettleInput) (SettleResult, error) {
	var result SettleResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.SettleTx(ctx, tx, in)
		return err
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return SettleResult{}, err
		}
		return SettleResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle purchase")
	}
	s.logSettle(ctx, in, result)
	return result, nil
}

func (s *Service) SettleTx(ctx context.Context, tx *gorm.DB, in SettleInput) (SettleResult, error) {
	in.ExternalPaymentID = strings.TrimSpace(in.ExternalPaymentID)
	if in.ExternalPaymentID == "" {
		return SettleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "external payment id is required")
	}
	if !in.Status.IsTerminal() {
		return SettleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "settlement requires a terminal status")
	}
	if !in.Source.IsValid() {
		return SettleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid reconcile source")
	}

	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	affected, err := repo.TransitionPending(ctx, in.ExternalPaymentID, in.Status, now)
	if err != nil {
		return SettleResult{}, err
	}

	entry, err := repo.FindByExternalPaymentID(ctx, in.ExternalPaymentID)
	if err != nil {
		return SettleResult{}, err
	}
	if entry == nil {
		return SettleResult{Outcome: OutcomeNotFound}, nil
	}

	if affected == 0 {
		balance, err := repo.Balance(ctx, entry.AccountID)
		if err != nil {
			return SettleResult{}, err
		}
		if statusOf(*entry) == in.Status {
			return SettleResult{Outcome: OutcomeDuplicate, Entry: *entry, Balance: balance}, nil
		}
		anomaly, err := s.recordAnomalyTx(ctx, tx, *entry, string(in.Status), in.Source, AnomalyReasonStatusConflict)
		if err != nil {
			return SettleResult{}, err
		}
		return SettleResult{Outcome: OutcomeAnomaly, Entry: *entry, Balance: balance, Anomaly: anomaly}, nil
	}

	var balance int64
	if in.Status == enums.PaymentStatusApproved {
		balance, err = repo.ApplyDelta(ctx, entry.AccountID, entry.Amount, now)
	} else {
		balance, err = repo.Balance(ctx, entry.AccountID)
	}
	if err != nil {
		return SettleResult{}, balanceError(ctx, repo, err, entry.AccountID, entry.Amount)
	}

	if err := s.emitEntry(ctx, tx, *entry, balance, nil); err != nil {
		return SettleResult{}, err
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregateAccount,
		AggregateID:   entry.AccountID,
		OccurredAt:    now,
		Data: payloads.PaymentSettled{
			EntryID:           entry.ID,
			AccountID:         entry.AccountID,
			ExternalPaymentID: in.ExternalPaymentID,
			Status:            in.Status,
			Credits:           entry.Amount,
			Balance:           balance,
			Source:            in.Source,
			SettledAt:         now,
		},
	})
	if err != nil {
		return SettleResult{}, err
	}
	return SettleResult{Outcome: OutcomeApplied, Entry: *entry, Balance: balance}, nil
}

// AnomalyInput records a disagreement found outside of a status transition,
// such as a provider payment that references a different account.
type AnomalyInput struct {
	ExternalPaymentID string
	ObservedStatus    string
	Source            enums.ReconcileSource
	Reason            string
}

// RecordAnomaly persists the anomaly against the stored purchase. It returns
// nil when no purchase references the payment id.
func (s *Service) RecordAnomaly(ctx context.Context, in AnomalyInput) (*models.ReconciliationAnomaly, error) {
	var anomaly *models.ReconciliationAnomaly
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := s.repo.WithTx(tx).FindByExternalPaymentID(ctx, in.ExternalPaymentID)
		if err != nil || entry == nil {
			return err
		}
		anomaly, err = s.recordAnomalyTx(ctx, tx, *entry, in.ObservedStatus, in.Source, in.Reason)
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reconciliation anomaly")
	}
	if anomaly != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id":      in.ExternalPaymentID,
			"observed_status": in.ObservedStatus,
			"reason":          in.Reason,
		})
		s.logg.Warn(logCtx, "reconciliation anomaly recorded")
	}
	return anomaly, nil
}

// UnrecordedPaymentInput describes a charge the provider accepted but the
// ledger never stored.
type UnrecordedPaymentInput struct {
	AccountID         uuid.UUID
	ExternalPaymentID string
	ObservedStatus    string
	Credits           int64
}

// RecordUnrecordedPayment keeps an orphaned provider charge visible for
// manual review. It is deduplicated like any other anomaly.
func (s *Service) RecordUnrecordedPayment(ctx context.Context, in UnrecordedPaymentInput) (*models.ReconciliationAnomaly, error) {
	paymentID := strings.TrimSpace(in.ExternalPaymentID)
	if in.AccountID == uuid.Nil || paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id and payment id are required")
	}
	observed := strings.TrimSpace(in.ObservedStatus)
	if observed == "" {
		observed = string(enums.PaymentStatusPending)
	}
	accountID := in.AccountID
	anomaly := &models.ReconciliationAnomaly{
		ID:                uuid.New(),
		ExternalPaymentID: paymentID,
		AccountID:         &accountID,
		RecordedStatus:    recordedStatusMissing,
		ObservedStatus:    observed,
		Source:            enums.ReconcileSourceIntent,
		Reason:            AnomalyReasonUnrecordedPayment,
		CreatedAt:         s.now().UTC(),
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.insertAnomalyTx(ctx, tx, anomaly)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record unrecorded payment")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id": paymentID,
			"account_id": accountID.String(),
			"credits":    in.Credits,
			"reason":     AnomalyReasonUnrecordedPayment,
		})
		s.logg.Warn(logCtx, "reconciliation anomaly recorded")
	}
	return anomaly, nil
}

func (s *Service) recordAnomalyTx(ctx context.Context, tx *gorm.DB, entry models.LedgerEntry, observed string, source enums.ReconcileSource, reason string) (*models.ReconciliationAnomaly, error) {
	accountID := entry.AccountID
	anomaly := &models.ReconciliationAnomaly{
		ID:                uuid.New(),
		ExternalPaymentID: *entry.ExternalPaymentID,
		AccountID:         &accountID,
		RecordedStatus:    string(statusOf(entry)),
		ObservedStatus:    observed,
		Source:            source,
		Reason:            reason,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.insertAnomalyTx(ctx, tx, anomaly); err != nil {
		return nil, err
	}
	return anomaly, nil
}

// insertAnomalyTx stores the anomaly and emits it once; a duplicate on
// (payment, observed status) is a no-op.
func (s *Service) insertAnomalyTx(ctx context.Context, tx *gorm.DB, anomaly *models.ReconciliationAnomaly) error {
	accountID := *anomaly.AccountID
	inserted, err := s.repo.WithTx(tx).InsertAnomaly(ctx, anomaly)
	if err != nil || !inserted {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReconciliationAnomaly,
		AggregateType: enums.AggregateAccount,
		AggregateID:   accountID,
		OccurredAt:    anomaly.CreatedAt,
		Data: payloads.ReconciliationAnomaly{
			AnomalyID:         anomaly.ID,
			AccountID:         accountID,
			ExternalPaymentID: anomaly.ExternalPaymentID,
			RecordedStatus:    anomaly.RecordedStatus,
			ObservedStatus:    anomaly.ObservedStatus,
			Source:            anomaly.Source,
			Reason:            anomaly.Reason,
		},
	})
}

func (s *Service) ListAnomalies(ctx context.Context, unresolvedOnly bool, limit int) ([]models.ReconciliationAnomaly, error) {
	rows, err := s.repo.ListAnomalies(ctx, unresolvedOnly, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list anomalies")
	}
	return rows, nil
}

// ResolveAnomaly marks an anomaly reviewed. Balances are corrected separately
// through AdminAdjust.
func (s *Service) ResolveAnomaly(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "resolution note is required")
	}
	affected, err := s.repo.ResolveAnomaly(ctx, id, actorID, note, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve anomaly")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "open anomaly not found")
	}
	return nil
}

func (s *Service) logSettle(ctx context.Context, in SettleInput, result SettleResult) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id": in.ExternalPaymentID,
		"status":     in.Status,
		"source":     in.Source,
		"outcome":    result.Outcome,
	})
	switch result.Outcome {
	case OutcomeApplied:
		s.logg.Info(logCtx, "purchase settled")
	case OutcomeAnomaly:
		s.logg.Warn(logCtx, "settlement contradicts recorded status")
	default:
		s.logg.Debug(logCtx, "settlement skipped")
	}
}
