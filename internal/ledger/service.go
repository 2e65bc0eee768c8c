package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/pkg/db"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

const (
	defaultStaleLimit = 200
	// MaxDescriptionLen bounds entry descriptions, counted in characters.
	MaxDescriptionLen = 280
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	DB     txRunner
	Conn   *gorm.DB
	Outbox outbox.Emitter
	Logger *logger.Logger
	Now    func() time.Time
}

// Service is the only writer of ledger entries and account balances.
type Service struct {
	tx     txRunner
	repo   Repository
	outbox outbox.Emitter
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Conn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database connection required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:     params.DB,
		repo:   NewRepository(params.Conn),
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

// AppendInput describes a single ledger write. Purchases carry the provider
// payment id and start pending unless Status says otherwise.
type AppendInput struct {
	AccountID         uuid.UUID
	Kind              enums.LedgerEntryKind
	Amount            int64
	Description       string
	ExternalPaymentID string
	Status            enums.PaymentStatus
	RelatedEntryID    *uuid.UUID
	Actor             *outbox.ActorRef
}

// AppendResult reports the stored entry and the cached balance after the write.
// Duplicate is set when an equivalent purchase entry already existed.
type AppendResult struct {
	Entry     models.LedgerEntry
	Balance   int64
	Duplicate bool
}

// Append records one entry and moves the balance in its own transaction.
func (s *Service) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	var result AppendResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.AppendTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return AppendResult{}, s.mapWriteError(ctx, in, err)
	}
	return result, nil
}

// AppendTx records one entry inside a caller-owned transaction so other
// domains can compose ledger writes with their own rows.
func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, in AppendInput) (AppendResult, error) {
	if err := validateAppend(&in); err != nil {
		return AppendResult{}, err
	}
	repo := s.repo.WithTx(tx)
	if in.Kind == enums.LedgerEntryKindPurchase {
		return s.appendPurchase(ctx, tx, repo, in)
	}

	now := s.now().UTC()
	balance, err := repo.ApplyDelta(ctx, in.AccountID, in.Amount, now)
	if err != nil {
		return AppendResult{}, balanceError(ctx, repo, err, in.AccountID, in.Amount)
	}
	entry := models.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      in.AccountID,
		Kind:           in.Kind,
		Amount:         in.Amount,
		Description:    in.Description,
		RelatedEntryID: in.RelatedEntryID,
		CreatedAt:      now,
	}
	if err := repo.Insert(ctx, &entry); err != nil {
		return AppendResult{}, err
	}
	if err := s.emitEntry(ctx, tx, entry, balance, in.Actor); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Entry: entry, Balance: balance}, nil
}

func (s *Service) appendPurchase(ctx context.Context, tx *gorm.DB, repo Repository, in AppendInput) (AppendResult, error) {
	existing, err := repo.FindByExternalPaymentID(ctx, in.ExternalPaymentID)
	if err != nil {
		return AppendResult{}, err
	}
	if existing != nil {
		if existing.AccountID != in.AccountID || existing.Kind != enums.LedgerEntryKindPurchase {
			return AppendResult{}, pkgerrors.New(pkgerrors.CodeConflict, "payment id already recorded for another account")
		}
		recorded := statusOf(*existing)
		switch {
		case recorded == in.Status:
			balance, err := repo.Balance(ctx, in.AccountID)
			if err != nil {
				return AppendResult{}, err
			}
			return AppendResult{Entry: *existing, Balance: balance, Duplicate: true}, nil
		case recorded == enums.PaymentStatusPending:
			settled, err := s.SettleTx(ctx, tx, SettleInput{
				ExternalPaymentID: in.ExternalPaymentID,
				Status:            in.Status,
				Source:            enums.ReconcileSourceManual,
			})
			if err != nil {
				return AppendResult{}, err
			}
			return AppendResult{Entry: settled.Entry, Balance: settled.Balance}, nil
		default:
			return AppendResult{}, pkgerrors.New(pkgerrors.CodeStateConflict, "purchase already settled with a different status").
				WithDetails(map[string]any{"recorded_status": recorded, "requested_status": in.Status})
		}
	}

	now := s.now().UTC()
	externalID := in.ExternalPaymentID
	status := in.Status
	entry := models.LedgerEntry{
		ID:                uuid.New(),
		AccountID:         in.AccountID,
		Kind:              enums.LedgerEntryKindPurchase,
		Amount:            in.Amount,
		Description:       in.Description,
		ExternalPaymentID: &externalID,
		PaymentStatus:     &status,
		CreatedAt:         now,
	}
	if status.IsTerminal() {
		settledAt := now
		entry.SettledAt = &settledAt
	}

	var balance int64
	if status == enums.PaymentStatusApproved {
		balance, err = repo.ApplyDelta(ctx, in.AccountID, in.Amount, now)
	} else {
		balance, err = repo.Balance(ctx, in.AccountID)
	}
	if err != nil {
		return AppendResult{}, balanceError(ctx, repo, err, in.AccountID, in.Amount)
	}
	if err := repo.Insert(ctx, &entry); err != nil {
		return AppendResult{}, err
	}
	if err := s.emitEntry(ctx, tx, entry, balance, in.Actor); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Entry: entry, Balance: balance}, nil
}

// RecordPending stores the pending purchase created for a provider charge.
// Repeating the call for the same payment id is a no-op.
func (s *Service) RecordPending(ctx context.Context, accountID uuid.UUID, externalPaymentID string, credits int64, description string) (AppendResult, error) {
	in := AppendInput{
		AccountID:         accountID,
		Kind:              enums.LedgerEntryKindPurchase,
		Amount:            credits,
		Description:       description,
		ExternalPaymentID: externalPaymentID,
		Status:            enums.PaymentStatusPending,
	}
	result, err := s.Append(ctx, in)
	if err == nil {
		return result, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return AppendResult{}, err
	}
	existing, findErr := s.repo.FindByExternalPaymentID(ctx, externalPaymentID)
	if findErr != nil || existing == nil {
		return AppendResult{}, err
	}
	balance, balErr := s.repo.Balance(ctx, accountID)
	if balErr != nil {
		return AppendResult{}, balErr
	}
	return AppendResult{Entry: *existing, Balance: balance, Duplicate: true}, nil
}

// AdjustInput is an operator-issued correction.
type AdjustInput struct {
	AccountID   uuid.UUID
	Amount      int64
	Description string
	ActorID     uuid.UUID
}

func (s *Service) AdminAdjust(ctx context.Context, in AdjustInput) (AppendResult, error) {
	if in.ActorID == uuid.Nil {
		return AppendResult{}, pkgerrors.New(pkgerrors.CodeForbidden, "adjustments require an operator")
	}
	if strings.TrimSpace(in.Description) == "" {
		return AppendResult{}, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}
	result, err := s.Append(ctx, AppendInput{
		AccountID:   in.AccountID,
		Kind:        enums.LedgerEntryKindAdminAdjustment,
		Amount:      in.Amount,
		Description: in.Description,
		Actor:       &outbox.ActorRef{AccountID: in.ActorID, Role: string(enums.AccountRoleAdmin)},
	})
	if err != nil {
		return AppendResult{}, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"account_id": in.AccountID.String(),
			"actor_id":   in.ActorID.String(),
			"amount":     in.Amount,
			"balance":    result.Balance,
		})
		s.logg.Info(logCtx, "ledger admin adjustment recorded")
	}
	return result, nil
}

// Balance returns the cached balance of the account.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	balance, err := s.repo.Balance(ctx, accountID)
	if errors.Is(err, errAccountMissing) {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	return balance, nil
}

// EffectiveSum recomputes the balance from the entries themselves.
func (s *Service) EffectiveSum(ctx context.Context, accountID uuid.UUID) (int64, error) {
	sum, err := s.repo.EffectiveSum(ctx, accountID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}
	return sum, nil
}

// HasEntry reports whether an entry of kind exists for the provider payment id.
func (s *Service) HasEntry(ctx context.Context, externalPaymentID string, kind enums.LedgerEntryKind) (bool, error) {
	if strings.TrimSpace(externalPaymentID) == "" {
		return false, nil
	}
	ok, err := s.repo.HasEntry(ctx, externalPaymentID, kind)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup ledger entry")
	}
	return ok, nil
}

// FindByExternalPaymentID returns nil when no entry references the payment.
func (s *Service) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.LedgerEntry, error) {
	entry, err := s.repo.FindByExternalPaymentID(ctx, externalPaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup ledger entry")
	}
	return entry, nil
}

// ListParams filters the account history. Results are newest first.
type ListParams struct {
	AccountID uuid.UUID
	Kinds     []enums.LedgerEntryKind
	Statuses  []enums.PaymentStatus
	From      *time.Time
	To        *time.Time
	pagination.Params
}

type ListResult struct {
	Entries    []models.LedgerEntry
	NextCursor string
}

func (s *Service) ListEntries(ctx context.Context, params ListParams) (ListResult, error) {
	if params.AccountID == uuid.Nil {
		return ListResult{}, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	for _, kind := range params.Kinds {
		if !kind.IsValid() {
			return ListResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid kind %q", kind))
		}
	}
	for _, status := range params.Statuses {
		if !status.IsValid() {
			return ListResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment status %q", status))
		}
	}
	if params.From != nil && params.To != nil && !params.From.Before(*params.To) {
		return ListResult{}, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return ListResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	filter := listFilter{
		AccountID: params.AccountID,
		Kinds:     params.Kinds,
		Statuses:  params.Statuses,
		From:      params.From,
		To:        params.To,
		Limit:     pagination.LimitWithBuffer(params.Limit),
	}
	if cursor != nil {
		filter.Cursor = &cursorPosition{CreatedAt: cursor.CreatedAt, ID: cursor.ID}
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}

	entries, next := pagination.Trim(rows, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return ListResult{Entries: entries, NextCursor: next}, nil
}

// ListStalePending returns purchases still pending after olderThan.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultStaleLimit
	}
	rows, err := s.repo.ListStalePending(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending purchases")
	}
	return rows, nil
}

// ListAccountIDs pages through every account id in ascending order.
func (s *Service) ListAccountIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListAccountIDs(ctx, afterID, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list accounts")
	}
	return ids, nil
}

func validateAppend(in *AppendInput) error {
	if in.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !in.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger entry kind")
	}
	if !in.Kind.AllowsAmount(in.Amount) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("amount %d not allowed for %s", in.Amount, in.Kind))
	}
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		in.Description = string(in.Kind)
	}
	in.Description = truncateRunes(in.Description, MaxDescriptionLen)
	in.ExternalPaymentID = strings.TrimSpace(in.ExternalPaymentID)
	if in.Kind == enums.LedgerEntryKindPurchase {
		if in.ExternalPaymentID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "purchase requires an external payment id")
		}
		if in.Status == "" {
			in.Status = enums.PaymentStatusPending
		}
		if !in.Status.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status")
		}
		return nil
	}
	if in.ExternalPaymentID != "" || in.Status != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "only purchases carry payment references")
	}
	return nil
}

func balanceError(ctx context.Context, repo Repository, err error, accountID uuid.UUID, delta int64) error {
	switch {
	case errors.Is(err, errAccountMissing):
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	case errors.Is(err, errBalanceTooLow):
		details := map[string]any{"required": -delta}
		if balance, balErr := repo.Balance(ctx, accountID); balErr == nil {
			details["balance"] = balance
		}
		return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").WithDetails(details)
	default:
		return err
	}
}

func (s *Service) mapWriteError(ctx context.Context, in AppendInput, err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if db.IsUniqueViolation(err, "") {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithAccountID(ctx, in.AccountID.String())
		s.logg.Error(logCtx, "ledger append failed", err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
}

func (s *Service) emitEntry(ctx context.Context, tx *gorm.DB, entry models.LedgerEntry, balance int64, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLedgerEntryRecorded,
		AggregateType: enums.AggregateAccount,
		AggregateID:   entry.AccountID,
		Actor:         actor,
		OccurredAt:    entry.CreatedAt,
		Data: payloads.LedgerEntryRecorded{
			EntryID:           entry.ID,
			AccountID:         entry.AccountID,
			Kind:              entry.Kind,
			Amount:            entry.Amount,
			Balance:           balance,
			Description:       entry.Description,
			ExternalPaymentID: entry.ExternalPaymentID,
			PaymentStatus:     entry.PaymentStatus,
			CreatedAt:         entry.CreatedAt,
		},
	})
}

func statusOf(entry models.LedgerEntry) enums.PaymentStatus {
	if entry.PaymentStatus == nil {
		return ""
	}
	return *entry.PaymentStatus
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
