package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errAccountMissing   = errors.New("account not found")
	errBalanceTooLow    = errors.New("balance would become negative")
	effectiveEntryWhere = "payment_status IS NULL OR payment_status = ?"
)

// Repository manages persistence for accounts balances, ledger entries and
// reconciliation anomalies.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ApplyDelta(ctx context.Context, accountID uuid.UUID, delta int64, at time.Time) (int64, error)
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	EffectiveSum(ctx context.Context, accountID uuid.UUID) (int64, error)
	Insert(ctx context.Context, entry *models.LedgerEntry) error
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.LedgerEntry, error)
	TransitionPending(ctx context.Context, externalPaymentID string, status enums.PaymentStatus, at time.Time) (int64, error)
	HasEntry(ctx context.Context, externalPaymentID string, kind enums.LedgerEntryKind) (bool, error)
	List(ctx context.Context, filter listFilter) ([]models.LedgerEntry, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.LedgerEntry, error)
	ListAccountIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	InsertAnomaly(ctx context.Context, anomaly *models.ReconciliationAnomaly) (bool, error)
	ListAnomalies(ctx context.Context, unresolvedOnly bool, limit int) ([]models.ReconciliationAnomaly, error)
	ResolveAnomaly(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string, at time.Time) (int64, error)
}

type listFilter struct {
	AccountID uuid.UUID
	Kinds     []enums.LedgerEntryKind
	Statuses  []enums.PaymentStatus
	From      *time.Time
	To        *time.Time
	Cursor    *cursorPosition
	Limit     int
}

type cursorPosition struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ApplyDelta moves the cached balance by delta in a single conditional
// statement so concurrent writers on one account serialize on the row and
// the balance can never go negative.
func (r *repository) ApplyDelta(ctx context.Context, accountID uuid.UUID, delta int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND balance + ? >= 0", accountID, delta).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, errAccountMissing
		}
		return 0, errBalanceTooLow
	}
	return r.Balance(ctx, accountID)
}

func (r *repository) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Select("balance").
		Where("id = ?", accountID).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, errAccountMissing
	}
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (r *repository) EffectiveSum(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ?", accountID).
		Where(effectiveEntryWhere, enums.PaymentStatusApproved).
		Scan(&sum).Error
	return sum, err
}

func (r *repository) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("external_payment_id = ?", externalPaymentID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// TransitionPending moves a purchase out of pending. Only the caller that
// observes one affected row owns the transition.
func (r *repository) TransitionPending(ctx context.Context, externalPaymentID string, status enums.PaymentStatus, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("external_payment_id = ? AND kind = ? AND payment_status = ?",
			externalPaymentID, enums.LedgerEntryKindPurchase, enums.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status": status,
			"settled_at":     at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) HasEntry(ctx context.Context, externalPaymentID string, kind enums.LedgerEntryKind) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("external_payment_id = ? AND kind = ?", externalPaymentID, kind).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) List(ctx context.Context, filter listFilter) ([]models.LedgerEntry, error) {
	query := r.db.WithContext(ctx).Where("account_id = ?", filter.AccountID)
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN ?", filter.Kinds)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("payment_status IN ?", filter.Statuses)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}

	var entries []models.LedgerEntry
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(filter.Limit).
		Find(&entries).Error
	return entries, err
}

func (r *repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("kind = ? AND payment_status = ? AND created_at < ?",
			enums.LedgerEntryKindPurchase, enums.PaymentStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *repository) ListAccountIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).Model(&models.Account{})
	if afterID != uuid.Nil {
		query = query.Where("id > ?", afterID)
	}
	err := query.Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// InsertAnomaly stores the anomaly once per payment and observed status and
// reports whether this call created the row.
func (r *repository) InsertAnomaly(ctx context.Context, anomaly *models.ReconciliationAnomaly) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_payment_id"}, {Name: "observed_status"}},
			DoNothing: true,
		}).
		Create(anomaly)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) ListAnomalies(ctx context.Context, unresolvedOnly bool, limit int) ([]models.ReconciliationAnomaly, error) {
	query := r.db.WithContext(ctx).Model(&models.ReconciliationAnomaly{})
	if unresolvedOnly {
		query = query.Where("resolved_at IS NULL")
	}
	var rows []models.ReconciliationAnomaly
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) ResolveAnomaly(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReconciliationAnomaly{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"resolved_at":     at,
			"resolved_by":     actorID,
			"resolution_note": note,
		})
	return res.RowsAffected, res.Error
}
