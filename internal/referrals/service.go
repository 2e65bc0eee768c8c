package referrals

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/pkg/db"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox/payloads"
)

const (
	codeLength       = 8
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts  = 5
	defaultRetries   = 4
	defaultRetryBase = 100 * time.Millisecond
)

// Reason explains why a referral was not applied.
type Reason string

const (
	ReasonUnknownCode  Reason = "unknown_code"
	ReasonInactiveCode Reason = "inactive_code"
	ReasonSelfReferral Reason = "self_referral"
	ReasonAlreadyUsed  Reason = "already_used"
	ReasonExhausted    Reason = "exhausted"
)

var (
	errAlreadyUsed = errors.New("referral already used")
	errExhausted   = errors.New("referral code exhausted")
)

type ApplyResult struct {
	Applied      bool      `json:"applied"`
	Reason       Reason    `json:"reason,omitempty"`
	Code         string    `json:"code"`
	ReferrerID   uuid.UUID `json:"referrer_account_id,omitempty"`
	BonusCredits int64     `json:"bonus_credits,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerAppender interface {
	AppendTx(ctx context.Context, tx *gorm.DB, in ledger.AppendInput) (ledger.AppendResult, error)
}

type ServiceParams struct {
	DB           txRunner
	Conn         *gorm.DB
	Ledger       ledgerAppender
	Outbox       outbox.Emitter
	Metrics      *metrics.LedgerMetrics
	Logger       *logger.Logger
	BonusCredits int64
	MaxUses      int
	Retries      uint64
	RetryBase    time.Duration
}

// Service applies referral codes and grants the paired bonuses.
type Service struct {
	tx        txRunner
	repo      *Repository
	ledger    ledgerAppender
	outbox    outbox.Emitter
	metrics   *metrics.LedgerMetrics
	logg      *logger.Logger
	bonus     int64
	maxUses   int
	retries   uint64
	retryBase time.Duration
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Conn == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database connection required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.BonusCredits <= 0:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "referral bonus must be positive")
	}
	retries := params.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	retryBase := params.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	return &Service{
		tx:        params.DB,
		repo:      NewRepository(params.Conn),
		ledger:    params.Ledger,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		bonus:     params.BonusCredits,
		maxUses:   params.MaxUses,
		retries:   retries,
		retryBase: retryBase,
		now:       time.Now,
	}, nil
}

// NormalizeCode canonicalizes user supplied codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Apply credits the referrer and the referred account once. Rejections are
// reported through ApplyResult.Reason with a nil error; a referred account
// that is not visible yet yields a retryable dependency error.
func (s *Service) Apply(ctx context.Context, code string, referredID uuid.UUID) (ApplyResult, error) {
	code = NormalizeCode(code)
	result := ApplyResult{Code: code}
	if code == "" {
		return s.reject(ctx, result, ReasonUnknownCode), nil
	}
	if referredID == uuid.Nil {
		return ApplyResult{}, pkgerrors.New(pkgerrors.CodeValidation, "referred account is required")
	}

	var rejected Reason
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.LockByCode(ctx, code)
		if err != nil {
			return err
		}
		if row == nil {
			rejected = ReasonUnknownCode
			return nil
		}
		if !row.Active {
			rejected = ReasonInactiveCode
			return nil
		}
		exists, err := repo.AccountExists(ctx, referredID)
		if err != nil {
			return err
		}
		if !exists {
			return pkgerrors.New(pkgerrors.CodeDependency, "referred account not visible yet")
		}
		if row.OwnerAccountID == referredID {
			rejected = ReasonSelfReferral
			return nil
		}
		used, err := repo.HasUse(ctx, referredID)
		if err != nil {
			return err
		}
		if used {
			rejected = ReasonAlreadyUsed
			return nil
		}

		now := s.now().UTC()
		use := &models.ReferralUse{ID: uuid.New(), ReferralCodeID: row.ID, ReferredAccountID: referredID, CreatedAt: now}
		if err := repo.InsertUse(ctx, use); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errAlreadyUsed
			}
			return err
		}
		affected, err := repo.IncrementUses(ctx, row.ID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return errExhausted
		}

		related := use.ID
		for _, accountID := range []uuid.UUID{row.OwnerAccountID, referredID} {
			if _, err := s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
				AccountID:      accountID,
				Kind:           enums.LedgerEntryKindReferralBonus,
				Amount:         row.BonusCredits,
				Description:    "referral bonus " + code,
				RelatedEntryID: &related,
			}); err != nil {
				return err
			}
		}

		result.ReferrerID = row.OwnerAccountID
		result.BonusCredits = row.BonusCredits
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReferralApplied,
			AggregateType: enums.AggregateAccount,
			AggregateID:   referredID,
			OccurredAt:    now,
			Data: payloads.ReferralApplied{
				ReferralCodeID:    row.ID,
				Code:              code,
				ReferrerAccountID: row.OwnerAccountID,
				ReferredAccountID: referredID,
				BonusCredits:      row.BonusCredits,
			},
		})
	})
	switch {
	case errors.Is(err, errAlreadyUsed):
		return s.reject(ctx, result, ReasonAlreadyUsed), nil
	case errors.Is(err, errExhausted):
		return s.reject(ctx, result, ReasonExhausted), nil
	case err != nil:
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply referral")
		}
		s.metrics.IncReferral("error")
		return ApplyResult{}, err
	case rejected != "":
		return s.reject(ctx, result, rejected), nil
	}

	result.Applied = true
	s.metrics.IncReferral("applied")
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"referral_code": code,
			"referrer_id":   result.ReferrerID.String(),
			"referred_id":   referredID.String(),
		}), "referral applied")
	}
	return result, nil
}

// ApplyWithRetry retries Apply while the failure is retryable, covering the
// window where the referred account is not visible to this reader yet.
func (s *Service) ApplyWithRetry(ctx context.Context, code string, referredID uuid.UUID) (ApplyResult, error) {
	var result ApplyResult
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		result, err = s.Apply(ctx, code, referredID)
		if err != nil && pkgerrors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return result, err
}

// EnsureCode returns the owner's referral code, creating one on first use.
func (s *Service) EnsureCode(ctx context.Context, ownerID uuid.UUID) (*models.ReferralCode, error) {
	existing, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral code")
	}
	if existing != nil {
		return existing, nil
	}
	exists, err := s.repo.AccountExists(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate referral code")
		}
		row := &models.ReferralCode{
			ID:             uuid.New(),
			Code:           code,
			OwnerAccountID: ownerID,
			BonusCredits:   s.bonus,
			Active:         true,
			CreatedAt:      s.now().UTC(),
		}
		if s.maxUses > 0 {
			maxUses := s.maxUses
			row.MaxUses = &maxUses
		}
		err = s.repo.CreateCode(ctx, row)
		if err == nil {
			return row, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create referral code")
		}
		// lost a race with a concurrent EnsureCode for the same owner
		if existing, findErr := s.repo.FindByOwner(ctx, ownerID); findErr == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique referral code")
}

// GetCode looks up a code; NOT_FOUND when unknown.
func (s *Service) GetCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	row, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral code")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "referral code not found")
	}
	return row, nil
}

func (s *Service) reject(ctx context.Context, result ApplyResult, reason Reason) ApplyResult {
	result.Applied = false
	result.Reason = reason
	s.metrics.IncReferral(string(reason))
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"referral_code": result.Code,
			"reason":        reason,
		}), "referral not applied")
	}
	return result
}

// RejectionError converts a rejected result into an API error.
func RejectionError(result ApplyResult) error {
	if result.Applied {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidReferral, "referral code cannot be applied").
		WithDetails(map[string]any{"reason": result.Reason})
}

func generateCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
