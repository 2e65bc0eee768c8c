package accounts

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/internal/referrals"
	pkgAuth "github.com/angelmondragon/promptcraft-backend/pkg/auth"
	"github.com/angelmondragon/promptcraft-backend/pkg/auth/session"
	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox/payloads"
)

const signupDescription = "signup credit"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerAppender interface {
	AppendTx(ctx context.Context, tx *gorm.DB, in ledger.AppendInput) (ledger.AppendResult, error)
}

type referralApplier interface {
	ApplyWithRetry(ctx context.Context, code string, referredID uuid.UUID) (referrals.ApplyResult, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type sessionManager interface {
	Generate(ctx context.Context, accessID string, accountID uuid.UUID) (string, error)
	Rotate(ctx context.Context, oldAccessID string, accountID uuid.UUID, provided string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

type ServiceParams struct {
	DB            txRunner
	Conn          *gorm.DB
	Ledger        ledgerAppender
	Referrals     referralApplier
	Sessions      sessionManager
	Outbox        eventEmitter
	JWTConfig     config.JWTConfig
	SignupCredits int64
	Logger        *logger.Logger
}

// Service owns the account lifecycle.
type Service struct {
	tx            txRunner
	repo          *Repository
	ledger        ledgerAppender
	referrals     referralApplier
	sessions      sessionManager
	outbox        eventEmitter
	jwtCfg        config.JWTConfig
	signupCredits int64
	logg          *logger.Logger
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Conn == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database connection required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	case params.Referrals == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "referral service required")
	case params.Sessions == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session manager required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	case params.SignupCredits < 0:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signup credits must not be negative")
	}
	return &Service{
		tx:            params.DB,
		repo:          NewRepository(params.Conn),
		ledger:        params.Ledger,
		referrals:     params.Referrals,
		sessions:      params.Sessions,
		outbox:        params.Outbox,
		jwtCfg:        params.JWTConfig,
		signupCredits: params.SignupCredits,
		logg:          params.Logger,
		now:           time.Now,
	}, nil
}

type SignupInput struct {
	Email        string
	DisplayName  string
	ReferralCode string
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type SignupResult struct {
	Account  *models.Account
	Tokens   Tokens
	Referral *referrals.ApplyResult
}

// Signup creates the account with its starting credit and, when a code was
// supplied, applies the referral once the account is committed.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = strings.Split(email, "@")[0]
	}

	now := s.now().UTC()
	account := &models.Account{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: displayName,
		Role:        enums.AccountRoleUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, account); err != nil {
			return err
		}
		if s.signupCredits == 0 {
			return nil
		}
		res, err := s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
			AccountID:   account.ID,
			Kind:        enums.LedgerEntryKindAdminAdjustment,
			Amount:      s.signupCredits,
			Description: signupDescription,
		})
		if err != nil {
			return err
		}
		account.Balance = res.Balance
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	logCtx := s.logg.WithAccountID(ctx, account.ID.String())
	s.logg.Info(logCtx, "account created")

	result := &SignupResult{Account: account}
	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		applied, err := s.referrals.ApplyWithRetry(ctx, code, account.ID)
		if err != nil {
			s.logg.Error(logCtx, "referral not applied at signup", err)
		} else {
			result.Referral = &applied
			if applied.Applied {
				account.Balance += applied.BonusCredits
			}
		}
	}

	tokens, err := s.issueTokens(ctx, account.ID, account.Role, now)
	if err != nil {
		return nil, err
	}
	result.Tokens = *tokens
	return result, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

// Delete removes the account with its ledger history, referrals and
// characters in one transaction.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).Delete(ctx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		now := s.now().UTC()
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAccountDeleted,
			AggregateType: enums.AggregateAccount,
			AggregateID:   id,
			OccurredAt:    now,
			Data:          payloads.AccountDeleted{AccountID: id, DeletedAt: now},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete account")
	}
	s.logg.Info(s.logg.WithAccountID(ctx, id.String()), "account deleted")
	return nil
}

// Refresh rotates the refresh session bound to the (possibly expired) access token.
func (s *Service) Refresh(ctx context.Context, accessToken, refreshToken string) (*Tokens, error) {
	claims, err := pkgAuth.ParseAccessTokenAllowExpired(s.jwtCfg, strings.TrimSpace(accessToken))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	account, err := s.repo.FindByID(ctx, claims.AccountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account no longer exists")
	}

	newAccessID, newRefresh, err := s.sessions.Rotate(ctx, claims.ID, account.ID, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefreshToken) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid refresh token")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate session")
	}
	token, err := pkgAuth.MintAccessToken(s.jwtCfg, s.now(), pkgAuth.AccessTokenPayload{
		AccountID: account.ID,
		Role:      account.Role,
		JTI:       newAccessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return &Tokens{AccessToken: token, RefreshToken: newRefresh}, nil
}

func (s *Service) Logout(ctx context.Context, accessID string) error {
	if err := s.sessions.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	return nil
}

func (s *Service) issueTokens(ctx context.Context, accountID uuid.UUID, role enums.AccountRole, now time.Time) (*Tokens, error) {
	accessID := session.NewAccessID()
	token, err := pkgAuth.MintAccessToken(s.jwtCfg, now, pkgAuth.AccessTokenPayload{
		AccountID: accountID,
		Role:      role,
		JTI:       accessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	refresh, err := s.sessions.Generate(ctx, accessID, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create session")
	}
	return &Tokens{AccessToken: token, RefreshToken: refresh}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid email").
			WithDetails(map[string]any{"field": "email"})
	}
	return email, nil
}
