package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/promptcraft-backend/internal/catalog"
	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
)

const (
	qrImageSize        = 320
	recordRetries      = 3
	recordRetryBackoff = 100 * time.Millisecond
)

type packageResolver interface {
	Resolve(ctx context.Context, in catalog.ResolveInput) (*models.CreditPackage, error)
}

type accountReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type gateway interface {
	CreatePayment(ctx context.Context, params pix.CreatePaymentParams) (*pix.Payment, error)
}

type pendingRecorder interface {
	RecordPending(ctx context.Context, accountID uuid.UUID, externalPaymentID string, credits int64, description string) (ledger.AppendResult, error)
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.LedgerEntry, error)
	RecordUnrecordedPayment(ctx context.Context, in ledger.UnrecordedPaymentInput) (*models.ReconciliationAnomaly, error)
}

// ServiceParams wires the payment intent service.
type ServiceParams struct {
	Catalog  packageResolver
	Accounts accountReader
	Gateway  gateway
	Ledger   pendingRecorder
	Logger   *logger.Logger
}

// Service creates PIX charges and records them as pending purchases.
type Service struct {
	catalog  packageResolver
	accounts accountReader
	gateway  gateway
	ledger   pendingRecorder
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Catalog == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog required")
	case params.Accounts == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account reader required")
	case params.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		catalog:  params.Catalog,
		accounts: params.Accounts,
		gateway:  params.Gateway,
		ledger:   params.Ledger,
		logg:     params.Logger,
	}, nil
}

type CreateIntentInput struct {
	AccountID      uuid.UUID
	PackageID      *uuid.UUID
	Amount         *decimal.Decimal
	Credits        int64
	IdempotencyKey string
}

// PixIntent is what the client needs to present the charge.
type PixIntent struct {
	PaymentID     string              `json:"payment_id"`
	QRPayload     string              `json:"qr_payload"`
	QRImageBase64 string              `json:"qr_image_base64"`
	TicketURL     string              `json:"ticket_url,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      enums.Currency      `json:"currency"`
	Credits       int64               `json:"credits"`
	PackageID     uuid.UUID           `json:"package_id"`
	Status        enums.PaymentStatus `json:"status"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
}

// CreateIntent charges the provider first and writes the pending purchase
// only after the provider accepted it. A failed provider call leaves no
// ledger state behind.
func (s *Service) CreateIntent(ctx context.Context, in CreateIntentInput) (*PixIntent, error) {
	if in.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	pkg, err := s.catalog.Resolve(ctx, catalog.ResolveInput{
		PackageID: in.PackageID,
		Amount:    in.Amount,
		Credits:   in.Credits,
	})
	if err != nil {
		return nil, err
	}
	if pkg.Currency != "" && !pkg.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("package priced in unsupported currency %q", pkg.Currency))
	}
	account, err := s.accounts.Get(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("%s (%d credits)", pkg.Name, pkg.Credits)
	payment, err := s.gateway.CreatePayment(ctx, pix.CreatePaymentParams{
		IdempotencyKey:    providerKey(in.AccountID, in.IdempotencyKey),
		Amount:            pkg.Price,
		Description:       description,
		PayerEmail:        account.Email,
		ExternalReference: in.AccountID.String(),
	})
	if err != nil {
		return nil, pix.DomainError(err, "create pix payment")
	}
	paymentID := payment.PaymentID()
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider returned no payment id")
	}

	logCtx := s.logg.WithPaymentID(s.logg.WithAccountID(ctx, in.AccountID.String()), paymentID)
	if err := s.recordPending(ctx, in.AccountID, paymentID, pkg.Credits, description); err != nil {
		s.logg.Error(logCtx, "pending purchase not recorded after provider accepted charge", err)
		status, _ := pix.NormalizeStatus(payment.Status)
		_, anomalyErr := s.ledger.RecordUnrecordedPayment(context.WithoutCancel(ctx), ledger.UnrecordedPaymentInput{
			AccountID:         in.AccountID,
			ExternalPaymentID: paymentID,
			ObservedStatus:    string(status),
			Credits:           pkg.Credits,
		})
		if anomalyErr != nil {
			s.logg.Error(logCtx, "unrecorded payment anomaly not stored", anomalyErr)
		}
		return nil, err
	}

	status, _ := pix.NormalizeStatus(payment.Status)
	intent := &PixIntent{
		PaymentID:     paymentID,
		QRPayload:     payment.QRPayload(),
		QRImageBase64: payment.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:     payment.TicketURL(),
		Amount:        pkg.Price,
		Currency:      pkg.Currency,
		Credits:       pkg.Credits,
		PackageID:     pkg.ID,
		Status:        status,
	}
	if expires := payment.ExpiresAt(); !expires.IsZero() {
		intent.ExpiresAt = &expires
	}
	if intent.QRImageBase64 == "" && intent.QRPayload != "" {
		img, err := pix.RenderQR(intent.QRPayload, qrImageSize)
		if err != nil {
			s.logg.Warn(logCtx, "render pix qr code failed")
		} else {
			intent.QRImageBase64 = img
		}
	}

	s.logg.Info(logCtx, "pix intent created")
	return intent, nil
}

func (s *Service) recordPending(ctx context.Context, accountID uuid.UUID, paymentID string, credits int64, description string) error {
	backoff := retry.WithMaxRetries(recordRetries, retry.NewExponential(recordRetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.ledger.RecordPending(ctx, accountID, paymentID, credits, description)
		if err != nil && pkgerrors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// IntentStatus is the local view of a purchase.
type IntentStatus struct {
	PaymentID string              `json:"payment_id"`
	Status    enums.PaymentStatus `json:"status"`
	Credits   int64               `json:"credits"`
	CreatedAt time.Time           `json:"created_at"`
	SettledAt *time.Time          `json:"settled_at,omitempty"`
}

// GetIntentStatus reads the recorded purchase without calling the provider.
func (s *Service) GetIntentStatus(ctx context.Context, accountID uuid.UUID, paymentID string) (*IntentStatus, error) {
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
	return StatusFromEntry(*entry), nil
}

// StatusFromEntry projects a purchase entry into its client view.
func StatusFromEntry(entry models.LedgerEntry) *IntentStatus {
	status := enums.PaymentStatusPending
	if entry.PaymentStatus != nil {
		status = *entry.PaymentStatus
	}
	paymentID := ""
	if entry.ExternalPaymentID != nil {
		paymentID = *entry.ExternalPaymentID
	}
	return &IntentStatus{
		PaymentID: paymentID,
		Status:    status,
		Credits:   entry.Amount,
		CreatedAt: entry.CreatedAt,
		SettledAt: entry.SettledAt,
	}
}

func providerKey(accountID uuid.UUID, clientKey string) string {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return ""
	}
	return fmt.Sprintf("intent-%s-%s", accountID, clientKey)
}
