package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
)

const (
	topicPayment     = "payment"
	defaultRetryBase = 200 * time.Millisecond
)

// Outcome is the result of one reconciliation attempt.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeAnomaly   Outcome = "anomaly"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

var errPurchaseNotVisible = errors.New("purchase not yet visible")

type provider interface {
	GetPayment(ctx context.Context, paymentID string) (*pix.Payment, error)
}

type settler interface {
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.LedgerEntry, error)
	Settle(ctx context.Context, in ledger.SettleInput) (ledger.SettleResult, error)
	RecordAnomaly(ctx context.Context, in ledger.AnomalyInput) (*models.ReconciliationAnomaly, error)
	ListAnomalies(ctx context.Context, unresolvedOnly bool, limit int) ([]models.ReconciliationAnomaly, error)
	ResolveAnomaly(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string) error
}

// ServiceParams wires the reconciler.
type ServiceParams struct {
	Provider provider
	Ledger   settler
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
	Config   config.ReconcilerConfig
}

// Service applies provider payment state to the ledger.
type Service struct {
	provider provider
	ledger   settler
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	cfg      config.ReconcilerConfig
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment provider required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		provider: params.Provider,
		ledger:   params.Ledger,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cfg:      params.Config,
	}, nil
}

// Notification is a provider webhook reduced to what reconciliation needs.
type Notification struct {
	ID        string
	Type      string
	Action    string
	PaymentID string
}

// DedupeKey identifies the notification for redelivery suppression.
func (n Notification) DedupeKey() string {
	if id := strings.TrimSpace(n.ID); id != "" {
		return id
	}
	return fmt.Sprintf("%s:%s:%s", n.Type, n.Action, n.PaymentID)
}

type Result struct {
	Outcome   Outcome             `json:"outcome"`
	PaymentID string              `json:"payment_id"`
	Status    enums.PaymentStatus `json:"status"`
	Balance   int64               `json:"balance,omitempty"`
}

// HandleNotification reconciles payment notifications and ignores other topics.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (Result, error) {
	topic := strings.ToLower(strings.TrimSpace(n.Type))
	if topic == "" && strings.HasPrefix(n.Action, topicPayment+".") {
		topic = topicPayment
	}
	if topic != topicPayment {
		s.logg.Debug(s.logg.WithField(ctx, "topic", n.Type), "non-payment notification ignored")
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if strings.TrimSpace(n.PaymentID) == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id missing from notification")
	}
	return s.Reconcile(ctx, n.PaymentID, enums.ReconcileSourceWebhook)
}

// Reconcile re-reads the payment from the provider and settles the matching
// purchase. The notification body is never trusted for status.
func (s *Service) Reconcile(ctx context.Context, paymentID string, source enums.ReconcileSource) (Result, error) {
	paymentID = strings.TrimSpace(paymentID)
	ctx = s.logg.WithPaymentID(ctx, paymentID)
	result := Result{PaymentID: paymentID}

	payment, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		s.metrics.IncReconcile(string(OutcomeFailed), string(source))
		return result, pix.DomainError(err, "query pix payment")
	}
	status, terminal := pix.NormalizeStatus(payment.Status)
	result.Status = status
	if !terminal {
		s.metrics.IncReconcile(string(OutcomeIgnored), string(source))
		s.logg.Debug(s.logg.WithField(ctx, "provider_status", payment.Status), "payment not terminal yet")
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		entry, err := s.ledger.FindByExternalPaymentID(ctx, paymentID)
		if err != nil {
			return err
		}
		if entry == nil {
			return retry.RetryableError(errPurchaseNotVisible)
		}
		if payment.ExternalReference != entry.AccountID.String() {
			if _, err := s.ledger.RecordAnomaly(ctx, ledger.AnomalyInput{
				ExternalPaymentID: paymentID,
				ObservedStatus:    string(status),
				Source:            source,
				Reason:            ledger.AnomalyReasonReferenceMismatch,
			}); err != nil {
				return err
			}
			result.Outcome = OutcomeAnomaly
			return nil
		}

		settled, err := s.ledger.Settle(ctx, ledger.SettleInput{
			ExternalPaymentID: paymentID,
			Status:            status,
			Source:            source,
		})
		if err != nil {
			if pkgerrors.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result.Balance = settled.Balance
		switch settled.Outcome {
		case ledger.OutcomeApplied:
			result.Outcome = OutcomeApplied
		case ledger.OutcomeDuplicate:
			result.Outcome = OutcomeDuplicate
		case ledger.OutcomeAnomaly:
			result.Outcome = OutcomeAnomaly
		default:
			return retry.RetryableError(errPurchaseNotVisible)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncReconcile(string(OutcomeFailed), string(source))
		if errors.Is(err, errPurchaseNotVisible) {
			s.logg.Warn(ctx, "no purchase recorded for provider payment")
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purchase not recorded yet")
		}
		if pkgerrors.As(err) != nil {
			return result, err
		}
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile payment")
	}

	s.metrics.IncReconcile(string(result.Outcome), string(source))
	if result.Outcome == OutcomeAnomaly {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"provider_status":    payment.Status,
			"external_reference": payment.ExternalReference,
			"source":             source,
		}), "payment reconciliation anomaly")
	}
	return result, nil
}

func (s *Service) backoff() retry.Backoff {
	base := s.cfg.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	b := retry.NewExponential(base)
	if s.cfg.RetryMax > 0 {
		b = retry.WithCappedDuration(s.cfg.RetryMax, b)
	}
	return retry.WithMaxRetries(s.cfg.NotFoundRetries, b)
}

func (s *Service) ListAnomalies(ctx context.Context, unresolvedOnly bool, limit int) ([]models.ReconciliationAnomaly, error) {
	return s.ledger.ListAnomalies(ctx, unresolvedOnly, limit)
}

func (s *Service) ResolveAnomaly(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string) error {
	if err := s.ledger.ResolveAnomaly(ctx, id, actorID, note); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"anomaly_id": id.String(),
		"actor_id":   actorID.String(),
	}), "reconciliation anomaly resolved")
	return nil
}
