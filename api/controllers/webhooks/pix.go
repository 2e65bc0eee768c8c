package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
)

const maxNotificationBytes = 64 << 10

type notificationHandler interface {
	HandleNotification(ctx context.Context, n reconciler.Notification) (reconciler.Result, error)
}

type notificationGuard interface {
	CheckAndMark(ctx context.Context, notificationID string) (bool, error)
	Delete(ctx context.Context, notificationID string) error
}

type signatureVerifier interface {
	VerifySignature(xSignature, xRequestID, dataID string) error
}

type pixNotification struct {
	ID     json.RawMessage `json:"id"`
	Type   string          `json:"type"`
	Action string          `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// PixWebhook receives provider payment notifications. The body is only used
// to find the payment; its status is always re-read from the provider.
func PixWebhook(svc notificationHandler, verifier signatureVerifier, guard notificationGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || verifier == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		var body pixNotification
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &body); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification body"))
				return
			}
		}

		query := r.URL.Query()
		dataID := strings.TrimSpace(query.Get("data.id"))
		if dataID == "" {
			dataID = rawID(body.Data.ID)
		}
		n := reconciler.Notification{
			ID:        rawID(body.ID),
			Type:      firstNonEmpty(body.Type, query.Get("type"), query.Get("topic")),
			Action:    body.Action,
			PaymentID: dataID,
		}

		if err := verifier.VerifySignature(r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID); err != nil {
			code := pkgerrors.CodeUnauthorized
			if !errors.Is(err, pix.ErrSignatureMissing) && !errors.Is(err, pix.ErrSignatureInvalid) {
				code = pkgerrors.CodeInternal
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(code, err, "verify signature"))
			return
		}

		if logg != nil && n.PaymentID != "" {
			ctx = logg.WithPaymentID(ctx, n.PaymentID)
		}

		key := n.DedupeKey()
		seen, err := guard.CheckAndMark(ctx, key)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if seen {
			if logg != nil {
				logg.Info(ctx, "webhook.duplicate")
			}
			responses.WriteSuccess(w, map[string]string{"outcome": string(reconciler.OutcomeDuplicate)})
			return
		}

		result, err := svc.HandleNotification(ctx, n)
		if err != nil {
			_ = guard.Delete(ctx, key)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if result.Outcome == reconciler.OutcomeIgnored {
			// still open; a later delivery under the same key must be processed
			_ = guard.Delete(ctx, key)
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", result.Outcome), "webhook.processed")
		}
		responses.WriteSuccess(w, result)
	}
}

// rawID accepts both numeric and string ids.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
