package payments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/promptcraft-backend/internal/catalog"
	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
)

type stubCatalog struct {
	pkg *models.CreditPackage
	err error
}

func (s stubCatalog) Resolve(context.Context, catalog.ResolveInput) (*models.CreditPackage, error) {
	return s.pkg, s.err
}

type stubAccounts struct {
	account *models.Account
}

func (s stubAccounts) Get(context.Context, uuid.UUID) (*models.Account, error) {
	if s.account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return s.account, nil
}

type stubGateway struct {
	calls   int
	params  pix.CreatePaymentParams
	payment *pix.Payment
	err     error
}

func (s *stubGateway) CreatePayment(_ context.Context, params pix.CreatePaymentParams) (*pix.Payment, error) {
	s.calls++
	s.params = params
	return s.payment, s.err
}

type fakeLedger struct {
	recorded  map[string]models.LedgerEntry
	failures  int
	rejectErr error
	orphans   []ledger.UnrecordedPaymentInput
}

func (f *fakeLedger) RecordPending(_ context.Context, accountID uuid.UUID, paymentID string, credits int64, description string) (ledger.AppendResult, error) {
	if f.rejectErr != nil {
		return ledger.AppendResult{}, f.rejectErr
	}
	if f.failures > 0 {
		f.failures--
		return ledger.AppendResult{}, pkgerrors.New(pkgerrors.CodeDependency, "db unavailable")
	}
	if f.recorded == nil {
		f.recorded = map[string]models.LedgerEntry{}
	}
	status := enums.PaymentStatusPending
	id := paymentID
	entry := models.LedgerEntry{
		ID:                uuid.New(),
		AccountID:         accountID,
		Kind:              enums.LedgerEntryKindPurchase,
		Amount:            credits,
		Description:       description,
		ExternalPaymentID: &id,
		PaymentStatus:     &status,
	}
	f.recorded[paymentID] = entry
	return ledger.AppendResult{Entry: entry}, nil
}

func (f *fakeLedger) FindByExternalPaymentID(_ context.Context, paymentID string) (*models.LedgerEntry, error) {
	entry, ok := f.recorded[paymentID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (f *fakeLedger) RecordUnrecordedPayment(_ context.Context, in ledger.UnrecordedPaymentInput) (*models.ReconciliationAnomaly, error) {
	f.orphans = append(f.orphans, in)
	accountID := in.AccountID
	return &models.ReconciliationAnomaly{
		ID:                uuid.New(),
		ExternalPaymentID: in.ExternalPaymentID,
		AccountID:         &accountID,
		ObservedStatus:    in.ObservedStatus,
		Reason:            ledger.AnomalyReasonUnrecordedPayment,
	}, nil
}

func testPackage() *models.CreditPackage {
	return &models.CreditPackage{
		ID:       uuid.New(),
		Name:     "Starter",
		Credits:  10,
		Price:    decimal.RequireFromString("9.90"),
		Currency: "BRL",
		Active:   true,
	}
}

func newTestService(t *testing.T, gw *stubGateway, led *fakeLedger, account *models.Account) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Catalog:  stubCatalog{pkg: testPackage()},
		Accounts: stubAccounts{account: account},
		Gateway:  gw,
		Ledger:   led,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateIntentRecordsPendingPurchase(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "ana@example.com"}
	gw := &stubGateway{payment: &pix.Payment{ID: "987", Status: "pending"}}
	gw.payment.PointOfInteraction.TransactionData.QRCode = "00020126pix"
	led := &fakeLedger{}
	svc := newTestService(t, gw, led, account)

	intent, err := svc.CreateIntent(context.Background(), CreateIntentInput{AccountID: account.ID, IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.PaymentID != "987" || intent.Credits != 10 {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending status, got %s", intent.Status)
	}
	if intent.QRImageBase64 == "" {
		t.Fatal("expected rendered qr image")
	}
	if gw.params.ExternalReference != account.ID.String() {
		t.Fatalf("expected account reference, got %q", gw.params.ExternalReference)
	}
	if gw.params.IdempotencyKey != "intent-"+account.ID.String()+"-k1" {
		t.Fatalf("unexpected provider key %q", gw.params.IdempotencyKey)
	}
	if _, ok := led.recorded["987"]; !ok {
		t.Fatal("expected pending purchase recorded")
	}
}

func TestCreateIntentGatewayFailureWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code pkgerrors.Code
	}{
		{"transient", &pix.GatewayError{Op: "create_payment", StatusCode: http.StatusServiceUnavailable, Retryable: true, Err: errors.New("down")}, pkgerrors.CodeDependency},
		{"permanent", &pix.GatewayError{Op: "create_payment", StatusCode: http.StatusBadRequest, Err: errors.New("bad payer")}, pkgerrors.CodeGatewayRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := &models.Account{ID: uuid.New(), Email: "bia@example.com"}
			led := &fakeLedger{}
			svc := newTestService(t, &stubGateway{err: tt.err}, led, account)

			_, err := svc.CreateIntent(context.Background(), CreateIntentInput{AccountID: account.ID})
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			if len(led.recorded) != 0 {
				t.Fatal("expected no ledger writes")
			}
		})
	}
}

func TestCreateIntentRetriesTransientRecordFailure(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "cai@example.com"}
	led := &fakeLedger{failures: 2}
	svc := newTestService(t, &stubGateway{payment: &pix.Payment{ID: "555", Status: "pending"}}, led, account)

	if _, err := svc.CreateIntent(context.Background(), CreateIntentInput{AccountID: account.ID}); err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, ok := led.recorded["555"]; !ok {
		t.Fatal("expected pending purchase after retries")
	}
}

func TestCreateIntentFlagsChargeLedgerNeverStored(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "duda@example.com"}
	led := &fakeLedger{rejectErr: pkgerrors.New(pkgerrors.CodeConflict, "constraint violated")}
	svc := newTestService(t, &stubGateway{payment: &pix.Payment{ID: "777", Status: "pending"}}, led, account)

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{AccountID: account.ID})
	if err == nil {
		t.Fatal("expected error when the purchase cannot be recorded")
	}
	if len(led.recorded) != 0 {
		t.Fatal("expected no pending purchase")
	}
	if len(led.orphans) != 1 {
		t.Fatalf("expected one unrecorded payment anomaly, got %d", len(led.orphans))
	}
	orphan := led.orphans[0]
	if orphan.ExternalPaymentID != "777" || orphan.AccountID != account.ID || orphan.Credits != 10 {
		t.Fatalf("unexpected anomaly input %+v", orphan)
	}
	if orphan.ObservedStatus != string(enums.PaymentStatusPending) {
		t.Fatalf("expected pending observed status, got %q", orphan.ObservedStatus)
	}
}

func TestCreateIntentUnknownAccountSkipsProvider(t *testing.T) {
	gw := &stubGateway{}
	svc := newTestService(t, gw, &fakeLedger{}, nil)

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{AccountID: uuid.New()})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if gw.calls != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestGetIntentStatusScopesToAccount(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Email: "dan@example.com"}
	led := &fakeLedger{}
	svc := newTestService(t, &stubGateway{payment: &pix.Payment{ID: "777", Status: "pending"}}, led, account)
	if _, err := svc.CreateIntent(context.Background(), CreateIntentInput{AccountID: account.ID}); err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	status, err := svc.GetIntentStatus(context.Background(), account.ID, "777")
	if err != nil {
		t.Fatalf("GetIntentStatus: %v", err)
	}
	if status.Status != enums.PaymentStatusPending || status.Credits != 10 {
		t.Fatalf("unexpected status %+v", status)
	}

	_, err = svc.GetIntentStatus(context.Background(), uuid.New(), "777")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for other account, got %v", err)
	}
}
