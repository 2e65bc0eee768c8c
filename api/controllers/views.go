package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

type accountView struct {
	ID          uuid.UUID         `json:"id"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	Role        enums.AccountRole `json:"role"`
	Balance     int64             `json:"balance"`
	CreatedAt   time.Time         `json:"created_at"`
}

func accountFromModel(a *models.Account) accountView {
	return accountView{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		Balance:     a.Balance,
		CreatedAt:   a.CreatedAt,
	}
}

type packageView struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Credits  int64           `json:"credits"`
	Price    decimal.Decimal `json:"price"`
	Currency enums.Currency  `json:"currency"`
}

func packagesFromModels(rows []models.CreditPackage) []packageView {
	out := make([]packageView, 0, len(rows))
	for _, p := range rows {
		out = append(out, packageView{
			ID:       p.ID,
			Name:     p.Name,
			Credits:  p.Credits,
			Price:    p.Price,
			Currency: p.Currency,
		})
	}
	return out
}

type characterView struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Prompt        string          `json:"prompt"`
	Traits        json.RawMessage `json:"traits,omitempty"`
	LedgerEntryID uuid.UUID       `json:"ledger_entry_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

func characterFromModel(c *models.Character) characterView {
	return characterView{
		ID:            c.ID,
		Name:          c.Name,
		Prompt:        c.Prompt,
		Traits:        c.Traits,
		LedgerEntryID: c.LedgerEntryID,
		CreatedAt:     c.CreatedAt,
	}
}

type referralCodeView struct {
	Code         string `json:"code"`
	BonusCredits int64  `json:"bonus_credits"`
	Uses         int    `json:"uses"`
	MaxUses      *int   `json:"max_uses,omitempty"`
	Active       bool   `json:"active"`
}

type anomalyView struct {
	ID                uuid.UUID             `json:"id"`
	ExternalPaymentID string                `json:"external_payment_id"`
	AccountID         *uuid.UUID            `json:"account_id,omitempty"`
	RecordedStatus    string                `json:"recorded_status"`
	ObservedStatus    string                `json:"observed_status"`
	Source            enums.ReconcileSource `json:"source"`
	Reason            string                `json:"reason"`
	ResolvedAt        *time.Time            `json:"resolved_at,omitempty"`
	ResolvedBy        *uuid.UUID            `json:"resolved_by,omitempty"`
	ResolutionNote    *string               `json:"resolution_note,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

func anomaliesFromModels(rows []models.ReconciliationAnomaly) []anomalyView {
	out := make([]anomalyView, 0, len(rows))
	for _, a := range rows {
		out = append(out, anomalyView{
			ID:                a.ID,
			ExternalPaymentID: a.ExternalPaymentID,
			AccountID:         a.AccountID,
			RecordedStatus:    a.RecordedStatus,
			ObservedStatus:    a.ObservedStatus,
			Source:            a.Source,
			Reason:            a.Reason,
			ResolvedAt:        a.ResolvedAt,
			ResolvedBy:        a.ResolvedBy,
			ResolutionNote:    a.ResolutionNote,
			CreatedAt:         a.CreatedAt,
		})
	}
	return out
}
