package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/internal/clientsync"
	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

type ledgerReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, params ledger.ListParams) (ledger.ListResult, error)
}

func LedgerBalance(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"account_id": accountID,
			"balance":    balance,
		})
	}
}

// LedgerTransactions lists the caller's entries newest first. Filters:
// kind and status (comma separated), from/to (RFC3339), limit and cursor.
func LedgerTransactions(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := ledger.ListParams{
			AccountID: accountID,
			From:      from,
			To:        to,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: r.URL.Query().Get("cursor"),
			},
		}
		for _, kind := range validators.ParseQueryList(r, "kind") {
			params.Kinds = append(params.Kinds, enums.LedgerEntryKind(kind))
		}
		for _, status := range validators.ParseQueryList(r, "status") {
			params.Statuses = append(params.Statuses, enums.PaymentStatus(status))
		}

		result, err := svc.ListEntries(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteList(w, clientsync.EntriesFromModels(result.Entries), result.NextCursor, limit)
	}
}
