package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
)

type packageLister interface {
	ListActive(ctx context.Context) ([]models.CreditPackage, error)
}

func ListPackages(svc packageLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.ListActive(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, packagesFromModels(rows))
	}
}
