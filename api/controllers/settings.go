package controllers

import (
	"context"
	"net/http"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/responses"
	"github.com/dhirensoni-certistage/certistage-app-sub001/api/validators"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// SettingsStore is the operator-managed configuration surface.
type SettingsStore interface {
	Set(ctx context.Context, key, value string, secret bool) error
	ListPublic(ctx context.Context) ([]models.Setting, error)
}

type settingResponse struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Secret    bool   `json:"secret"`
	UpdatedAt string `json:"updatedAt"`
}

type upsertSettingBody struct {
	Key    string `json:"key" validate:"required,max=128"`
	Value  string `json:"value" validate:"required"`
	Secret bool   `json:"secret"`
}

// SettingsList returns the settings table with secret values redacted.
func SettingsList(store SettingsStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		rows, err := store.ListPublic(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]settingResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, settingResponse{
				Key:       row.Key,
				Value:     row.Value,
				Secret:    row.Secret,
				UpdatedAt: row.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// SettingsUpsert stores one setting row. Stored gateway credentials win over
// the environment at the next credential resolution.
func SettingsUpsert(store SettingsStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body upsertSettingBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := store.Set(ctx, validators.SanitizeString(body.Key, 128), body.Value, body.Secret); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"key": body.Key})
	}
}
