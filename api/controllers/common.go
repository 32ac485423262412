package controllers

import (
	"context"

	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/api/middleware"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
)

// UserDirectory is the read surface controllers need to resolve the
// authenticated caller.
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

func currentUser(ctx context.Context, users UserDirectory) (*models.User, error) {
	raw := middleware.UserIDFromContext(ctx)
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	user, err := users.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "load user")
	}
	return user, nil
}

func currentUserID(ctx context.Context) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}
