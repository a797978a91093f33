package controllers

import (
	"net/http"

	"github.com/quickbuyer/quickbuyer-backend/api/responses"
	"github.com/quickbuyer/quickbuyer-backend/api/validators"
	checkoutsvc "github.com/quickbuyer/quickbuyer-backend/internal/checkout"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

// Checkout opens a hosted checkout for a single project or a subscription plan.
// Anonymous callers are allowed.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutsvc.SingleInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		session, err := svc.CreateSingle(ctx, callerFromRequest(r), payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

func CheckoutCart(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutsvc.CartInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		session, err := svc.CreateCart(ctx, callerFromRequest(r), payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}
