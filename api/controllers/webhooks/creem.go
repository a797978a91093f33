package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/quickbuyer/quickbuyer-backend/api/responses"
	creemwebhook "github.com/quickbuyer/quickbuyer-backend/internal/webhooks/creem"
	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

const maxWebhookBodyBytes = int64(1 << 20)

type CreemWebhookService interface {
	Handle(ctx context.Context, body []byte, signature string) (*creemwebhook.Result, error)
}

type creemAck struct {
	Received  bool   `json:"received"`
	EventID   string `json:"eventId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Status    string `json:"status,omitempty"`
}

// CreemWebhook handles payment processor deliveries. 2xx is only returned once the
// event is durably recorded; 5xx responses ask the processor to retry.
func CreemWebhook(svc CreemWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeTooLarge, "webhook body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Handle(ctx, payload, r.Header.Get(creem.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, creemAck{
			Received:  true,
			EventID:   result.EventID,
			Duplicate: result.Duplicate,
			Status:    string(result.Status),
		})
	}
}
