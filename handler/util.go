package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/phbpx/leadsvc"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const maxBodyBytes = 1 << 20

var (
	errUnauthorized = errors.New("unauthorized")
	errInternal     = errors.New("internal server error")
	errBadID        = errors.New("ID is not in its proper form")
)

func decode(rw http.ResponseWriter, r *http.Request, into interface{}) error {
	rawJson, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(rawJson, into)
}

func respond(ctx context.Context, rw http.ResponseWriter, status int, data interface{}) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "handler.respond")
	span.SetAttributes(attribute.Int("http.status", status))
	defer span.End()

	if status == http.StatusNoContent || data == nil {
		rw.WriteHeader(status)
		return
	}

	rawJson, err := json.Marshal(data)
	if err != nil {
		panic("respond-json-marshal:" + err.Error())
	}

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	rw.Write(rawJson)
}

func respondErr(ctx context.Context, rw http.ResponseWriter, status int, err error) {
	respond(ctx, rw, status, map[string]string{
		"code":  http.StatusText(status),
		"error": err.Error(),
	})
}

// respondInvalid answers with the rejected fields of a validation error, or
// with a plain error body for anything else.
func respondInvalid(ctx context.Context, rw http.ResponseWriter, status int, err error) {
	var ve *leadsvc.ValidationError
	if !errors.As(err, &ve) {
		respondErr(ctx, rw, status, err)
		return
	}
	respond(ctx, rw, status, map[string]interface{}{
		"code":   http.StatusText(status),
		"error":  leadsvc.ErrInvalidInput.Error(),
		"fields": ve.Fields,
	})
}

// respondInternal logs and reports err, then answers with an opaque 500.
func respondInternal(ctx context.Context, rw http.ResponseWriter, log *otelzap.SugaredLogger, op string, err error) {
	log.Ctx(ctx).Errorw(op, "error", err.Error())

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("operation", op)
			hub.CaptureException(err)
		})
	}

	respondErr(ctx, rw, http.StatusInternalServerError, errInternal)
}
