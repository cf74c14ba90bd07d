// Package api holds the HTTP encoding shared by the service transports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
)

const (
	OffsetKey = "offset"
	LimitKey  = "limit"
	DefOffset = 0
	DefLimit  = 100

	ContentType = "application/json"

	MaxLimitSize = 100
)

var ErrLimitSize = errors.New("limit exceeds maximum")

type errorRes struct {
	Err string `json:"error"`
}

func EncodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(StatusCode(err))

	if err := json.NewEncoder(w).Encode(errorRes{Err: err.Error()}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// StatusCode maps service errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, apiutil.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, apiutil.ErrValidation),
		errors.Is(err, pkgerrors.ErrEmptyKey),
		errors.Is(err, pkgerrors.ErrConfiguration),
		errors.Is(err, pkgerrors.ErrShapeMismatch),
		errors.Is(err, pkgerrors.ErrInsufficientClients),
		errors.Is(err, ErrLimitSize):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrEntityExists),
		errors.Is(err, pkgerrors.ErrRunning),
		errors.Is(err, pkgerrors.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrEmptyRound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
