package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/experiment"
	"github.com/absmach/fedsim/pkg/api"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// TOMLContentType accepts an experiment file as is.
	TOMLContentType = "application/toml"

	maxConfigSize = 1024 * 1024
)

func MakeHandler(svc experiment.Service, logger *slog.Logger, instanceID string) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}
	// handle wraps one endpoint with tracing under operation name op.
	handle := func(op string, e endpoint.Endpoint, dec kithttp.DecodeRequestFunc) http.HandlerFunc {
		return otelhttp.NewHandler(kithttp.NewServer(e, dec, api.EncodeResponse, opts...), op).ServeHTTP
	}

	mux := chi.NewRouter()
	mux.Route("/experiments", func(r chi.Router) {
		r.Post("/", handle("create-experiment", createExperimentEndpoint(svc), decodeCreateExperimentReq))
		r.Get("/", handle("list-experiments", listExperimentsEndpoint(svc), decodeListEntityReq))
		r.Route("/{experimentID}", func(r chi.Router) {
			r.Get("/", handle("get-experiment", getExperimentEndpoint(svc), decodeEntityReq("experimentID")))
			r.Post("/run", handle("run-experiment", runExperimentEndpoint(svc), decodeEntityReq("experimentID")))
			r.Post("/stop", handle("stop-experiment", stopExperimentEndpoint(svc), decodeEntityReq("experimentID")))
			r.Get("/rounds", handle("list-rounds", listRoundsEndpoint(svc), decodeListRoundsReq("experimentID")))
		})
	})

	mux.Get("/health", supermq.Health("fedsim", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeCreateExperimentReq(_ context.Context, r *http.Request) (any, error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(ct, api.ContentType):
		var req createExperimentReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.Join(err, apiutil.ErrValidation)
		}

		return req, nil
	case strings.Contains(ct, TOMLContentType):
		body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigSize))
		if err != nil {
			return nil, errors.Join(err, apiutil.ErrValidation)
		}
		cfg, err := fedsim.ParseConfig(body)
		if err != nil {
			return nil, errors.Join(err, apiutil.ErrValidation)
		}

		return createExperimentReq{Config: cfg}, nil
	default:
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	offset, limit, err := readPage(r)
	if err != nil {
		return nil, err
	}

	return listEntityReq{offset: offset, limit: limit}, nil
}

func decodeListRoundsReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		offset, limit, err := readPage(r)
		if err != nil {
			return nil, err
		}

		return listRoundsReq{
			id:     chi.URLParam(r, key),
			offset: offset,
			limit:  limit,
		}, nil
	}
}

func readPage(r *http.Request) (offset, limit uint64, err error) {
	if offset, err = apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset); err != nil {
		return 0, 0, errors.Join(apiutil.ErrValidation, err)
	}
	if limit, err = apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit); err != nil {
		return 0, 0, errors.Join(apiutil.ErrValidation, err)
	}

	return offset, limit, nil
}
