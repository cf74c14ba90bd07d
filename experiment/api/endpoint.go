package api

import (
	"context"
	"errors"

	"github.com/absmach/fedsim/experiment"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func createExperimentEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(createExperimentReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		exp, err := svc.CreateExperiment(ctx, req.Config)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
			created:    true,
		}, nil
	}
}

func getExperimentEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		exp, err := svc.GetExperiment(ctx, req.id)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
		}, nil
	}
}

func listExperimentsEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listExperimentsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listExperimentsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListExperiments(ctx, req.offset, req.limit)
		if err != nil {
			return listExperimentsResponse{}, err
		}

		return listExperimentsResponse{
			ExperimentPage: page,
		}, nil
	}
}

func runExperimentEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return experimentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		exp, err := svc.RunExperiment(ctx, req.id)
		if err != nil {
			return experimentResponse{}, err
		}

		return experimentResponse{
			Experiment: exp,
			accepted:   true,
		}, nil
	}
}

func stopExperimentEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return stopResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return stopResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.StopExperiment(ctx, req.id); err != nil {
			return stopResponse{}, err
		}

		return stopResponse{}, nil
	}
}

func listRoundsEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listRoundsReq)
		if !ok {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.id, req.offset, req.limit)
		if err != nil {
			return listRoundsResponse{}, err
		}

		return listRoundsResponse{
			RoundPage: page,
		}, nil
	}
}
