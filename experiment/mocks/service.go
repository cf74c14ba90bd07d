package mocks

import (
	"context"

	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/experiment"
	"github.com/stretchr/testify/mock"
)

var _ experiment.Service = (*Service)(nil)

type Service struct {
	mock.Mock
}

func (m *Service) CreateExperiment(ctx context.Context, cfg fedsim.Config) (fedsim.Experiment, error) {
	args := m.Called(ctx, cfg)

	return args.Get(0).(fedsim.Experiment), args.Error(1)
}

func (m *Service) GetExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(fedsim.Experiment), args.Error(1)
}

func (m *Service) ListExperiments(ctx context.Context, offset, limit uint64) (fedsim.ExperimentPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(fedsim.ExperimentPage), args.Error(1)
}

func (m *Service) RunExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(fedsim.Experiment), args.Error(1)
}

func (m *Service) StopExperiment(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *Service) ListRounds(ctx context.Context, id string, offset, limit uint64) (fedsim.RoundPage, error) {
	args := m.Called(ctx, id, offset, limit)

	return args.Get(0).(fedsim.RoundPage), args.Error(1)
}

func (m *Service) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
