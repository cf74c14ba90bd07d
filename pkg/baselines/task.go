// Package baselines pairs federated datasets with the models trained on them.
package baselines

import (
	"context"
	"fmt"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/sampler"
	"github.com/absmach/fedsim/pkg/tensor"
)

// TaskDatasets holds the data of a baseline task. It is read-only after
// construction.
type TaskDatasets struct {
	TrainData      data.ClientData
	TestData       data.ClientData
	ValidationData data.ClientData

	TrainPreprocess data.Preprocessor
	// EvalPreprocess is nil when the task was built without an eval spec.
	EvalPreprocess *data.Preprocessor

	elementSpec tensor.ElementSpec
}

// NewTaskDatasets validates that every split shares one raw element structure
// and that eval preprocessing yields the train element structure.
func NewTaskDatasets(train, test, validation data.ClientData, trainPre data.Preprocessor, evalPre *data.Preprocessor) (*TaskDatasets, error) {
	if train == nil {
		return nil, fmt.Errorf("%w: train data is required", pkgerrors.ErrConfiguration)
	}
	for name, split := range map[string]data.ClientData{"test": test, "validation": validation} {
		if split != nil && !split.ElementSpec().Equal(train.ElementSpec()) {
			return nil, fmt.Errorf("%w: %s data is %s, train data is %s",
				pkgerrors.ErrShapeMismatch, name, split.ElementSpec(), train.ElementSpec())
		}
	}
	if evalPre != nil && !evalPre.ElementSpec().Equal(trainPre.ElementSpec()) {
		return nil, fmt.Errorf("%w: eval preprocessing yields %s, train preprocessing yields %s",
			pkgerrors.ErrShapeMismatch, evalPre.ElementSpec(), trainPre.ElementSpec())
	}

	return &TaskDatasets{
		TrainData:       train,
		TestData:        test,
		ValidationData:  validation,
		TrainPreprocess: trainPre,
		EvalPreprocess:  evalPre,
		elementSpec:     trainPre.ElementSpec(),
	}, nil
}

// ElementTypeStructure is the batched element structure a model must accept.
func (td *TaskDatasets) ElementTypeStructure() tensor.ElementSpec {
	return td.elementSpec
}

func (td *TaskDatasets) PreprocessedTrainData() *data.PreprocessedClientData {
	return data.Preprocess(td.TrainData, td.TrainPreprocess)
}

// PreprocessedTestData returns the test clients under eval preprocessing, or
// ErrNoEvalData when the task has no eval spec or no test split.
func (td *TaskDatasets) PreprocessedTestData() (*data.PreprocessedClientData, error) {
	if td.EvalPreprocess == nil || td.TestData == nil {
		return nil, pkgerrors.ErrNoEvalData
	}

	return data.Preprocess(td.TestData, *td.EvalPreprocess), nil
}

// CentralizedTestData pools every test client into one dataset under eval
// preprocessing.
func (td *TaskDatasets) CentralizedTestData(ctx context.Context) (*data.Pipeline, error) {
	if td.EvalPreprocess == nil || td.TestData == nil {
		return nil, pkgerrors.ErrNoEvalData
	}

	var parts []*data.Dataset
	for _, id := range td.TestData.ClientIDs() {
		ds, err := td.TestData.CreateDatasetForClient(ctx, id)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ds)
	}
	if len(parts) == 0 {
		return nil, pkgerrors.ErrNoEvalData
	}
	pooled, err := data.Concatenate(parts...)
	if err != nil {
		return nil, err
	}
	pre := *td.EvalPreprocess
	pre.Pipeline.MaxElements = Unbounded

	return pre.Apply(pooled, 0)
}

// SampleTrainClients selects num train clients for roundNum and returns their
// preprocessed datasets in selection order.
func (td *TaskDatasets) SampleTrainClients(ctx context.Context, s sampler.Sampler, roundNum, num int) ([]string, []data.Batcher, error) {
	ids, err := s.Select(roundNum, td.TrainData.ClientIDs(), num)
	if err != nil {
		return nil, nil, err
	}

	train := td.PreprocessedTrainData()
	out := make([]data.Batcher, len(ids))
	for i, id := range ids {
		p, err := train.CreateDatasetForClient(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		out[i] = p
	}

	return ids, out, nil
}

// SplitSummary counts the clients and raw examples of one split.
type SplitSummary struct {
	Clients  int `json:"clients"`
	Examples int `json:"examples"`
}

// Summary describes every present split, keyed "train", "test" and
// "validation".
func (td *TaskDatasets) Summary(ctx context.Context) (map[string]SplitSummary, error) {
	out := map[string]SplitSummary{}
	for name, split := range map[string]data.ClientData{"train": td.TrainData, "test": td.TestData, "validation": td.ValidationData} {
		if split == nil {
			continue
		}
		s := SplitSummary{}
		for _, id := range split.ClientIDs() {
			ds, err := split.CreateDatasetForClient(ctx, id)
			if err != nil {
				return nil, err
			}
			s.Clients++
			s.Examples += ds.Len()
		}
		out[name] = s
	}

	return out, nil
}

// Task is a validated pairing of datasets and a model builder.
type Task struct {
	Datasets *TaskDatasets
	ModelFn  model.Fn
}

// NewTask builds one model to check that its input spec matches the dataset
// element structure.
func NewTask(ds *TaskDatasets, fn model.Fn) (Task, error) {
	m, err := fn()
	if err != nil {
		return Task{}, err
	}
	if !m.InputSpec().Equal(ds.ElementTypeStructure()) {
		return Task{}, fmt.Errorf("%w: model accepts %s, datasets yield %s",
			pkgerrors.ErrShapeMismatch, m.InputSpec(), ds.ElementTypeStructure())
	}

	return Task{Datasets: ds, ModelFn: fn}, nil
}
