package emnist_test

import (
	"context"
	"testing"

	"github.com/absmach/fedsim/pkg/baselines"
	"github.com/absmach/fedsim/pkg/baselines/emnist"
	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	trainSpec = baselines.MustClientSpec(2, 10, 3, 5)
	evalSpec  = baselines.MustClientSpec(1, 2, 5, 10)
	small     = emnist.SyntheticConfig{TrainClients: 3, TestClients: 2, ExamplesPerClient: 6, FlipProbability: 0.01}
)

type call struct {
	method     string
	onlyDigits bool
}

// recordingBuilder returns nil models and remembers what was asked of it.
type recordingBuilder struct {
	calls []call
	spec  tensor.ElementSpec
}

func (r *recordingBuilder) build(method string, onlyDigits bool) (model.Model, error) {
	r.calls = append(r.calls, call{method: method, onlyDigits: onlyDigits})

	return stubModel{spec: r.spec}, nil
}

func (r *recordingBuilder) ConvDropout(onlyDigits bool) (model.Model, error) {
	return r.build("ConvDropout", onlyDigits)
}

func (r *recordingBuilder) OriginalFedAvgCNN(onlyDigits bool) (model.Model, error) {
	return r.build("OriginalFedAvgCNN", onlyDigits)
}

func (r *recordingBuilder) TwoHiddenLayer(onlyDigits bool) (model.Model, error) {
	return r.build("TwoHiddenLayer", onlyDigits)
}

func (r *recordingBuilder) Autoencoder() (model.Model, error) {
	return r.build("Autoencoder", false)
}

type stubModel struct {
	model.Model
	spec tensor.ElementSpec
}

func (s stubModel) InputSpec() tensor.ElementSpec {
	return s.spec
}

func imageSpec() tensor.ElementSpec {
	return tensor.ElementSpec{
		X: tensor.NewSpec(tensor.Float32, tensor.BatchDim, emnist.Height, emnist.Width, 1),
		Y: tensor.NewSpec(tensor.Int32, tensor.BatchDim, 1),
	}
}

func TestCreateTaskWithEvalSpec(t *testing.T) {
	t.Parallel()

	task, err := emnist.CreateCharacterRecognitionTask(trainSpec,
		emnist.WithEvalClientSpec(evalSpec),
		emnist.WithModelID(emnist.CNN),
		emnist.WithOnlyDigits(true),
		emnist.WithSyntheticConfig(small),
	)
	require.NoError(t, err)
	require.NotNil(t, task.Datasets.EvalPreprocess)

	m, err := task.ModelFn()
	require.NoError(t, err)
	assert.Implements(t, (*model.Model)(nil), m)
	assert.True(t, task.Datasets.ElementTypeStructure().Equal(m.InputSpec()))

	ctx := context.Background()
	train, err := task.Datasets.PreprocessedTrainData().CreateDatasetForClient(ctx, "f0000")
	require.NoError(t, err)
	var sizes []int
	require.NoError(t, train.ForEach(ctx, func(b data.Batch) error {
		sizes = append(sizes, b.Size)

		return nil
	}))
	assert.Equal(t, []int{6}, sizes, "max_elements 3 repeated over 2 epochs in one batch of 10")

	test, err := task.Datasets.PreprocessedTestData()
	require.NoError(t, err)
	p, err := test.CreateDatasetForClient(ctx, "t0000")
	require.NoError(t, err)
	assert.Equal(t, 5, p.NumExamples())
}

func TestCreateTaskWithoutEvalSpec(t *testing.T) {
	t.Parallel()

	task, err := emnist.CreateDigitRecognitionTask(trainSpec,
		emnist.WithModelID(emnist.CNN),
		emnist.WithOnlyDigits(true),
		emnist.WithSyntheticConfig(small),
	)
	require.NoError(t, err)
	assert.Nil(t, task.Datasets.EvalPreprocess)
	_, err = task.Datasets.PreprocessedTestData()
	assert.ErrorIs(t, err, pkgerrors.ErrNoEvalData)

	m, err := task.ModelFn()
	require.NoError(t, err)
	assert.True(t, task.Datasets.ElementTypeStructure().Equal(m.InputSpec()))
}

func TestCreateTaskShapeInvariant(t *testing.T) {
	t.Parallel()

	for _, id := range []emnist.ModelID{emnist.CNNDropout, emnist.CNN, emnist.TwoNN} {
		for _, onlyDigits := range []bool{true, false} {
			t.Run(string(id), func(t *testing.T) {
				t.Parallel()

				task, err := emnist.CreateCharacterRecognitionTask(trainSpec,
					emnist.WithEvalClientSpec(evalSpec),
					emnist.WithModelID(id),
					emnist.WithOnlyDigits(onlyDigits),
					emnist.WithSyntheticConfig(small),
				)
				require.NoError(t, err)
				m, err := task.ModelFn()
				require.NoError(t, err)
				assert.True(t, task.Datasets.ElementTypeStructure().Equal(m.InputSpec()),
					"%s only_digits=%v: %s vs %s", id, onlyDigits, task.Datasets.ElementTypeStructure(), m.InputSpec())
			})
		}
	}
}

func TestCreateTaskRejectsUnsupportedModel(t *testing.T) {
	t.Parallel()

	for _, onlyDigits := range []bool{true, false} {
		b := &recordingBuilder{spec: imageSpec()}
		_, err := emnist.CreateCharacterRecognitionTask(trainSpec,
			emnist.WithModelID("unsupported_model"),
			emnist.WithOnlyDigits(onlyDigits),
			emnist.WithSyntheticConfig(small),
			emnist.WithModelBuilder(b),
		)
		assert.ErrorIs(t, err, pkgerrors.ErrConfiguration, "only_digits=%v", onlyDigits)
		assert.Empty(t, b.calls, "no model may be built for an unsupported id")
	}

	_, err := emnist.ParseModelID("unsupported_model")
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
}

func TestBuildModelDispatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id         emnist.ModelID
		onlyDigits bool
		method     string
	}{
		{emnist.CNNDropout, true, "ConvDropout"},
		{emnist.CNN, false, "OriginalFedAvgCNN"},
		{emnist.TwoNN, true, "TwoHiddenLayer"},
	}

	for _, c := range cases {
		t.Run(string(c.id), func(t *testing.T) {
			t.Parallel()

			b := &recordingBuilder{spec: imageSpec()}
			task, err := emnist.CreateCharacterRecognitionTask(trainSpec,
				emnist.WithModelID(c.id),
				emnist.WithOnlyDigits(c.onlyDigits),
				emnist.WithSyntheticConfig(small),
				emnist.WithModelBuilder(b),
			)
			require.NoError(t, err)
			_, err = task.ModelFn()
			require.NoError(t, err)

			want := call{method: c.method, onlyDigits: c.onlyDigits}
			assert.Equal(t, []call{want, want}, b.calls, "one build to validate the task, one from ModelFn")
		})
	}
}

func TestCreateTaskErrors(t *testing.T) {
	t.Parallel()

	wrong, err := data.NewInMemoryClientData(tensor.ElementSpec{
		X: tensor.NewSpec(tensor.Float32, 10),
		Y: tensor.NewSpec(tensor.Int32),
	}, nil)
	require.NoError(t, err)

	cases := []struct {
		name string
		spec baselines.ClientSpec
		opts []emnist.Option
		err  error
	}{
		{"no data", trainSpec, nil, pkgerrors.ErrConfiguration},
		{"invalid train spec", baselines.ClientSpec{}, []emnist.Option{emnist.WithSyntheticConfig(small)}, pkgerrors.ErrConfiguration},
		{"invalid eval spec", trainSpec, []emnist.Option{emnist.WithSyntheticConfig(small), emnist.WithEvalClientSpec(baselines.ClientSpec{NumEpochs: 1})}, pkgerrors.ErrConfiguration},
		{"wrong raw data", trainSpec, []emnist.Option{emnist.WithClientData(wrong, nil)}, pkgerrors.ErrShapeMismatch},
		{"bad synthetic config", trainSpec, []emnist.Option{emnist.WithSyntheticConfig(emnist.SyntheticConfig{})}, pkgerrors.ErrConfiguration},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			_, err := emnist.CreateCharacterRecognitionTask(c.spec, c.opts...)
			assert.ErrorIs(t, err, c.err)
		})
	}
}

func TestCreateAutoencoderTask(t *testing.T) {
	t.Parallel()

	task, err := emnist.CreateAutoencoderTask(trainSpec,
		emnist.WithEvalClientSpec(evalSpec),
		emnist.WithSyntheticConfig(small),
	)
	require.NoError(t, err)
	m, err := task.ModelFn()
	require.NoError(t, err)
	assert.True(t, task.Datasets.ElementTypeStructure().Equal(m.InputSpec()))
	assert.Equal(t, "float32[None,784]", m.InputSpec().Y.String())

	ctx := context.Background()
	p, err := task.Datasets.PreprocessedTrainData().CreateDatasetForClient(ctx, "f0001")
	require.NoError(t, err)
	require.NoError(t, p.ForEach(ctx, func(b data.Batch) error {
		assert.Equal(t, b.X, b.Y)

		return nil
	}))
}

func TestSyntheticData(t *testing.T) {
	t.Parallel()

	cfg := emnist.SyntheticConfig{TrainClients: 4, TestClients: 2, ExamplesPerClient: 8, FlipProbability: 0.05, Seed: 9}
	train, test, err := emnist.SyntheticData(true, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"f0000", "f0001", "f0002", "f0003"}, train.ClientIDs())
	assert.Equal(t, []string{"t0000", "t0001"}, test.ClientIDs())
	assert.True(t, train.ElementSpec().Equal(emnist.RawElementSpec))

	again, _, err := emnist.SyntheticData(true, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := train.CreateDatasetForClient(ctx, "f0002")
	require.NoError(t, err)
	b, err := again.CreateDatasetForClient(ctx, "f0002")
	require.NoError(t, err)
	require.Equal(t, 8, a.Len())
	for i := range a.Len() {
		assert.Equal(t, a.Example(i), b.Example(i))
		label := a.Example(i).Y[0]
		assert.GreaterOrEqual(t, label, 0.0)
		assert.Less(t, label, 10.0)
	}
}
