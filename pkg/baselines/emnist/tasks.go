// Package emnist provides the EMNIST character recognition and autoencoder
// baseline tasks.
package emnist

import (
	"fmt"

	"github.com/absmach/fedsim/pkg/baselines"
	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/tensor"
)

type options struct {
	eval       *baselines.ClientSpec
	modelID    ModelID
	onlyDigits bool
	synthetic  bool
	synthCfg   SyntheticConfig
	train      data.ClientData
	test       data.ClientData
	seed       uint64
	builder    ModelBuilder
}

type Option func(*options)

// WithEvalClientSpec enables eval preprocessing of the test split.
func WithEvalClientSpec(cs baselines.ClientSpec) Option {
	return func(o *options) {
		o.eval = &cs
	}
}

func WithModelID(id ModelID) Option {
	return func(o *options) {
		o.modelID = id
	}
}

// WithOnlyDigits restricts labels to the ten digits.
func WithOnlyDigits(onlyDigits bool) Option {
	return func(o *options) {
		o.onlyDigits = onlyDigits
	}
}

// WithSyntheticData generates stroke glyph clients instead of reading data.
func WithSyntheticData(synthetic bool) Option {
	return func(o *options) {
		o.synthetic = synthetic
	}
}

func WithSyntheticConfig(cfg SyntheticConfig) Option {
	return func(o *options) {
		o.synthetic = true
		o.synthCfg = cfg
	}
}

// WithClientData supplies raw train and test splits. test may be nil.
func WithClientData(train, test data.ClientData) Option {
	return func(o *options) {
		o.train = train
		o.test = test
	}
}

func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

func WithModelBuilder(b ModelBuilder) Option {
	return func(o *options) {
		o.builder = b
	}
}

func newOptions(opts []Option) options {
	o := options{
		modelID:  CNNDropout,
		synthCfg: DefaultSyntheticConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.builder == nil {
		o.builder = NewModelBuilder(o.seed)
	}

	return o
}

func (o options) clientData() (train, test data.ClientData, err error) {
	switch {
	case o.train != nil:
		train, test = o.train, o.test
	case o.synthetic:
		cfg := o.synthCfg
		cfg.Seed ^= o.seed
		if train, test, err = SyntheticData(o.onlyDigits, cfg); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("%w: no client data supplied and synthetic data disabled", pkgerrors.ErrConfiguration)
	}
	if !train.ElementSpec().Equal(RawElementSpec) {
		return nil, nil, fmt.Errorf("%w: emnist data is %s, want %s", pkgerrors.ErrShapeMismatch, train.ElementSpec(), RawElementSpec)
	}

	return train, test, nil
}

func preprocessors(o options, train baselines.ClientSpec, out tensor.ElementSpec, fn func(data.Example) (data.Example, error)) (data.Preprocessor, *data.Preprocessor, error) {
	if err := train.Validate(); err != nil {
		return data.Preprocessor{}, nil, err
	}
	trainPre := data.Preprocessor{Output: out, Map: fn, Pipeline: train.Pipeline(o.seed)}
	if o.eval == nil {
		return trainPre, nil, nil
	}
	if err := o.eval.Validate(); err != nil {
		return data.Preprocessor{}, nil, err
	}
	evalPre := data.Preprocessor{Output: out, Map: fn, Pipeline: o.eval.Pipeline(o.seed)}

	return trainPre, &evalPre, nil
}

// CreateCharacterRecognitionTask builds the EMNIST classification task. The
// model id is validated before any data is touched.
func CreateCharacterRecognitionTask(train baselines.ClientSpec, opts ...Option) (baselines.Task, error) {
	o := newOptions(opts)
	if _, err := ParseModelID(string(o.modelID)); err != nil {
		return baselines.Task{}, err
	}
	trainPre, evalPre, err := preprocessors(o, train, imageSpec.Unbatched(), toImage(o.onlyDigits))
	if err != nil {
		return baselines.Task{}, err
	}
	trainData, testData, err := o.clientData()
	if err != nil {
		return baselines.Task{}, err
	}
	ds, err := baselines.NewTaskDatasets(trainData, testData, nil, trainPre, evalPre)
	if err != nil {
		return baselines.Task{}, err
	}

	builder, id, onlyDigits := o.builder, o.modelID, o.onlyDigits
	fn := func() (model.Model, error) {
		return BuildModel(builder, id, onlyDigits)
	}

	return baselines.NewTask(ds, fn)
}

// CreateDigitRecognitionTask is CreateCharacterRecognitionTask under the name
// used for digit-only experiments.
func CreateDigitRecognitionTask(train baselines.ClientSpec, opts ...Option) (baselines.Task, error) {
	return CreateCharacterRecognitionTask(train, opts...)
}

// CreateAutoencoderTask builds the EMNIST autoencoder task, where every image
// is its own reconstruction target.
func CreateAutoencoderTask(train baselines.ClientSpec, opts ...Option) (baselines.Task, error) {
	o := newOptions(opts)
	trainPre, evalPre, err := preprocessors(o, train, flatSpec.Unbatched(), toFlat)
	if err != nil {
		return baselines.Task{}, err
	}
	trainData, testData, err := o.clientData()
	if err != nil {
		return baselines.Task{}, err
	}
	ds, err := baselines.NewTaskDatasets(trainData, testData, nil, trainPre, evalPre)
	if err != nil {
		return baselines.Task{}, err
	}

	return baselines.NewTask(ds, o.builder.Autoencoder)
}

func toImage(onlyDigits bool) func(data.Example) (data.Example, error) {
	classes := numClasses(onlyDigits)

	return func(e data.Example) (data.Example, error) {
		if l := int(e.Y[0]); l < 0 || l >= classes {
			return data.Example{}, fmt.Errorf("%w: label %d outside [0, %d)", pkgerrors.ErrInvalidData, l, classes)
		}

		return data.Example{X: e.X, Y: e.Y}, nil
	}
}

func toFlat(e data.Example) (data.Example, error) {
	return data.Example{X: e.X, Y: e.X}, nil
}
