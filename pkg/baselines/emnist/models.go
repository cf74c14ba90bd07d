package emnist

import (
	"fmt"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/nn"
	"github.com/absmach/fedsim/pkg/tensor"
)

// ModelID names a character recognition architecture.
type ModelID string

const (
	CNNDropout ModelID = "cnn_dropout"
	CNN        ModelID = "cnn"
	TwoNN      ModelID = "2nn"
)

func (id ModelID) Valid() bool {
	switch id {
	case CNNDropout, CNN, TwoNN:
		return true
	default:
		return false
	}
}

func ParseModelID(s string) (ModelID, error) {
	id := ModelID(s)
	if !id.Valid() {
		return "", fmt.Errorf("%w: unsupported model id %q, want one of %s, %s, %s",
			pkgerrors.ErrConfiguration, s, CNNDropout, CNN, TwoNN)
	}

	return id, nil
}

// ModelBuilder constructs the EMNIST architectures.
type ModelBuilder interface {
	ConvDropout(onlyDigits bool) (model.Model, error)
	OriginalFedAvgCNN(onlyDigits bool) (model.Model, error)
	TwoHiddenLayer(onlyDigits bool) (model.Model, error)
	Autoencoder() (model.Model, error)
}

// BuildModel dispatches id to its builder method.
func BuildModel(b ModelBuilder, id ModelID, onlyDigits bool) (model.Model, error) {
	switch id {
	case CNNDropout:
		return b.ConvDropout(onlyDigits)
	case CNN:
		return b.OriginalFedAvgCNN(onlyDigits)
	case TwoNN:
		return b.TwoHiddenLayer(onlyDigits)
	default:
		return nil, fmt.Errorf("%w: unsupported model id %q", pkgerrors.ErrConfiguration, id)
	}
}

var (
	imageSpec = tensor.ElementSpec{
		X: tensor.NewSpec(tensor.Float32, tensor.BatchDim, Height, Width, 1),
		Y: tensor.NewSpec(tensor.Int32, tensor.BatchDim, 1),
	}
	flatSpec = tensor.ElementSpec{
		X: tensor.NewSpec(tensor.Float32, tensor.BatchDim, Height*Width),
		Y: tensor.NewSpec(tensor.Float32, tensor.BatchDim, Height*Width),
	}
)

func numClasses(onlyDigits bool) int {
	if onlyDigits {
		return 10
	}

	return 62
}

type networkBuilder struct {
	seed uint64
}

// NewModelBuilder returns the gonum-backed builder. Every model it builds from
// one seed starts from the same weights.
func NewModelBuilder(seed uint64) ModelBuilder {
	return networkBuilder{seed: seed}
}

func (b networkBuilder) classifier(specs ...nn.LayerSpec) (model.Model, error) {
	net, err := nn.NewNetwork([]int{Height, Width, 1}, b.seed, specs...)
	if err != nil {
		return nil, err
	}

	return model.FromNetwork(imageSpec, net, nn.SparseCategoricalCrossentropy{})
}

func (b networkBuilder) ConvDropout(onlyDigits bool) (model.Model, error) {
	return b.classifier(
		nn.Conv2D(32, 3, nn.Valid, nn.ReLU),
		nn.Conv2D(64, 3, nn.Valid, nn.ReLU),
		nn.MaxPool2D(2),
		nn.Dropout(0.25),
		nn.Flatten(),
		nn.Dense(128, nn.ReLU),
		nn.Dropout(0.5),
		nn.Dense(numClasses(onlyDigits), nn.Linear),
	)
}

func (b networkBuilder) OriginalFedAvgCNN(onlyDigits bool) (model.Model, error) {
	return b.classifier(
		nn.Conv2D(32, 5, nn.Same, nn.ReLU),
		nn.MaxPool2D(2),
		nn.Conv2D(64, 5, nn.Same, nn.ReLU),
		nn.MaxPool2D(2),
		nn.Flatten(),
		nn.Dense(512, nn.ReLU),
		nn.Dense(numClasses(onlyDigits), nn.Linear),
	)
}

func (b networkBuilder) TwoHiddenLayer(onlyDigits bool) (model.Model, error) {
	return b.classifier(
		nn.Flatten(),
		nn.Dense(200, nn.ReLU),
		nn.Dense(200, nn.ReLU),
		nn.Dense(numClasses(onlyDigits), nn.Linear),
	)
}

func (b networkBuilder) Autoencoder() (model.Model, error) {
	net, err := nn.NewNetwork([]int{Height * Width}, b.seed,
		nn.Dense(1000, nn.Sigmoid),
		nn.Dense(500, nn.Sigmoid),
		nn.Dense(250, nn.Sigmoid),
		nn.Dense(30, nn.Linear),
		nn.Dense(250, nn.Sigmoid),
		nn.Dense(500, nn.Sigmoid),
		nn.Dense(1000, nn.Sigmoid),
		nn.Dense(Height*Width, nn.Sigmoid),
	)
	if err != nil {
		return nil, err
	}

	return model.FromNetwork(flatSpec, net, nn.MeanSquaredError{})
}
