// Package model defines the trainable model capability the federated
// process drives, and a Model backed by an nn.Network.
package model

import (
	"fmt"
	"slices"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/nn"
	"github.com/absmach/fedsim/pkg/tensor"
)

// Model is a trainable model. Implementations are not safe for concurrent use.
type Model interface {
	// InputSpec is the batched element structure the model accepts.
	InputSpec() tensor.ElementSpec
	// TrainableVariables returns the live variables: writes through the
	// returned tensors change the model.
	TrainableVariables() tensor.Weights
	// ForwardPass scores one batch without touching gradients.
	ForwardPass(b data.Batch, training bool) (BatchOutput, error)
	// Gradients runs a training forward pass and returns the gradient of the
	// batch loss for every trainable variable, in TrainableVariables order.
	// The returned tensors are reused by the next call.
	Gradients(b data.Batch) (tensor.Weights, BatchOutput, error)
}

// Fn builds a fresh model. Every call returns a model with the same structure.
type Fn func() (Model, error)

// BatchOutput summarizes one batch. Loss and Metrics are batch means.
type BatchOutput struct {
	Loss        float64
	NumExamples int
	Metrics     map[string]float64
}

type network struct {
	spec tensor.ElementSpec
	net  *nn.Network
	loss nn.Loss

	vars  tensor.Weights
	grads tensor.Weights
}

var _ Model = (*network)(nil)

// FromNetwork wraps net as a Model with the given input spec. The x spec,
// without its batch dimension, must match the network input shape.
func FromNetwork(spec tensor.ElementSpec, net *nn.Network, loss nn.Loss) (Model, error) {
	spec = spec.Unbatched().Batched()
	in := spec.X.Unbatched().Shape
	if !slices.Equal(in, net.InputShape()) {
		return nil, fmt.Errorf("%w: input spec %s, network input %v", pkgerrors.ErrShapeMismatch, spec.X, net.InputShape())
	}

	m := &network{spec: spec, net: net, loss: loss}
	for _, p := range net.Params() {
		m.vars = append(m.vars, tensor.Tensor{Name: p.Name, Shape: p.Shape, Data: p.Value})
		m.grads = append(m.grads, tensor.Tensor{Name: p.Name, Shape: p.Shape, Data: p.Grad})
	}

	return m, nil
}

func (m *network) InputSpec() tensor.ElementSpec {
	return m.spec
}

func (m *network) TrainableVariables() tensor.Weights {
	return m.vars
}

func (m *network) ForwardPass(b data.Batch, training bool) (BatchOutput, error) {
	out, err := m.net.Forward(b.X, b.Size, training)
	if err != nil {
		return BatchOutput{}, err
	}
	loss, metrics, _, err := m.loss.Evaluate(out, b.Y)
	if err != nil {
		return BatchOutput{}, err
	}

	return BatchOutput{Loss: loss, NumExamples: b.Size, Metrics: metrics}, nil
}

func (m *network) Gradients(b data.Batch) (tensor.Weights, BatchOutput, error) {
	out, err := m.net.Forward(b.X, b.Size, true)
	if err != nil {
		return nil, BatchOutput{}, err
	}
	loss, metrics, dy, err := m.loss.Evaluate(out, b.Y)
	if err != nil {
		return nil, BatchOutput{}, err
	}

	m.net.ZeroGrad()
	m.net.Backward(dy)

	return m.grads, BatchOutput{Loss: loss, NumExamples: b.Size, Metrics: metrics}, nil
}
