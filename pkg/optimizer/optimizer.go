// Package optimizer implements first-order update rules used both on clients
// and, fed with the negated aggregate delta, on the server.
package optimizer

import (
	"fmt"
	"math"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
	"gonum.org/v1/gonum/floats"
)

// State is the optimizer-internal state, e.g. momentum accumulators.
type State struct {
	Step  int                       `json:"step"`
	Slots map[string]tensor.Weights `json:"slots,omitempty"`
}

func (s State) Clone() State {
	out := State{Step: s.Step}
	if s.Slots != nil {
		out.Slots = make(map[string]tensor.Weights, len(s.Slots))
		for k, v := range s.Slots {
			out.Slots[k] = v.Clone()
		}
	}

	return out
}

type Optimizer interface {
	Name() string
	// Init returns a fresh state for weights shaped like w.
	Init(w tensor.Weights) State
	// Apply updates w in place with grads and advances state.
	Apply(state *State, w, grads tensor.Weights) error
}

// Fn builds a fresh optimizer.
type Fn func() Optimizer

const (
	NameSGD     = "sgd"
	NameSGDM    = "sgdm"
	NameAdam    = "adam"
	NameAdagrad = "adagrad"
)

// Config selects and parameterizes an optimizer. Zero values take the
// per-optimizer defaults.
type Config struct {
	Name               string  `toml:"name"                json:"name"`
	LearningRate       float64 `toml:"learning_rate"       json:"learning_rate"`
	Momentum           float64 `toml:"momentum"            json:"momentum,omitempty"`
	Beta1              float64 `toml:"beta_1"              json:"beta_1,omitempty"`
	Beta2              float64 `toml:"beta_2"              json:"beta_2,omitempty"`
	Epsilon            float64 `toml:"epsilon"             json:"epsilon,omitempty"`
	InitialAccumulator float64 `toml:"initial_accumulator" json:"initial_accumulator,omitempty"`
}

// New returns a factory for the configured optimizer.
func New(cfg Config) (Fn, error) {
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %v", pkgerrors.ErrConfiguration, cfg.LearningRate)
	}

	switch cfg.Name {
	case NameSGD, "":
		return func() Optimizer { return SGD(cfg.LearningRate) }, nil
	case NameSGDM:
		if cfg.Momentum < 0 || cfg.Momentum >= 1 {
			return nil, fmt.Errorf("%w: momentum must be in [0, 1)", pkgerrors.ErrConfiguration)
		}

		return func() Optimizer { return SGDM(cfg.LearningRate, cfg.Momentum) }, nil
	case NameAdam:
		return func() Optimizer {
			return Adam(cfg.LearningRate, or(cfg.Beta1, 0.9), or(cfg.Beta2, 0.999), or(cfg.Epsilon, 1e-7))
		}, nil
	case NameAdagrad:
		return func() Optimizer {
			return Adagrad(cfg.LearningRate, or(cfg.InitialAccumulator, 0.1), or(cfg.Epsilon, 1e-7))
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", pkgerrors.ErrConfiguration, cfg.Name)
	}
}

func or(v, def float64) float64 {
	if v == 0 {
		return def
	}

	return v
}

type sgd struct {
	lr float64
}

func SGD(lr float64) Optimizer {
	return sgd{lr: lr}
}

func (sgd) Name() string { return NameSGD }

func (sgd) Init(tensor.Weights) State { return State{} }

func (o sgd) Apply(state *State, w, grads tensor.Weights) error {
	if err := w.AddScaled(-o.lr, grads); err != nil {
		return err
	}
	state.Step++

	return nil
}

type sgdm struct {
	lr, momentum float64
}

// SGDM is SGD with heavy-ball momentum. A zero momentum keeps no state and
// behaves exactly like SGD.
func SGDM(lr, momentum float64) Optimizer {
	return sgdm{lr: lr, momentum: momentum}
}

func (sgdm) Name() string { return NameSGDM }

func (o sgdm) Init(w tensor.Weights) State {
	if o.momentum == 0 {
		return State{}
	}

	return State{Slots: map[string]tensor.Weights{"momentum": w.ZerosLike()}}
}

func (o sgdm) Apply(state *State, w, grads tensor.Weights) error {
	if o.momentum == 0 {
		return sgd{lr: o.lr}.Apply(state, w, grads)
	}

	m, err := slot(state, "momentum", w)
	if err != nil {
		return err
	}
	if err := w.CheckStructure(grads); err != nil {
		return err
	}
	for i := range w {
		floats.Scale(o.momentum, m[i].Data)
		floats.Add(m[i].Data, grads[i].Data)
		floats.AddScaled(w[i].Data, -o.lr, m[i].Data)
	}
	state.Step++

	return nil
}

type adam struct {
	lr, beta1, beta2, eps float64
}

func Adam(lr, beta1, beta2, eps float64) Optimizer {
	return adam{lr: lr, beta1: beta1, beta2: beta2, eps: eps}
}

func (adam) Name() string { return NameAdam }

func (adam) Init(w tensor.Weights) State {
	return State{Slots: map[string]tensor.Weights{
		"m": w.ZerosLike(),
		"v": w.ZerosLike(),
	}}
}

func (o adam) Apply(state *State, w, grads tensor.Weights) error {
	m, err := slot(state, "m", w)
	if err != nil {
		return err
	}
	v, err := slot(state, "v", w)
	if err != nil {
		return err
	}
	if err := w.CheckStructure(grads); err != nil {
		return err
	}

	state.Step++
	t := float64(state.Step)
	lr := o.lr * math.Sqrt(1-math.Pow(o.beta2, t)) / (1 - math.Pow(o.beta1, t))
	for i := range w {
		for j, g := range grads[i].Data {
			m[i].Data[j] = o.beta1*m[i].Data[j] + (1-o.beta1)*g
			v[i].Data[j] = o.beta2*v[i].Data[j] + (1-o.beta2)*g*g
			w[i].Data[j] -= lr * m[i].Data[j] / (math.Sqrt(v[i].Data[j]) + o.eps)
		}
	}

	return nil
}

type adagrad struct {
	lr, initial, eps float64
}

func Adagrad(lr, initialAccumulator, eps float64) Optimizer {
	return adagrad{lr: lr, initial: initialAccumulator, eps: eps}
}

func (adagrad) Name() string { return NameAdagrad }

func (o adagrad) Init(w tensor.Weights) State {
	acc := w.ZerosLike()
	for i := range acc {
		for j := range acc[i].Data {
			acc[i].Data[j] = o.initial
		}
	}

	return State{Slots: map[string]tensor.Weights{"accumulator": acc}}
}

func (o adagrad) Apply(state *State, w, grads tensor.Weights) error {
	acc, err := slot(state, "accumulator", w)
	if err != nil {
		return err
	}
	if err := w.CheckStructure(grads); err != nil {
		return err
	}

	for i := range w {
		for j, g := range grads[i].Data {
			acc[i].Data[j] += g * g
			w[i].Data[j] -= o.lr * g / (math.Sqrt(acc[i].Data[j]) + o.eps)
		}
	}
	state.Step++

	return nil
}

func slot(state *State, name string, w tensor.Weights) (tensor.Weights, error) {
	s, ok := state.Slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: optimizer state has no %q slot", pkgerrors.ErrShapeMismatch, name)
	}
	if err := w.CheckStructure(s); err != nil {
		return nil, err
	}

	return s, nil
}
