package emnist

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
)

const (
	Height = 28
	Width  = 28

	strokesPerGlyph = 3
	strokeRadius    = 1.0
)

// RawElementSpec is the structure of an unprocessed example: a 28x28 grey
// image and a scalar class label.
var RawElementSpec = tensor.ElementSpec{
	X: tensor.NewSpec(tensor.Float32, Height, Width),
	Y: tensor.NewSpec(tensor.Int32),
}

// SyntheticConfig sizes a synthetic population.
type SyntheticConfig struct {
	TrainClients      int
	TestClients       int
	ExamplesPerClient int
	// FlipProbability is the chance of inverting any single pixel.
	FlipProbability float64
	Seed            uint64
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		TrainClients:      100,
		TestClients:       20,
		ExamplesPerClient: 40,
		FlipProbability:   0.03,
	}
}

// SyntheticData generates train and test populations of stroke glyphs, one
// glyph per class. Train and test share glyphs; every client draws with its
// own pixel offset, like a writer with a personal style.
func SyntheticData(onlyDigits bool, cfg SyntheticConfig) (train, test data.ClientData, err error) {
	if cfg.TrainClients <= 0 || cfg.ExamplesPerClient <= 0 || cfg.TestClients < 0 {
		return nil, nil, fmt.Errorf("%w: synthetic population %+v", pkgerrors.ErrConfiguration, cfg)
	}
	if cfg.FlipProbability < 0 || cfg.FlipProbability >= 0.5 {
		return nil, nil, fmt.Errorf("%w: flip probability %v not in [0, 0.5)", pkgerrors.ErrConfiguration, cfg.FlipProbability)
	}

	glyphs := makeGlyphs(numClasses(onlyDigits), rand.New(rand.NewPCG(cfg.Seed, 0)))
	if train, err = population(glyphs, "f", cfg.TrainClients, cfg, 1); err != nil {
		return nil, nil, err
	}
	if test, err = population(glyphs, "t", cfg.TestClients, cfg, 2); err != nil {
		return nil, nil, err
	}

	return train, test, nil
}

func population(glyphs [][]float64, prefix string, clients int, cfg SyntheticConfig, stream uint64) (data.ClientData, error) {
	out := make(map[string][]data.Example, clients)
	for c := range clients {
		rng := rand.New(rand.NewPCG(cfg.Seed+uint64(c), stream))
		dx, dy := rng.IntN(3)-1, rng.IntN(3)-1
		examples := make([]data.Example, cfg.ExamplesPerClient)
		for i := range examples {
			label := rng.IntN(len(glyphs))
			examples[i] = data.Example{
				X: render(glyphs[label], dx, dy, cfg.FlipProbability, rng),
				Y: []float64{float64(label)},
			}
		}
		out[fmt.Sprintf("%s%04d", prefix, c)] = examples
	}

	return data.NewInMemoryClientData(RawElementSpec, out)
}

func makeGlyphs(classes int, rng *rand.Rand) [][]float64 {
	glyphs := make([][]float64, classes)
	for g := range glyphs {
		img := make([]float64, Height*Width)
		for range strokesPerGlyph {
			x0, y0 := 4+rng.Float64()*19, 4+rng.Float64()*19
			x1, y1 := 4+rng.Float64()*19, 4+rng.Float64()*19
			for y := range Height {
				for x := range Width {
					if segmentDistance(float64(x), float64(y), x0, y0, x1, y1) <= strokeRadius {
						img[y*Width+x] = 1
					}
				}
			}
		}
		glyphs[g] = img
	}

	return glyphs
}

func render(glyph []float64, dx, dy int, flip float64, rng *rand.Rand) []float64 {
	img := make([]float64, Height*Width)
	for y := range Height {
		for x := range Width {
			sx, sy := x-dx, y-dy
			if sx >= 0 && sx < Width && sy >= 0 && sy < Height {
				img[y*Width+x] = glyph[sy*Width+sx]
			}
			if rng.Float64() < flip {
				img[y*Width+x] = 1 - img[y*Width+x]
			}
		}
	}

	return img
}

func segmentDistance(px, py, x0, y0, x1, y1 float64) float64 {
	vx, vy := x1-x0, y1-y0
	l2 := vx*vx + vy*vy
	t := 0.0
	if l2 > 0 {
		t = math.Max(0, math.Min(1, ((px-x0)*vx+(py-y0)*vy)/l2))
	}

	return math.Hypot(px-(x0+t*vx), py-(y0+t*vy))
}
