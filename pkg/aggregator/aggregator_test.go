package aggregator_test

import (
	"context"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/absmach/fedsim/pkg/aggregator"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delta(kernel []float64, bias float64) tensor.Weights {
	k := tensor.New("dense/kernel", len(kernel))
	copy(k.Data, kernel)
	b := tensor.New("dense/bias", 1)
	b.Data[0] = bias

	return tensor.Weights{k, b}
}

func updates() []aggregator.ClientUpdate {
	return []aggregator.ClientUpdate{
		{ClientID: "f0000", Delta: delta([]float64{1, -2, 3}, 0.5), Weight: 10},
		{ClientID: "f0001", Delta: delta([]float64{-0.25, 4, 0}, -1), Weight: 30},
		{ClientID: "f0002", Delta: delta([]float64{0.125, 0.001, -7}, 2), Weight: 20},
	}
}

func expected() tensor.Weights {
	// (10*a + 30*b + 20*c) / 60
	return delta([]float64{
		(10*1 + 30*-0.25 + 20*0.125) / 60.0,
		(10*-2 + 30*4 + 20*0.001) / 60.0,
		(10*3 + 30*0 + 20*-7) / 60.0,
	}, (10*0.5+30*-1+20*2)/60.0)
}

func aggregators() []aggregator.Aggregator {
	return []aggregator.Aggregator{aggregator.NewWeightedMean(), aggregator.NewSecure()}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	for _, agg := range aggregators() {
		t.Run(agg.Name(), func(t *testing.T) {
			t.Parallel()

			in := updates()
			got, err := agg.Aggregate(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, 3, got.NumClients)
			assert.InDelta(t, 60.0, got.TotalWeight, 1e-9)
			assert.True(t, expected().Equal(got.Delta, 1e-6), "got %v", got.Delta)
			assert.Equal(t, updates(), in, "inputs must not be modified")
		})
	}
}

func TestAggregateVariantsAgree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	plain, err := aggregator.NewWeightedMean().Aggregate(ctx, updates())
	require.NoError(t, err)
	for range 3 {
		sec, err := aggregator.NewSecure().Aggregate(ctx, updates())
		require.NoError(t, err)
		assert.True(t, plain.Delta.Equal(sec.Delta, 1e-6))
		assert.Equal(t, plain.TotalWeight, sec.TotalWeight)
	}
}

func TestAggregateZeroWeight(t *testing.T) {
	t.Parallel()

	for _, agg := range aggregators() {
		in := updates()
		for i := range in {
			in[i].Weight = 0
		}
		got, err := agg.Aggregate(context.Background(), in)
		require.NoError(t, err, agg.Name())
		assert.Zero(t, got.Delta.L2Norm(), agg.Name())
		assert.Zero(t, got.TotalWeight, agg.Name())
	}
}

// buildWasmAggregator compiles examples/wasm-aggregator for wasip1.
func buildWasmAggregator(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("compiles the example wasm aggregator")
	}
	gobin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not in PATH")
	}

	out := filepath.Join(t.TempDir(), "aggregator.wasm")
	cmd := exec.Command(gobin, "build", "-o", out, "../../examples/wasm-aggregator")
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm", "CGO_ENABLED=0")
	b, err := cmd.CombinedOutput()
	require.NoError(t, err, string(b))

	return out
}

func TestWasmMatchesWeightedMean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wasm, err := aggregator.New(ctx, aggregator.Config{Kind: aggregator.KindWasm, WasmPath: buildWasmAggregator(t)})
	require.NoError(t, err)
	t.Cleanup(func() {
		if c, ok := wasm.(interface{ Close(context.Context) error }); ok {
			_ = c.Close(ctx)
		}
	})
	assert.Equal(t, aggregator.KindWasm, wasm.Name())

	zero := updates()
	for i := range zero {
		zero[i].Weight = 0
	}
	mixed := updates()
	mixed[1].Weight = 0

	cases := []struct {
		desc    string
		updates []aggregator.ClientUpdate
	}{
		{"three clients", updates()},
		{"single client", updates()[:1]},
		{"one client without examples", mixed},
		{"zero total weight", zero},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			want, err := aggregator.NewWeightedMean().Aggregate(ctx, c.updates)
			require.NoError(t, err)

			// Each call instantiates the module afresh, so repeats must agree.
			for range 2 {
				got, err := wasm.Aggregate(ctx, c.updates)
				require.NoError(t, err)
				assert.Equal(t, want.NumClients, got.NumClients)
				assert.InDelta(t, want.TotalWeight, got.TotalWeight, 1e-12)
				assert.True(t, want.Delta.Equal(got.Delta, 1e-12), "want %v, got %v", want.Delta, got.Delta)
			}
		})
	}
}

func TestAggregateErrors(t *testing.T) {
	t.Parallel()

	mismatched := updates()
	mismatched[1].Delta = delta([]float64{1, 2}, 0)
	negative := updates()
	negative[2].Weight = -1
	nan := updates()
	nan[0].Weight = math.NaN()

	cases := []struct {
		name    string
		updates []aggregator.ClientUpdate
		err     error
	}{
		{"empty", nil, pkgerrors.ErrEmptyRound},
		{"shape mismatch", mismatched, pkgerrors.ErrShapeMismatch},
		{"negative weight", negative, pkgerrors.ErrInvalidData},
		{"nan weight", nan, pkgerrors.ErrInvalidData},
	}

	for _, c := range cases {
		for _, agg := range aggregators() {
			t.Run(c.name+"/"+agg.Name(), func(t *testing.T) {
				t.Parallel()

				_, err := agg.Aggregate(context.Background(), c.updates)
				assert.ErrorIs(t, err, c.err)
			})
		}
	}
}

func TestSecureOverflow(t *testing.T) {
	t.Parallel()

	in := updates()
	in[0].Delta[0].Data[0] = 1e12
	_, err := aggregator.NewSecure().Aggregate(context.Background(), in)
	assert.ErrorIs(t, err, pkgerrors.ErrOverflow)
}

func TestNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.wasm")
	require.NoError(t, os.WriteFile(garbage, []byte("not wasm"), 0o600))

	cases := []struct {
		name string
		cfg  aggregator.Config
		kind string
		err  error
	}{
		{"default", aggregator.Config{}, aggregator.KindWeightedMean, nil},
		{"weighted mean", aggregator.Config{Kind: aggregator.KindWeightedMean}, aggregator.KindWeightedMean, nil},
		{"secure", aggregator.Config{Kind: aggregator.KindSecure}, aggregator.KindSecure, nil},
		{"unknown", aggregator.Config{Kind: "median"}, "", pkgerrors.ErrConfiguration},
		{"missing wasm", aggregator.Config{Kind: aggregator.KindWasm, WasmPath: filepath.Join(dir, "none.wasm")}, "", pkgerrors.ErrConfiguration},
		{"invalid wasm", aggregator.Config{Kind: aggregator.KindWasm, WasmPath: garbage}, "", pkgerrors.ErrConfiguration},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			agg, err := aggregator.New(ctx, c.cfg)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.kind, agg.Name())
		})
	}
}
