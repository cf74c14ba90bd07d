package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

var errWasmExit = errors.New("wasm aggregator exited with non-zero code")

// wasm delegates aggregation to a WASI command module. The module reads
// {"updates": [...]} as JSON on stdin and writes an AggregatedUpdate as JSON to
// stdout.
type wasm struct {
	runtime wazero.Runtime
	module  wazero.CompiledModule
}

// NewWasm compiles the module at path once; every Aggregate call instantiates
// it afresh.
func NewWasm(ctx context.Context, path string) (Aggregator, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: wasm aggregator: %w", pkgerrors.ErrConfiguration, err)
	}

	r := wazero.NewRuntime(ctx)
	// WASI provides the stdio and proc_exit host functions a command needs.
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		_ = r.Close(ctx)

		return nil, fmt.Errorf("%w: failed to compile wasm aggregator: %w", pkgerrors.ErrConfiguration, err)
	}

	return &wasm{runtime: r, module: compiled}, nil
}

func (w *wasm) Name() string {
	return KindWasm
}

// Close releases the runtime.
func (w *wasm) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

type wasmInput struct {
	Updates []ClientUpdate `json:"updates"`
}

func (w *wasm) Aggregate(ctx context.Context, updates []ClientUpdate) (AggregatedUpdate, error) {
	if err := validate(updates); err != nil {
		return AggregatedUpdate{}, err
	}

	in, err := json.Marshal(wasmInput{Updates: updates})
	if err != nil {
		return AggregatedUpdate{}, fmt.Errorf("failed to marshal updates: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdin(bytes.NewReader(in)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	mod, err := w.runtime.InstantiateModule(ctx, w.module, cfg)
	if err != nil {
		var exit *sys.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() != 0 {
			return AggregatedUpdate{}, errors.Join(errWasmExit, err, errors.New(stderr.String()))
		}
	}
	if mod != nil {
		_ = mod.Close(ctx)
	}

	var out AggregatedUpdate
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return AggregatedUpdate{}, fmt.Errorf("failed to unmarshal aggregated update: %w", err)
	}
	if err := updates[0].Delta.CheckStructure(out.Delta); err != nil {
		return AggregatedUpdate{}, fmt.Errorf("wasm aggregator result: %w", err)
	}

	return out, nil
}
