package experiment

import (
	"context"
	"log/slog"

	"github.com/absmach/fedsim"
)

// SetRunnerBuilder replaces how s builds runners. It must be called before
// the first run.
func SetRunnerBuilder(s Service, build func(context.Context, fedsim.Config, *slog.Logger) (*Runner, error)) {
	s.(*service).newRunner = build
}
