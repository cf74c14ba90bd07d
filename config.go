package fedsim

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/fedsim/pkg/aggregator"
	"github.com/absmach/fedsim/pkg/baselines"
	"github.com/absmach/fedsim/pkg/baselines/emnist"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/learning"
	"github.com/absmach/fedsim/pkg/optimizer"
	"github.com/pelletier/go-toml"
)

const (
	TaskCharacterRecognition = "character_recognition"
	TaskAutoencoder          = "autoencoder"

	CheckpointNone   = "none"
	CheckpointFile   = "file"
	CheckpointBadger = "badger"
)

// Config describes one experiment. Zero values are replaced with defaults by
// LoadConfig and ParseConfig.
type Config struct {
	Experiment      ExperimentConfig     `toml:"experiment"        json:"experiment"`
	Task            TaskConfig           `toml:"task"              json:"task"`
	TrainClientSpec baselines.ClientSpec `toml:"train_client_spec" json:"train_client_spec"`
	// EvalClientSpec left zero disables federated evaluation.
	EvalClientSpec  baselines.ClientSpec `toml:"eval_client_spec"  json:"eval_client_spec"`
	Process         ProcessConfig        `toml:"process"           json:"process"`
	ClientOptimizer optimizer.Config     `toml:"client_optimizer"  json:"client_optimizer"`
	ServerOptimizer optimizer.Config     `toml:"server_optimizer"  json:"server_optimizer"`
	Aggregator      aggregator.Config    `toml:"aggregator"        json:"aggregator"`
	Checkpoint      CheckpointConfig     `toml:"checkpoint"        json:"checkpoint"`
}

type ExperimentConfig struct {
	Name            string `toml:"name"              json:"name,omitempty"`
	Seed            uint64 `toml:"seed"              json:"seed"`
	Rounds          int    `toml:"rounds"            json:"rounds"`
	ClientsPerRound int    `toml:"clients_per_round" json:"clients_per_round"`
	// EvalEvery runs evaluation on the test split every n rounds; 0 never.
	EvalEvery int `toml:"eval_every" json:"eval_every,omitempty"`
}

type TaskConfig struct {
	Kind       string `toml:"kind"               json:"kind"`
	ModelID    string `toml:"model_id"           json:"model_id"`
	OnlyDigits bool   `toml:"only_digits"        json:"only_digits"`
	Synthetic  bool   `toml:"use_synthetic_data" json:"use_synthetic_data"`
	// TrainDB and TestDB are SQLite files written by sqlite.Import.
	TrainDB       string          `toml:"train_db"  json:"train_db,omitempty"`
	TestDB        string          `toml:"test_db"   json:"test_db,omitempty"`
	SyntheticData SyntheticConfig `toml:"synthetic" json:"synthetic"`
}

type SyntheticConfig struct {
	TrainClients      int     `toml:"train_clients"       json:"train_clients"`
	TestClients       int     `toml:"test_clients"        json:"test_clients"`
	ExamplesPerClient int     `toml:"examples_per_client" json:"examples_per_client"`
	FlipProbability   float64 `toml:"flip_probability"    json:"flip_probability"`
}

type ProcessConfig struct {
	// Parallelism of 0 trains GOMAXPROCS clients at once.
	Parallelism     int    `toml:"parallelism"      json:"parallelism,omitempty"`
	StragglerPolicy string `toml:"straggler_policy" json:"straggler_policy,omitempty"`
	ClientTimeout   string `toml:"client_timeout"   json:"client_timeout,omitempty"`
}

type CheckpointConfig struct {
	Backend string `toml:"backend" json:"backend,omitempty"`
	Dir     string `toml:"dir"     json:"dir,omitempty"`
	// Every saves the state every n rounds; the final round is always saved.
	Every int `toml:"every" json:"every,omitempty"`
	// Resume continues from the latest checkpoint of the experiment.
	Resume bool `toml:"resume" json:"resume,omitempty"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes a TOML experiment, fills defaults and validates it.
func ParseConfig(data []byte) (Config, error) {
	tree, err := toml.Load(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("%w: error parsing config file: %w", pkgerrors.ErrConfiguration, err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: error unmarshaling config: %w", pkgerrors.ErrConfiguration, err)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.Experiment.Rounds == 0 {
		c.Experiment.Rounds = 10
	}
	if c.Experiment.ClientsPerRound == 0 {
		c.Experiment.ClientsPerRound = 10
	}
	if c.Task.Kind == "" {
		c.Task.Kind = TaskCharacterRecognition
	}
	if c.Task.ModelID == "" {
		c.Task.ModelID = string(emnist.CNNDropout)
	}
	if c.Task.SyntheticData == (SyntheticConfig{}) {
		d := emnist.DefaultSyntheticConfig()
		c.Task.SyntheticData = SyntheticConfig{
			TrainClients:      d.TrainClients,
			TestClients:       d.TestClients,
			ExamplesPerClient: d.ExamplesPerClient,
			FlipProbability:   d.FlipProbability,
		}
	}
	c.TrainClientSpec = specDefaults(c.TrainClientSpec)
	if c.EvalEnabled() {
		c.EvalClientSpec = specDefaults(c.EvalClientSpec)
	}
	if c.ClientOptimizer.LearningRate == 0 {
		c.ClientOptimizer.LearningRate = 0.1
	}
	if c.ServerOptimizer.LearningRate == 0 {
		c.ServerOptimizer.LearningRate = 1
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = CheckpointNone
	}

	return c
}

func specDefaults(cs baselines.ClientSpec) baselines.ClientSpec {
	if cs.NumEpochs == 0 {
		cs.NumEpochs = 1
	}
	if cs.BatchSize == 0 {
		cs.BatchSize = 20
	}
	if cs.MaxElements == 0 {
		cs.MaxElements = baselines.Unbounded
	}

	return cs
}

// EvalEnabled reports whether an eval client spec was given.
func (c Config) EvalEnabled() bool {
	return c.EvalClientSpec != (baselines.ClientSpec{})
}

// ClientTimeout parses Process.ClientTimeout; empty means no bound.
func (c Config) ClientTimeout() (time.Duration, error) {
	if c.Process.ClientTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Process.ClientTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: invalid client_timeout %q", pkgerrors.ErrConfiguration, c.Process.ClientTimeout)
	}

	return d, nil
}

func (c Config) Validate() error {
	switch {
	case c.Experiment.Rounds <= 0:
		return fmt.Errorf("%w: rounds must be positive", pkgerrors.ErrConfiguration)
	case c.Experiment.ClientsPerRound <= 0:
		return fmt.Errorf("%w: clients_per_round must be positive", pkgerrors.ErrConfiguration)
	case c.Experiment.EvalEvery < 0:
		return fmt.Errorf("%w: eval_every must not be negative", pkgerrors.ErrConfiguration)
	case c.Process.Parallelism < 0:
		return fmt.Errorf("%w: parallelism must not be negative", pkgerrors.ErrConfiguration)
	case !c.Task.Synthetic && c.Task.TrainDB == "":
		return fmt.Errorf("%w: train_db is required without use_synthetic_data", pkgerrors.ErrConfiguration)
	case c.Experiment.EvalEvery > 0 && !c.EvalEnabled():
		return fmt.Errorf("%w: eval_every needs an eval_client_spec", pkgerrors.ErrConfiguration)
	}

	switch c.Task.Kind {
	case TaskCharacterRecognition:
		if _, err := emnist.ParseModelID(c.Task.ModelID); err != nil {
			return err
		}
	case TaskAutoencoder:
	default:
		return fmt.Errorf("%w: unknown task kind %q", pkgerrors.ErrConfiguration, c.Task.Kind)
	}
	if err := c.TrainClientSpec.Validate(); err != nil {
		return fmt.Errorf("train_client_spec: %w", err)
	}
	if c.EvalEnabled() {
		if err := c.EvalClientSpec.Validate(); err != nil {
			return fmt.Errorf("eval_client_spec: %w", err)
		}
	}
	if _, err := optimizer.New(c.ClientOptimizer); err != nil {
		return fmt.Errorf("client_optimizer: %w", err)
	}
	if _, err := optimizer.New(c.ServerOptimizer); err != nil {
		return fmt.Errorf("server_optimizer: %w", err)
	}
	if _, err := learning.ParseStragglerPolicy(c.Process.StragglerPolicy); err != nil {
		return err
	}
	if _, err := c.ClientTimeout(); err != nil {
		return err
	}

	switch c.Aggregator.Kind {
	case "", aggregator.KindWeightedMean, aggregator.KindSecure:
	case aggregator.KindWasm:
		if c.Aggregator.WasmPath == "" {
			return fmt.Errorf("%w: wasm aggregator needs wasm_path", pkgerrors.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown aggregator %q", pkgerrors.ErrConfiguration, c.Aggregator.Kind)
	}

	switch c.Checkpoint.Backend {
	case CheckpointNone:
	case CheckpointFile, CheckpointBadger:
		if c.Checkpoint.Dir == "" {
			return fmt.Errorf("%w: checkpoint dir is required for %s", pkgerrors.ErrConfiguration, c.Checkpoint.Backend)
		}
		if c.Checkpoint.Every < 0 {
			return fmt.Errorf("%w: checkpoint every must not be negative", pkgerrors.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown checkpoint backend %q", pkgerrors.ErrConfiguration, c.Checkpoint.Backend)
	}

	return nil
}
