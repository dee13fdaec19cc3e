package mirv

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Search strategies.
const (
	SearchDFS        = "dfs"
	SearchBFS        = "bfs"
	SearchRandom     = "random"
	SearchRandomPath = "random-path"
	SearchMulti      = "multi"
)

// Config represents the settings for an Executor.
type Config struct {
	Mode   Mode   `yaml:"mode"`
	Search string `yaml:"search"`
	Seed   int64  `yaml:"seed"`

	// Per-path limits. A path exceeding a limit is undetermined.
	MaxSteps       int           `yaml:"max-steps"`
	MaxSolverCalls int           `yaml:"max-solver-calls"`
	SolverTimeout  time.Duration `yaml:"solver-timeout"`
	MaxCallDepth   int           `yaml:"max-call-depth"`

	// Bounds on symbolic inputs.
	MaxSliceLen   int `yaml:"max-slice-len"`
	MaxInputDepth int `yaml:"max-input-depth"`

	// Maximum number of paths explored before giving up.
	MaxPaths int `yaml:"max-paths"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeConcrete,
		Search:         SearchDFS,
		MaxSteps:       1000000,
		MaxSolverCalls: 10000,
		SolverTimeout:  10 * time.Second,
		MaxCallDepth:   256,
		MaxSliceLen:    4,
		MaxInputDepth:  2,
		MaxPaths:       10000,
	}
}

// LoadConfig reads a YAML file over the default configuration.
func LoadConfig(filename string) (Config, error) {
	config := DefaultConfig()

	buf, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	} else if err := yaml.Unmarshal(buf, &config); err != nil {
		return config, errors.Wrapf(err, "config: %s", filename)
	} else if err := config.Validate(); err != nil {
		return config, errors.Wrapf(err, "config: %s", filename)
	}
	return config, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeConcrete, ModeSymbolic:
	default:
		return fmt.Errorf("invalid mode: %q", c.Mode)
	}
	switch c.Search {
	case "", SearchDFS, SearchBFS, SearchRandom, SearchRandomPath, SearchMulti:
	default:
		return fmt.Errorf("invalid search strategy: %q", c.Search)
	}
	if c.MaxSteps < 0 || c.MaxSolverCalls < 0 || c.MaxCallDepth < 0 || c.MaxPaths < 0 {
		return errors.New("limits must not be negative")
	} else if c.MaxSliceLen < 0 || c.MaxInputDepth < 0 {
		return errors.New("input bounds must not be negative")
	}
	return nil
}

// newSearcher returns the searcher named by the configuration.
func (c *Config) newSearcher(e *Executor) Searcher {
	switch c.Search {
	case SearchBFS:
		return NewBFSSearcher()
	case SearchRandom:
		return NewRandomSearcher(rand.New(rand.NewSource(c.Seed)))
	case SearchRandomPath:
		return NewRandomPathSearcher(e, rand.New(rand.NewSource(c.Seed)))
	case SearchMulti:
		return NewMultiSearcher(NewDFSSearcher(), NewRandomPathSearcher(e, rand.New(rand.NewSource(c.Seed))))
	default:
		return NewDFSSearcher()
	}
}
