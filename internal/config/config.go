// Package config handles loading and validation of tokamaksim.yaml project configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/tokamaksim/internal/detector"
	"github.com/dwsmith1983/tokamaksim/internal/handoff"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// FileName is the project config file looked up by Load.
const FileName = "tokamaksim.yaml"

// Defaults applied to unset fields.
const (
	DefaultWorkers   = 4
	DefaultOutputDir = "output"
)

// Load reads and parses tokamaksim.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile reads, parses and validates a project config file. Relative
// output and alert paths are resolved against the file's directory.
func LoadFile(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	resolvePaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates a config document. Unknown keys are rejected.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = DefaultOutputDir
	}
	if cfg.DrainOnStop == nil {
		drain := true
		cfg.DrainOnStop = &drain
	}
}

func resolvePaths(cfg *types.ProjectConfig, base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.Output.Dir = abs(cfg.Output.Dir)
	cfg.Output.SQLite = abs(cfg.Output.SQLite)
	for i := range cfg.Alerts {
		cfg.Alerts[i].Path = abs(cfg.Alerts[i].Path)
	}
}

// Validate checks an already-decoded config.
func Validate(cfg *types.ProjectConfig) error {
	return validate(cfg)
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if _, err := detector.New(cfg.Pipeline.Trigger); err != nil {
		return fmt.Errorf("pipeline.trigger: %w", err)
	}
	if err := handoff.ValidateSpec(cfg.Pipeline.Handoff); err != nil {
		return fmt.Errorf("pipeline.handoff: %w", err)
	}
	if err := validateCombiner(cfg.Pipeline.Combiner); err != nil {
		return fmt.Errorf("pipeline.combiner: %w", err)
	}
	if err := validateRetry(cfg.Retry); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	for name, sc := range map[string]types.StageConfig{"stageA": cfg.StageA, "stageB": cfg.StageB} {
		if err := validateStage(sc); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if d := cfg.Output.DynamoDB; d != nil && d.TableName == "" {
		return fmt.Errorf("output.dynamodb.tableName is required")
	}
	for i, a := range cfg.Alerts {
		if err := validateAlert(a); err != nil {
			return fmt.Errorf("alerts[%d]: %w", i, err)
		}
	}
	if cfg.Sweep != nil {
		if err := validateSweep(*cfg.Sweep); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
	}
	if cfg.Sweep == nil && len(cfg.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario or a sweep is required")
	}

	seen := make(map[string]bool)
	for i, sc := range cfg.Scenarios {
		if sc.ID == "" {
			return fmt.Errorf("scenarios[%d]: id is required", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		seen[sc.ID] = true
	}
	return nil
}

func validateCombiner(c types.CombinerSpec) error {
	check := func(what string, p types.FillPolicy) error {
		switch p {
		case "", types.FillHoldLast, types.FillSentinel, types.FillOmitAndFlag:
			return nil
		}
		return fmt.Errorf("%s: unknown fill policy %q", what, p)
	}
	if err := check("scalarFill", c.ScalarFill); err != nil {
		return err
	}
	if err := check("profileFill", c.ProfileFill); err != nil {
		return err
	}
	for name, ch := range c.Channels {
		if err := check("channels."+name, ch.Fill); err != nil {
			return err
		}
	}
	if c.MaxSampleInterval < 0 || math.IsNaN(c.MaxSampleInterval) {
		return fmt.Errorf("maxSampleInterval must be non-negative")
	}
	return nil
}

func validateRetry(r types.RetryPolicy) error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("maxAttempts must be non-negative")
	}
	for _, d := range []string{r.BackoffBase, r.BackoffMax} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}
	for _, c := range r.RetryOn {
		switch c {
		case types.FailureTransient, types.FailureTimeout, types.FailureBackendCrash, types.FailurePermanent:
		default:
			return fmt.Errorf("unknown failure category %q", c)
		}
	}
	return nil
}

func validateStage(sc types.StageConfig) error {
	if sc.Timeout != "" {
		d, err := time.ParseDuration(sc.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("timeout %q is not a positive duration", sc.Timeout)
		}
	}
	switch sc.Backend.Type {
	case "", types.BackendPhenom:
	case types.BackendProcess:
		if sc.Backend.Command == "" {
			return fmt.Errorf("process backend requires command")
		}
	case types.BackendStepFunction:
		if sc.Backend.StateMachineARN == "" {
			return fmt.Errorf("step-function backend requires stateMachineArn")
		}
	case types.BackendLambda:
		if sc.Backend.FunctionName == "" {
			return fmt.Errorf("lambda backend requires functionName")
		}
	default:
		return fmt.Errorf("unknown backend type %q", sc.Backend.Type)
	}
	return nil
}

func validateAlert(a types.AlertConfig) error {
	switch a.Type {
	case types.AlertConsole:
	case types.AlertFile:
		if a.Path == "" {
			return fmt.Errorf("file alert requires path")
		}
	case types.AlertEventBridge:
		if a.EventBusName == "" {
			return fmt.Errorf("eventbridge alert requires eventBusName")
		}
	default:
		return fmt.Errorf("unknown alert type %q", a.Type)
	}
	return nil
}

func validateSweep(s types.SweepConfig) error {
	if len(s.Grid) == 0 {
		return fmt.Errorf("grid must name at least one parameter")
	}
	for name, values := range s.Grid {
		if len(values) == 0 {
			return fmt.Errorf("grid.%s has no values", name)
		}
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("grid.%s contains a non-finite value", name)
			}
		}
	}
	return nil
}
