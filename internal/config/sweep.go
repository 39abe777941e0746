package config

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// DefaultSweepPrefix names generated scenarios when the sweep has no prefix.
const DefaultSweepPrefix = "scn"

// Expand returns the cartesian product of the sweep grid over its base
// params. Parameters are ordered by name and the last one varies fastest,
// so the same sweep always yields the same ids in the same order.
func Expand(s types.SweepConfig) []types.ScenarioConfig {
	prefix := s.Prefix
	if prefix == "" {
		prefix = DefaultSweepPrefix
	}
	names := slices.Sorted(maps.Keys(s.Grid))
	total := 1
	for _, n := range names {
		total *= len(s.Grid[n])
	}
	if len(names) == 0 || total == 0 {
		return nil
	}

	out := make([]types.ScenarioConfig, 0, total)
	idx := make([]int, len(names))
	for i := range total {
		params := maps.Clone(s.Base)
		if params == nil {
			params = make(map[string]float64, len(names))
		}
		for k, n := range names {
			params[n] = s.Grid[n][idx[k]]
		}
		out = append(out, types.ScenarioConfig{
			ID:     fmt.Sprintf("%s-%04d", prefix, i+1),
			Params: params,
		})

		for k := len(names) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < len(s.Grid[names[k]]) {
				break
			}
			idx[k] = 0
		}
	}
	return out
}

// Scenarios returns every scenario of the project: the expanded sweep
// followed by the explicit scenarios. Project stage defaults are merged
// under each scenario's own stage settings.
func Scenarios(cfg *types.ProjectConfig) ([]types.ScenarioConfig, error) {
	var out []types.ScenarioConfig
	if cfg.Sweep != nil {
		out = append(out, Expand(*cfg.Sweep)...)
	}
	out = append(out, cfg.Scenarios...)

	seen := make(map[string]bool, len(out))
	for i := range out {
		if seen[out[i].ID] {
			return nil, fmt.Errorf("duplicate scenario id %q", out[i].ID)
		}
		seen[out[i].ID] = true
		out[i].StageA = mergeStage(cfg.StageA, out[i].StageA)
		out[i].StageB = mergeStage(cfg.StageB, out[i].StageB)
	}
	return out, nil
}

func mergeStage(def, own types.StageConfig) types.StageConfig {
	merged := def
	if own.Backend.Type != "" || own.Backend.Command != "" || own.Backend.Model != "" ||
		own.Backend.StateMachineARN != "" || own.Backend.FunctionName != "" {
		merged.Backend = own.Backend
	}
	if own.Timeout != "" {
		merged.Timeout = own.Timeout
	}
	if len(def.Params)+len(own.Params) > 0 {
		merged.Params = make(map[string]float64, len(def.Params)+len(own.Params))
		maps.Copy(merged.Params, def.Params)
		maps.Copy(merged.Params, own.Params)
	}
	return merged
}
