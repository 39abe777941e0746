package combiner

import (
	"math"
	"sort"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// column is one channel laid out over the unified samples.
type column[T any] struct {
	policy   types.FillPolicy
	clone    func(T) T
	sentinel func(shape T) T
	absent   func() T

	values  []T
	present []bool
	missing int

	// Stage A's value at the trigger snapshot, which is dropped at the seam
	// but still anchors hold-last into the Stage B range.
	seam    T
	hasSeam bool
}

func (c *column[T]) collect(samples []types.StateSnapshot, seam types.StateSnapshot, get func(types.StateSnapshot) (T, bool)) {
	c.values = make([]T, len(samples))
	c.present = make([]bool, len(samples))
	for i, s := range samples {
		v, ok := get(s)
		if !ok {
			c.missing++
			continue
		}
		c.values[i] = c.clone(v)
		c.present[i] = true
	}
	c.seam, c.hasSeam = get(seam)
}

// fill resolves absent samples according to the column's policy. handoff is
// the index of the first Stage B sample.
func (c *column[T]) fill(handoff int) {
	if c.missing == 0 {
		return
	}
	switch c.policy {
	case types.FillHoldLast:
		c.holdLast(handoff)
	case types.FillSentinel:
		shape, ok := c.firstPresent()
		if !ok {
			shape = c.seam
		}
		for i, p := range c.present {
			if !p {
				c.values[i] = c.sentinel(shape)
			}
		}
	default:
		for i, p := range c.present {
			if !p {
				c.values[i] = c.absent()
			}
		}
	}
}

// holdLast carries the latest value forward. Samples before the first
// observation take that observation backward.
func (c *column[T]) holdLast(handoff int) {
	filled := make([]bool, len(c.values))
	var last T
	has := false
	for i := range c.values {
		if i == handoff && c.hasSeam {
			last, has = c.seam, true
		}
		if c.present[i] {
			last, has = c.values[i], true
			filled[i] = true
			continue
		}
		if has {
			c.values[i] = c.clone(last)
			filled[i] = true
		}
	}
	first := -1
	for i, f := range filled {
		if f {
			first = i
			break
		}
	}
	if first < 0 {
		for i := range c.values {
			c.values[i] = c.absent()
		}
		return
	}
	for i := 0; i < first; i++ {
		c.values[i] = c.clone(c.values[first])
	}
}

func (c *column[T]) firstPresent() (T, bool) {
	for i, p := range c.present {
		if p {
			return c.values[i], true
		}
	}
	var zero T
	return zero, false
}

// fillPolicy resolves the policy for a channel: per-channel override, then
// the per-kind default from spec, then hold-last for scalars and
// omit-and-flag for profiles.
func fillPolicy(spec types.CombinerSpec, name string, kind types.ChannelKind) types.FillPolicy {
	if cf, ok := spec.Channels[name]; ok && cf.Fill != "" {
		return cf.Fill
	}
	if kind == types.KindProfile {
		if spec.ProfileFill != "" {
			return spec.ProfileFill
		}
		return types.FillOmitAndFlag
	}
	if spec.ScalarFill != "" {
		return spec.ScalarFill
	}
	return types.FillHoldLast
}

func sentinelFor(spec types.CombinerSpec, name string) float64 {
	if cf, ok := spec.Channels[name]; ok && cf.Sentinel != nil {
		return *cf.Sentinel
	}
	if spec.Sentinel != nil {
		return *spec.Sentinel
	}
	return math.NaN()
}

// channelNames returns the scalar and profile channel sets of a series.
func channelNames(series []types.StateSnapshot) (scalars, profiles map[string]bool) {
	scalars = make(map[string]bool)
	profiles = make(map[string]bool)
	for _, s := range series {
		for name := range s.Scalars {
			scalars[name] = true
		}
		for name := range s.Profiles {
			profiles[name] = true
		}
	}
	return scalars, profiles
}

func union(a, b map[string]bool) []string {
	out := make([]string, 0, len(a)+len(b))
	for name := range a {
		out = append(out, name)
	}
	for name := range b {
		if !a[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
