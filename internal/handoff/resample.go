package handoff

import (
	"sort"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Resample interpolates values sampled on src onto dst. Points outside the
// source range take the nearest end value. src must be strictly increasing
// and the same length as values.
func Resample(src, values, dst []float64, method types.ResampleMethod) []float64 {
	out := make([]float64, len(dst))
	if len(values) == 0 {
		return out
	}
	if len(values) == 1 {
		for i := range out {
			out[i] = values[0]
		}
		return out
	}
	last := len(src) - 1
	for i, x := range dst {
		switch {
		case x <= src[0]:
			out[i] = values[0]
			continue
		case x >= src[last]:
			out[i] = values[last]
			continue
		}
		// src[j-1] < x <= src[j]
		j := sort.SearchFloat64s(src, x)
		x0, x1 := src[j-1], src[j]
		y0, y1 := values[j-1], values[j]
		if method == types.ResampleNearest {
			if x-x0 < x1-x {
				out[i] = y0
			} else {
				out[i] = y1
			}
			continue
		}
		frac := (x - x0) / (x1 - x0)
		out[i] = y0 + frac*(y1-y0)
	}
	return out
}
