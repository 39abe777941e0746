package types

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// StateSnapshot is the state of a running stage at one simulation time.
// Scalars hold 0-D channels (plasma current, stored energy, ...) and Profiles
// hold 1-D radial profiles sampled on the stage's own grid.
type StateSnapshot struct {
	Time     float64              `json:"t"`
	Scalars  map[string]float64   `json:"scalars,omitempty"`
	Profiles map[string][]float64 `json:"profiles,omitempty"`
}

// Scalar returns a scalar channel value.
func (s StateSnapshot) Scalar(name string) (float64, bool) {
	v, ok := s.Scalars[name]
	return v, ok
}

// Profile returns a profile channel.
func (s StateSnapshot) Profile(name string) ([]float64, bool) {
	p, ok := s.Profiles[name]
	return p, ok
}

// Clone returns a deep copy that shares no memory with s.
func (s StateSnapshot) Clone() StateSnapshot {
	out := StateSnapshot{Time: s.Time}
	if s.Scalars != nil {
		out.Scalars = make(map[string]float64, len(s.Scalars))
		for k, v := range s.Scalars {
			out.Scalars[k] = v
		}
	}
	if s.Profiles != nil {
		out.Profiles = make(map[string][]float64, len(s.Profiles))
		for k, v := range s.Profiles {
			out.Profiles[k] = append([]float64(nil), v...)
		}
	}
	return out
}

// ScalarNames returns the scalar channel names in sorted order.
func (s StateSnapshot) ScalarNames() []string {
	return sortedKeys(s.Scalars)
}

// ProfileNames returns the profile channel names in sorted order.
func (s StateSnapshot) ProfileNames() []string {
	return sortedKeys(s.Profiles)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConditionMatch records one trigger condition that held at the trigger snapshot.
type ConditionMatch struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Channel   string  `json:"channel"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// TriggerEvent marks the snapshot at which Stage A left its validity regime.
type TriggerEvent struct {
	Time       float64          `json:"time"`
	Index      int              `json:"index"`
	Snapshot   StateSnapshot    `json:"snapshot"`
	Conditions []ConditionMatch `json:"conditions"`
}

// DetectionResult is the outcome of scanning a Stage A series. Triggered is
// false when the series ended without any condition holding; that is a valid
// physical outcome, not an error.
type DetectionResult struct {
	Triggered bool          `json:"triggered"`
	Event     *TriggerEvent `json:"event,omitempty"`
	Consumed  int           `json:"consumed"`
}

// FieldViolation describes one Stage B initial field that failed validation.
type FieldViolation struct {
	Field  string   `json:"field"`
	Source string   `json:"source"`
	Value  float64  `json:"value"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Reason string   `json:"reason"`
}

// HandoffRecord is the validated initial-condition set for Stage B. It owns
// its data: nothing in it aliases the Stage A snapshot it was built from.
type HandoffRecord struct {
	ScenarioID string               `json:"scenarioId"`
	Time       float64              `json:"time"`
	Scalars    map[string]float64   `json:"scalars,omitempty"`
	Profiles   map[string][]float64 `json:"profiles,omitempty"`
	Grid       []float64            `json:"grid,omitempty"`
	Accepted   bool                 `json:"accepted"`
	Violations []FieldViolation     `json:"violations,omitempty"`
}

// ViolatedFields returns the names of the rejected fields in mapping order.
func (h HandoffRecord) ViolatedFields() []string {
	out := make([]string, 0, len(h.Violations))
	for _, v := range h.Violations {
		out = append(out, v.Field)
	}
	return out
}

// StageResult is the immutable outcome of one stage run.
type StageResult struct {
	Stage           StageName       `json:"stage"`
	Backend         string          `json:"backend"`
	Status          StageStatus     `json:"status"`
	Series          []StateSnapshot `json:"series"`
	Message         string          `json:"message,omitempty"`
	FailureCategory FailureCategory `json:"failureCategory,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	Duration        time.Duration   `json:"duration"`

	// Stopped is set when the run was ended early by its stop condition.
	Stopped bool `json:"stopped,omitempty"`
}

// Succeeded reports whether the backend ran to completion.
func (r StageResult) Succeeded() bool { return r.Status == StageSuccess }

// Series is a numeric column that encodes non-finite values as JSON null.
type Series []float64

// MarshalJSON implements json.Marshaler.
func (s Series) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(s))
	for i := range s {
		if math.IsNaN(s[i]) || math.IsInf(s[i], 0) {
			continue
		}
		out[i] = &s[i]
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Series) UnmarshalJSON(data []byte) error {
	var in []*float64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := make(Series, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*s = out
	return nil
}

// ChannelInfo describes one channel of a unified signal.
type ChannelInfo struct {
	Name   string        `json:"name"`
	Kind   ChannelKind   `json:"kind"`
	Source ChannelSource `json:"source"`
	Fill   FillPolicy    `json:"fill"`
}

// Signal flag kinds.
const (
	FlagOmitted = "omitted"
	FlagGap     = "gap"
)

// SignalFlag marks a region of a unified signal that consumers should treat
// specially: omitted channel samples or an over-long sampling gap.
type SignalFlag struct {
	Kind    string  `json:"kind"`
	Channel string  `json:"channel,omitempty"`
	From    int     `json:"from"`
	To      int     `json:"to"`
	Message string  `json:"message,omitempty"`
	Span    float64 `json:"span,omitempty"`
}

// UnifiedSignal is the stitched Stage A + Stage B time series on a single
// strictly increasing time axis. HandoffIndex is the index of the first
// Stage B sample, i.e. the regime boundary.
type UnifiedSignal struct {
	ScenarioID   string              `json:"scenarioId"`
	Times        []float64           `json:"times"`
	HandoffIndex int                 `json:"handoffIndex"`
	HandoffTime  float64             `json:"handoffTime"`
	Channels     []ChannelInfo       `json:"channels"`
	Scalars      map[string]Series   `json:"scalars,omitempty"`
	Profiles     map[string][]Series `json:"profiles,omitempty"`
	Present      map[string][]bool   `json:"present,omitempty"`
	Flags        []SignalFlag        `json:"flags,omitempty"`
}

// Len returns the number of samples.
func (u UnifiedSignal) Len() int { return len(u.Times) }

// Channel returns the channel descriptor by name.
func (u UnifiedSignal) Channel(name string) (ChannelInfo, bool) {
	for _, c := range u.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ChannelInfo{}, false
}
