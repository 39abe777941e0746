package types

import "time"

// ScenarioConfig is one parameterization of the full two-stage run. It is
// created from the sweep and read-only thereafter; pass it by value.
type ScenarioConfig struct {
	ID     string             `yaml:"id" json:"id"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
	StageA StageConfig        `yaml:"stageA,omitempty" json:"stageA,omitempty"`
	StageB StageConfig        `yaml:"stageB,omitempty" json:"stageB,omitempty"`
}

// Param returns a scenario parameter or def when unset.
func (s ScenarioConfig) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// Stage returns the stage config for the given stage.
func (s ScenarioConfig) Stage(name StageName) StageConfig {
	if name == StageB {
		return s.StageB
	}
	return s.StageA
}

// StageConfig holds solver settings for one stage.
type StageConfig struct {
	Backend BackendConfig      `yaml:"backend,omitempty" json:"backend,omitempty"`
	Timeout string             `yaml:"timeout,omitempty" json:"timeout,omitempty"` // e.g. "30m"
	Params  map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

// TimeoutDuration parses Timeout, returning def when unset or invalid.
func (c StageConfig) TimeoutDuration(def time.Duration) time.Duration {
	return parseDurationOr(c.Timeout, def)
}

// Param returns a solver setting or def when unset.
func (c StageConfig) Param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

// BackendConfig selects and configures a solver backend.
type BackendConfig struct {
	Type BackendType `yaml:"type,omitempty" json:"type,omitempty"`

	// process
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`

	// phenom
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// step-function / lambda
	StateMachineARN string `yaml:"stateMachineArn,omitempty" json:"stateMachineArn,omitempty"`
	FunctionName    string `yaml:"functionName,omitempty" json:"functionName,omitempty"`
	PollInterval    string `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
}

// PollIntervalDuration parses PollInterval, returning def when unset or invalid.
func (c BackendConfig) PollIntervalDuration(def time.Duration) time.Duration {
	return parseDurationOr(c.PollInterval, def)
}

// PipelineSpec carries the thresholds and mappings shared by every scenario.
// It is immutable and threaded explicitly through detector, translator and combiner.
type PipelineSpec struct {
	Trigger  TriggerSpec  `yaml:"trigger" json:"trigger"`
	Handoff  HandoffSpec  `yaml:"handoff" json:"handoff"`
	Combiner CombinerSpec `yaml:"combiner,omitempty" json:"combiner,omitempty"`
}

// TriggerSpec configures the trigger detector.
type TriggerSpec struct {
	Policy     TriggerPolicy   `yaml:"policy,omitempty" json:"policy,omitempty"`
	MinTime    float64         `yaml:"minTime,omitempty" json:"minTime,omitempty"`
	Conditions []ConditionSpec `yaml:"conditions" json:"conditions"`
}

// ConditionSpec is one named trigger condition, evaluated in declared order.
type ConditionSpec struct {
	Name      string  `yaml:"name" json:"name"`
	Kind      string  `yaml:"kind" json:"kind"`
	Channel   string  `yaml:"channel" json:"channel"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Window    int     `yaml:"window,omitempty" json:"window,omitempty"`
	Reduce    string  `yaml:"reduce,omitempty" json:"reduce,omitempty"` // profile channels: min|max|mean|core|edge

	// Limit replaces Threshold with Fraction times the named operational limit.
	Limit    string  `yaml:"limit,omitempty" json:"limit,omitempty"`
	Fraction float64 `yaml:"fraction,omitempty" json:"fraction,omitempty"`
}

// HandoffSpec maps Stage A channels onto Stage B initial fields.
type HandoffSpec struct {
	SourceGrid       string         `yaml:"sourceGrid,omitempty" json:"sourceGrid,omitempty"`
	TargetGrid       []float64      `yaml:"targetGrid,omitempty" json:"targetGrid,omitempty"`
	TargetGridPoints int            `yaml:"targetGridPoints,omitempty" json:"targetGridPoints,omitempty"`
	Fields           []FieldMapping `yaml:"fields" json:"fields"`
}

// FieldMapping maps one Stage A channel onto a Stage B initial field.
// The converted value is source*Scale + Offset; a zero Scale means 1.
type FieldMapping struct {
	Target   string         `yaml:"target" json:"target"`
	Source   string         `yaml:"source" json:"source"`
	Kind     ChannelKind    `yaml:"kind,omitempty" json:"kind,omitempty"`
	Scale    float64        `yaml:"scale,omitempty" json:"scale,omitempty"`
	Offset   float64        `yaml:"offset,omitempty" json:"offset,omitempty"`
	Min      *float64       `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64       `yaml:"max,omitempty" json:"max,omitempty"`
	Optional bool           `yaml:"optional,omitempty" json:"optional,omitempty"`
	Resample ResampleMethod `yaml:"resample,omitempty" json:"resample,omitempty"`

	// MinLimit and MaxLimit name operational limits (e.g. "greenwald")
	// scaled by LimitFraction. They combine with Min and Max; the tighter
	// bound wins.
	MinLimit      string  `yaml:"minLimit,omitempty" json:"minLimit,omitempty"`
	MaxLimit      string  `yaml:"maxLimit,omitempty" json:"maxLimit,omitempty"`
	LimitFraction float64 `yaml:"limitFraction,omitempty" json:"limitFraction,omitempty"`
}

// EffectiveScale returns Scale, treating zero as identity.
func (m FieldMapping) EffectiveScale() float64 {
	if m.Scale == 0 {
		return 1
	}
	return m.Scale
}

// CombinerSpec configures the signal combiner.
type CombinerSpec struct {
	ScalarFill        FillPolicy             `yaml:"scalarFill,omitempty" json:"scalarFill,omitempty"`
	ProfileFill       FillPolicy             `yaml:"profileFill,omitempty" json:"profileFill,omitempty"`
	Sentinel          *float64               `yaml:"sentinel,omitempty" json:"sentinel,omitempty"`
	MaxSampleInterval float64                `yaml:"maxSampleInterval,omitempty" json:"maxSampleInterval,omitempty"`
	Channels          map[string]ChannelFill `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// ChannelFill overrides the fill policy of a single channel.
type ChannelFill struct {
	Fill     FillPolicy `yaml:"fill" json:"fill"`
	Sentinel *float64   `yaml:"sentinel,omitempty" json:"sentinel,omitempty"`
}

// RetryPolicy bounds automatic re-runs of failed or timed-out stages.
type RetryPolicy struct {
	MaxAttempts int               `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	BackoffBase string            `yaml:"backoffBase,omitempty" json:"backoffBase,omitempty"`
	BackoffMax  string            `yaml:"backoffMax,omitempty" json:"backoffMax,omitempty"`
	RetryOn     []FailureCategory `yaml:"retryOn,omitempty" json:"retryOn,omitempty"`
}

// AlertConfig configures one alert sink.
type AlertConfig struct {
	Type         AlertType `yaml:"type" json:"type"`
	Path         string    `yaml:"path,omitempty" json:"path,omitempty"`
	EventBusName string    `yaml:"eventBusName,omitempty" json:"eventBusName,omitempty"`
	Source       string    `yaml:"source,omitempty" json:"source,omitempty"`
}

// DynamoDBConfig configures the DynamoDB manifest mirror.
type DynamoDBConfig struct {
	TableName   string `yaml:"tableName" json:"tableName"`
	Region      string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	CreateTable bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// OutputConfig configures where signals and the manifest are written.
type OutputConfig struct {
	Dir      string          `yaml:"dir" json:"dir"`
	SQLite   string          `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// SweepConfig expands into scenarios as the cartesian product of Grid over Base.
type SweepConfig struct {
	Prefix string               `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Base   map[string]float64   `yaml:"base,omitempty" json:"base,omitempty"`
	Grid   map[string][]float64 `yaml:"grid,omitempty" json:"grid,omitempty"`
}

// ProjectConfig is the top-level tokamaksim.yaml configuration.
type ProjectConfig struct {
	Workers     int              `yaml:"workers,omitempty" json:"workers,omitempty"`
	DrainOnStop *bool            `yaml:"drainOnStop,omitempty" json:"drainOnStop,omitempty"`
	Retry       RetryPolicy      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Output      OutputConfig     `yaml:"output" json:"output"`
	Pipeline    PipelineSpec     `yaml:"pipeline" json:"pipeline"`
	StageA      StageConfig      `yaml:"stageA" json:"stageA"`
	StageB      StageConfig      `yaml:"stageB" json:"stageB"`
	Sweep       *SweepConfig     `yaml:"sweep,omitempty" json:"sweep,omitempty"`
	Scenarios   []ScenarioConfig `yaml:"scenarios,omitempty" json:"scenarios,omitempty"`
	Alerts      []AlertConfig    `yaml:"alerts,omitempty" json:"alerts,omitempty"`
	Telemetry   TelemetryConfig  `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// EffectiveLimitFraction returns LimitFraction, treating zero as one.
func (m FieldMapping) EffectiveLimitFraction() float64 {
	if m.LimitFraction == 0 {
		return 1
	}
	return m.LimitFraction
}

// UsesLimits reports whether any condition references an operational limit.
func (t TriggerSpec) UsesLimits() bool {
	for _, c := range t.Conditions {
		if c.Limit != "" {
			return true
		}
	}
	return false
}

// UsesLimits reports whether any field bound references an operational limit.
func (h HandoffSpec) UsesLimits() bool {
	for _, f := range h.Fields {
		if f.MinLimit != "" || f.MaxLimit != "" {
			return true
		}
	}
	return false
}
