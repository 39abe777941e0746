// Package types defines the public domain types for the tokamaksim disruption dataset generator.
package types

// StageName identifies which of the two coupled simulators produced a result.
type StageName string

// StageName values identify the pre-disruption and post-trigger solvers.
const (
	StageA StageName = "stage-a"
	StageB StageName = "stage-b"
)

// StageStatus is the terminal status of a single stage run.
type StageStatus string

// StageStatus values enumerate how a stage run can finish.
const (
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
	StageTimeout StageStatus = "timeout"
)

// ScenarioState represents the lifecycle state of a single scenario run.
type ScenarioState string

// ScenarioState values represent the per-scenario state machine.
const (
	ScenarioPending        ScenarioState = "pending"
	ScenarioStageARunning  ScenarioState = "stageA-running"
	ScenarioTriggered      ScenarioState = "triggered"
	ScenarioHandoff        ScenarioState = "handoff"
	ScenarioHandoffOK      ScenarioState = "handoff-ok"
	ScenarioStageBRunning  ScenarioState = "stageB-running"
	ScenarioNoTriggerDone  ScenarioState = "no-trigger-done"
	ScenarioStageAFailed   ScenarioState = "stageA-failed"
	ScenarioHandoffInvalid ScenarioState = "handoff-invalid"
	ScenarioStageBFailed   ScenarioState = "stageB-failed"
	ScenarioCombined       ScenarioState = "combined"
	ScenarioPersistFailed  ScenarioState = "persist-failed"
	ScenarioConfigInvalid  ScenarioState = "config-invalid"
)

// Outcome is the terminal result recorded in the manifest for one scenario.
type Outcome string

// Outcome values mirror the terminal scenario states.
const (
	OutcomeCombined       Outcome = "combined"
	OutcomeNoTrigger      Outcome = "no-trigger-done"
	OutcomeStageAFailed   Outcome = "stageA-failed"
	OutcomeHandoffInvalid Outcome = "handoff-invalid"
	OutcomeStageBFailed   Outcome = "stageB-failed"
	OutcomePersistFailed  Outcome = "persist-failed"
	OutcomeConfigInvalid  Outcome = "config-invalid"
)

// AllOutcomes lists every outcome in a stable order for reporting.
var AllOutcomes = []Outcome{
	OutcomeCombined,
	OutcomeNoTrigger,
	OutcomeStageAFailed,
	OutcomeHandoffInvalid,
	OutcomeStageBFailed,
	OutcomePersistFailed,
	OutcomeConfigInvalid,
}

// FailureCategory classifies why a stage run failed.
type FailureCategory string

const (
	FailureTransient    FailureCategory = "TRANSIENT"
	FailurePermanent    FailureCategory = "PERMANENT"
	FailureTimeout      FailureCategory = "TIMEOUT"
	FailureBackendCrash FailureCategory = "BACKEND_CRASH"
)

// TriggerPolicy defines how multiple trigger conditions combine.
type TriggerPolicy string

// TriggerPolicy values define the supported combination strategies.
const (
	PolicyFirst TriggerPolicy = "first"
	PolicyAll   TriggerPolicy = "all"
)

// ChannelKind distinguishes scalar channels from 1D profiles.
type ChannelKind string

const (
	KindScalar  ChannelKind = "scalar"
	KindProfile ChannelKind = "profile"
)

// FillPolicy decides how a channel is filled over the range of the stage that lacks it.
type FillPolicy string

// FillPolicy values enumerate the combiner fill strategies.
const (
	FillHoldLast    FillPolicy = "hold-last"
	FillSentinel    FillPolicy = "sentinel"
	FillOmitAndFlag FillPolicy = "omit-and-flag"
)

// ChannelSource records which stage(s) supplied a unified channel.
type ChannelSource string

const (
	SourceStageA ChannelSource = "stage-a"
	SourceStageB ChannelSource = "stage-b"
	SourceBoth   ChannelSource = "both"
)

// ResampleMethod selects profile interpolation onto the Stage B grid.
type ResampleMethod string

const (
	ResampleLinear  ResampleMethod = "linear"
	ResampleNearest ResampleMethod = "nearest"
)

// BackendType selects a stage backend implementation.
type BackendType string

// BackendType values enumerate the supported solver backends.
const (
	BackendProcess      BackendType = "process"
	BackendPhenom       BackendType = "phenom"
	BackendStepFunction BackendType = "step-function"
	BackendLambda       BackendType = "lambda"
)

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole     AlertType = "console"
	AlertFile        AlertType = "file"
	AlertEventBridge AlertType = "eventbridge"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)
