package types

import "time"

// ManifestEntry is the durable record of one scenario's terminal outcome.
// Entries are appended once and never modified.
type ManifestEntry struct {
	BatchID         string          `json:"batchId" dynamodbav:"batchId"`
	ScenarioID      string          `json:"scenarioId" dynamodbav:"scenarioId"`
	Outcome         Outcome         `json:"outcome" dynamodbav:"outcome"`
	SignalPath      string          `json:"signalPath,omitempty" dynamodbav:"signalPath,omitempty"`
	Message         string          `json:"message,omitempty" dynamodbav:"message,omitempty"`
	TriggerTime     *float64        `json:"triggerTime,omitempty" dynamodbav:"triggerTime,omitempty"`
	Conditions      []string        `json:"conditions,omitempty" dynamodbav:"conditions,omitempty"`
	Violations      []string        `json:"violations,omitempty" dynamodbav:"violations,omitempty"`
	FailureCategory FailureCategory `json:"failureCategory,omitempty" dynamodbav:"failureCategory,omitempty"`
	Attempts        int             `json:"attempts" dynamodbav:"attempts"`
	Samples         int             `json:"samples,omitempty" dynamodbav:"samples,omitempty"`
	RecordedAt      time.Time       `json:"recordedAt" dynamodbav:"recordedAt"`
}

// Succeeded reports whether the entry points at a persisted unified signal.
func (e ManifestEntry) Succeeded() bool { return e.Outcome == OutcomeCombined }

// BatchSummary is the aggregate result of a dataset-generation batch.
type BatchSummary struct {
	BatchID    string          `json:"batchId"`
	Total      int             `json:"total"`
	Dispatched int             `json:"dispatched"`
	ByOutcome  map[Outcome]int `json:"byOutcome"`
	Stopped    bool            `json:"stopped"`
	StartedAt  time.Time       `json:"startedAt"`
	Duration   time.Duration   `json:"duration"`
}

// Failures returns the number of scenarios that did not end as combined or no-trigger.
func (s BatchSummary) Failures() int {
	n := 0
	for o, c := range s.ByOutcome {
		if o != OutcomeCombined && o != OutcomeNoTrigger {
			n += c
		}
	}
	return n
}

// Alert represents an alert event to be dispatched.
type Alert struct {
	Level      AlertLevel             `json:"level"`
	Category   string                 `json:"alertType,omitempty"`
	BatchID    string                 `json:"batchId,omitempty"`
	ScenarioID string                 `json:"scenarioId,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}
