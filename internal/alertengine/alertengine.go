// Package alertengine implements the Alert Engine (spec §4.H): a stateless
// threshold evaluator over the current metrics snapshot, with a bounded
// history ring of overall-status summaries.
package alertengine

import (
	"fmt"
	"sync"
	"time"
)

// Severity is an alert's urgency level.
type Severity string

const (
	SeverityHealthy  Severity = "healthy"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Threshold is one metric's warning/critical pair.
type Threshold struct {
	Warning  float64
	Critical float64
	Unit     string
	Display  string // human-readable metric name used in messages
}

// DefaultThresholds returns the spec §4.H default threshold table.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"cpu_percent":          {Warning: 80, Critical: 95, Unit: "%", Display: "CPU usage"},
		"memory_percent":       {Warning: 85, Critical: 98, Unit: "%", Display: "memory usage"},
		"response_time_ms":     {Warning: 2000, Critical: 10000, Unit: "ms", Display: "response time"},
	}
}

// Alert is one active (service, metric) breach.
type Alert struct {
	Service   string
	Metric    string
	Severity  Severity
	Value     float64
	Threshold Threshold
	Message   string
}

// HistoryEntry is one ring-buffer entry recorded per evaluation.
type HistoryEntry struct {
	Timestamp     time.Time
	OverallStatus Severity
	AlertCount    int
}

// Sample is one (service, metric, value) reading to evaluate.
type Sample struct {
	Service string
	Metric  string
	Value   float64
}

// Engine holds the threshold table and evaluation history.
type Engine struct {
	mu         sync.Mutex
	thresholds map[string]Threshold
	active     []Alert
	history    []HistoryEntry
	historyCap int

	now func() time.Time
}

// New builds an Engine with the given thresholds (spec §4.H default table
// if nil) and a history ring of the given capacity (default 100).
func New(thresholds map[string]Threshold, historyCap int) *Engine {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if historyCap <= 0 {
		historyCap = 100
	}
	return &Engine{thresholds: thresholds, historyCap: historyCap, now: time.Now}
}

// Evaluate replaces the active-alert set with a fresh evaluation of
// samples against the threshold table, and records one history entry.
func (e *Engine) Evaluate(samples []Sample) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var active []Alert
	overall := SeverityHealthy

	for _, sample := range samples {
		threshold, ok := e.thresholds[sample.Metric]
		if !ok {
			continue
		}

		var severity Severity
		switch {
		case sample.Value >= threshold.Critical:
			severity = SeverityCritical
		case sample.Value >= threshold.Warning:
			severity = SeverityWarning
		default:
			continue
		}

		alert := Alert{
			Service:   sample.Service,
			Metric:    sample.Metric,
			Severity:  severity,
			Value:     sample.Value,
			Threshold: threshold,
			Message:   formatMessage(sample.Service, threshold, severity, sample.Value),
		}
		active = append(active, alert)

		if severity == SeverityCritical {
			overall = SeverityCritical
		} else if severity == SeverityWarning && overall != SeverityCritical {
			overall = SeverityWarning
		}
	}

	e.active = active
	e.recordHistory(overall, len(active))
	return active
}

func formatMessage(service string, threshold Threshold, severity Severity, value float64) string {
	return fmt.Sprintf("%s %s exceeds %s threshold of %g%s", service, threshold.Display, severity, thresholdValue(threshold, severity), threshold.Unit)
}

func thresholdValue(threshold Threshold, severity Severity) float64 {
	if severity == SeverityCritical {
		return threshold.Critical
	}
	return threshold.Warning
}

func (e *Engine) recordHistory(overall Severity, count int) {
	entry := HistoryEntry{Timestamp: e.now(), OverallStatus: overall, AlertCount: count}
	e.history = append(e.history, entry)
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}
}

// Active returns a copy of the current active-alert set.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, len(e.active))
	copy(out, e.active)
	return out
}

// History returns a copy of the evaluation history ring, oldest first.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}
