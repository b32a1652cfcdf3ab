// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for task execution observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Telos task telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Agent attributes
	AttrAgentID           = "telos.agent.id"
	AttrAgentName         = "telos.agent.name"
	AttrAgentCapabilities = "telos.agent.capabilities"
	AttrAgentModel        = "telos.agent.model"

	// Task attributes
	AttrTaskID         = "telos.task.id"
	AttrTaskCapability = "telos.task.capability"
	AttrTaskStatus     = "telos.task.status"
	AttrTaskAttempt    = "telos.task.attempt"
	AttrTaskRetries    = "telos.task.retries"
	AttrTaskChunks     = "telos.task.chunks"
	AttrTaskLatencyMs  = "telos.task.latency_ms"

	// Triage attributes
	AttrTriageCapability = "telos.triage.capability"
	AttrTriageCandidates = "telos.triage.candidates"

	// Workflow attributes
	AttrPlanID     = "telos.plan.id"
	AttrRunID      = "telos.run.id"
	AttrStepID     = "telos.step.id"
	AttrStepKind   = "telos.step.kind"
	AttrStepStatus = "telos.step.status"

	// Error attributes
	AttrErrorKind        = "telos.error.kind"
	AttrErrorRecoverable = "telos.error.recoverable"
)

// AgentAttributes returns common attributes for agent spans.
func AgentAttributes(agentID, name, model string, capabilities []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
	}
	if name != "" {
		attrs = append(attrs, attribute.String(AttrAgentName, name))
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrAgentModel, model))
	}
	if len(capabilities) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrAgentCapabilities, capabilities))
	}
	return attrs
}

// TaskAttributes returns attributes for task execution spans.
func TaskAttributes(taskID, capability, status string, attempt int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
	}
	if capability != "" {
		attrs = append(attrs, attribute.String(AttrTaskCapability, capability))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrTaskStatus, status))
	}
	if attempt > 0 {
		attrs = append(attrs, attribute.Int(AttrTaskAttempt, attempt))
	}
	return attrs
}

// TaskOutcomeAttributes returns attributes describing the resolved envelope.
func TaskOutcomeAttributes(retries, chunks int, latencyMs int64, errorKind string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrTaskRetries, retries),
		attribute.Int64(AttrTaskLatencyMs, latencyMs),
	}
	if chunks > 1 {
		attrs = append(attrs, attribute.Int(AttrTaskChunks, chunks))
	}
	if errorKind != "" {
		attrs = append(attrs, attribute.String(AttrErrorKind, errorKind))
	}
	return attrs
}

// TriageAttributes returns attributes for routing decisions.
func TriageAttributes(capability string, candidates []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTriageCapability, capability),
	}
	if len(candidates) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrTriageCandidates, candidates))
	}
	return attrs
}

// StepAttributes returns attributes for workflow step spans.
func StepAttributes(planID, runID, stepID, kind string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStepID, stepID),
	}
	if planID != "" {
		attrs = append(attrs, attribute.String(AttrPlanID, planID))
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(AttrStepKind, kind))
	}
	return attrs
}
