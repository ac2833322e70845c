// Package rules turns stored threshold rules into outbound command
// batches. Evaluation is read-only: running the engine twice against an
// unchanged store yields identical output.
package rules

import (
	"github.com/rs/zerolog"

	"github.com/hothouse-labs/hothouse/pkg/protocol"
	"github.com/hothouse-labs/hothouse/pkg/store"
)

// Source is the slice of the store the engine reads. The gateway's
// *store.DB satisfies it; tests supply fakes.
type Source interface {
	ActiveRulesForTarget(deviceUUID string) ([]store.Rule, error)
	CurrentValue(deviceUUID, parameter string) (int, bool, error)
}

// Engine evaluates all active rules aimed at one device per reading
// cycle.
type Engine struct {
	source       Source
	defaultDelay int
	log          zerolog.Logger
}

func NewEngine(source Source, defaultDelay int, log zerolog.Logger) *Engine {
	if defaultDelay <= 0 {
		defaultDelay = 1
	}
	return &Engine{source: source, defaultDelay: defaultDelay, log: log}
}

// Evaluate computes the command batch for the device identified by
// targetUUID. Rules run in creation order; a matching rule's message
// contributes its command verbatim, and the last matching rule carrying
// an explicit "~<delay>" suffix decides the response delay. A store
// failure degrades to an empty batch at the default delay rather than an
// error: one missed cycle beats a dead session.
func (e *Engine) Evaluate(targetUUID string) protocol.CommandBatch {
	batch := protocol.CommandBatch{Delay: e.defaultDelay, Commands: []string{}}

	matched, err := e.source.ActiveRulesForTarget(targetUUID)
	if err != nil {
		e.log.Error().Err(err).Str("target", targetUUID).Msg("Rule fetch failed")
		return batch
	}

	for _, rule := range matched {
		value, ok, err := e.source.CurrentValue(rule.SourceDeviceUUID, rule.SourceParameter)
		if err != nil {
			e.log.Error().Err(err).Uint("rule_id", rule.ID).Msg("Source value read failed")
			continue
		}
		if !ok {
			value = 0
		}
		if !rule.Condition.Matches(value, rule.Threshold) {
			continue
		}
		command, delay, hasDelay := protocol.SplitRuleMessage(rule.Message)
		batch.Commands = append(batch.Commands, command)
		if hasDelay {
			batch.Delay = delay
		}
	}
	return batch
}
