// engine/hook_logger.go
package engine

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LoggerHook writes turn lifecycle events to a logrus logger.
type LoggerHook struct{ L logrus.FieldLogger }

func (h LoggerHook) OnTurnStart(_ context.Context, req TurnRequest) {
	h.L.WithFields(logrus.Fields{
		"model":     req.Model,
		"messages":  len(req.Messages),
		"reasoning": req.Options.Reasoning,
	}).Debug("turn started")
}

func (h LoggerHook) OnFragment(_ context.Context, f Fragment) {
	if f.IsMarker() {
		h.L.WithField("kind", f.Kind).Debug("channel marker")
	}
}

func (h LoggerHook) OnTurnDone(_ context.Context, req TurnRequest, res TurnResult) {
	entry := h.L.WithFields(logrus.Fields{
		"model":             req.Model,
		"answer_chars":      len(res.Answer),
		"reasoning_chars":   len(res.Reasoning),
		"prompt_tokens":     res.Usage.Prompt,
		"completion_tokens": res.Usage.Completion,
	})
	if res.Fault != nil {
		entry.WithFields(logrus.Fields{
			"kind":   res.Fault.Kind,
			"status": res.Fault.HTTPStatus,
		}).WithError(res.Fault.Err).Warn("turn failed")
		return
	}
	entry.Debug("turn finished")
}
