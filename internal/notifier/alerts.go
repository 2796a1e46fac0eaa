package notifier

import (
	"context"
	"fmt"

	"producerd/internal/eventbus"
	"producerd/internal/producer/engine"
	logx "producerd/pkg/logx"
)

// watchLoop forwards engine failure events to the alert pipeline until
// the context ends or the service stops.
func (s *Service) watchLoop(ctx context.Context, stopCh <-chan struct{}) {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case e := <-ch:
			a, ok := formatAlert(e)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, a); err != nil {
				s.log.Debug("alert not queued", logx.Any("err", err))
			}
		}
	}
}

// formatAlert maps one engine event to an operator alert. Events that
// carry no operator signal return false.
func formatAlert(e eventbus.Event) (Alert, bool) {
	switch e.Type {
	case "request.failed":
		re, ok := e.Data.(engine.RequestEvent)
		if !ok {
			return Alert{}, false
		}
		return Alert{
			Priority: 7,
			Text:     fmt.Sprintf("generation failed: request %s on session %s: %s", re.ID, re.Worker, re.Error),
		}, true
	case "worker.stuck":
		we, ok := e.Data.(engine.WorkerEvent)
		if !ok {
			return Alert{}, false
		}
		return Alert{
			Priority: 7,
			Text:     fmt.Sprintf("session %s looks stuck; its last generation ran over budget", we.Worker),
			Key:      "worker.stuck|" + we.Worker,
		}, true
	case "worker.auth_failed":
		we, ok := e.Data.(engine.WorkerEvent)
		if !ok {
			return Alert{}, false
		}
		return Alert{
			Priority: 9,
			Text:     fmt.Sprintf("studio login failed: %s", we.Error),
			Key:      "worker.auth_failed",
		}, true
	case "pool.exhausted":
		pe, ok := e.Data.(engine.PoolEvent)
		if !ok {
			return Alert{}, false
		}
		return Alert{
			Priority: 9,
			Text:     fmt.Sprintf("session pool exhausted: %d/%d busy, %d requests waiting", pe.Workers, pe.Max, pe.Queued),
			Key:      "pool.exhausted",
		}, true
	case "worker.removed":
		we, ok := e.Data.(engine.WorkerEvent)
		if !ok {
			return Alert{}, false
		}
		// Shutdown teardowns are routine; only surprises get a line.
		if we.Reason == "shutdown" {
			return Alert{}, false
		}
		return Alert{
			Priority: 5,
			Text:     fmt.Sprintf("session %s removed (%s)", we.Worker, we.Reason),
		}, true
	}
	return Alert{}, false
}
