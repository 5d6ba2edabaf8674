// Package heartbeat is a SchedulerProvider extension: on its declared
// cron schedule it emits a "system.user.notify" event, a minimal
// liveness signal extensions subscribed to that topic can act on
// (e.g. a channel extension relaying it to the user).
package heartbeat

import (
	"context"
	"fmt"

	"github.com/sorrel-ai/hearth/internal/extension"
)

func init() {
	extension.Register("heartbeat", func() extension.Instance { return &Scheduler{} })
}

// Scheduler implements extension.SchedulerProvider.
type Scheduler struct {
	ectx    *extension.Context
	message string
}

func (s *Scheduler) Setup(ctx context.Context, ectx *extension.Context) error {
	s.ectx = ectx
	s.message = "heartbeat: still running"
	if v, ok := ectx.GetConfig("message"); ok {
		if m, ok := v.(string); ok && m != "" {
			s.message = m
		}
	}
	return nil
}

// Schedules implements extension.SchedulerProvider, mirroring the
// manifest's declarative schedules block so the loader's scheduler
// wiring has a single source of truth even when this extension
// overrides it dynamically.
func (s *Scheduler) Schedules() []extension.ScheduleBlock {
	return []extension.ScheduleBlock{
		{Name: "tick", Cron: "*/5 * * * *", Topic: "system.user.notify"},
	}
}

// rememberer is the subset of the memory extension's surface this
// extension needs; asserted against whatever GetExtension("memory")
// returns rather than importing that package's concrete type, so this
// extension keeps working against any future ContextProvider that
// happens to also expose Remember.
type rememberer interface {
	Remember(ctx context.Context, content string) error
}

// OnSchedule implements extension.SchedulerProvider.
func (s *Scheduler) OnSchedule(ctx context.Context, name string) error {
	if name != "tick" {
		return nil
	}
	_, err := s.ectx.Emit(ctx, "system.user.notify", map[string]string{"message": s.message})
	if err != nil {
		return fmt.Errorf("heartbeat: emit: %w", err)
	}

	if mem, lookupErr := s.ectx.GetExtension("memory"); lookupErr == nil {
		if r, ok := mem.(rememberer); ok {
			_ = r.Remember(ctx, s.message)
		}
	}
	return nil
}

var _ extension.SchedulerProvider = (*Scheduler)(nil)
