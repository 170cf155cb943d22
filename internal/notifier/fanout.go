package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/suspectuso/usdt-tracker/internal/metrics"
	"github.com/suspectuso/usdt-tracker/internal/reconcile"
)

// Fanout delivers every event to all registered sinks. A failing sink does not
// stop the others.
type Fanout struct {
	names []string
	sinks []reconcile.Sink
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a sink under a name used in metrics and errors
func (f *Fanout) Add(name string, sink reconcile.Sink) *Fanout {
	f.names = append(f.names, name)
	f.sinks = append(f.sinks, sink)
	return f
}

// Len returns the number of sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Notify(ctx context.Context, ev reconcile.Event) error {
	var errs []error
	for i, sink := range f.sinks {
		err := sink.Notify(ctx, ev)
		metrics.RecordNotification(f.names[i], err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.names[i], err))
		}
	}
	return errors.Join(errs...)
}
