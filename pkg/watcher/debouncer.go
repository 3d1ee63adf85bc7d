package watcher

import (
	"context"
	"time"

	"github.com/ritzau/unitconv/pkg/logging"
)

// Debouncer merges bursts of change events so one edit session triggers one
// reload. Events are flushed after quietPeriod without input, or after
// maxWait since the first pending event, whichever comes first.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 4),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		pending   *ChangeEvent
		count     int
		quiet     = stoppedTimer()
		deadline  = stoppedTimer()
		seenPaths = make(map[string]bool)
	)

	flush := func() {
		if pending == nil {
			return
		}
		logging.Debug("flushing accumulated events", "count", count, "type", pending.Type.String())
		select {
		case d.output <- *pending:
		case <-ctx.Done():
		}
		pending = nil
		count = 0
		seenPaths = make(map[string]bool)
		quiet.Stop()
		deadline.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			if pending == nil {
				pending = &ChangeEvent{}
				deadline.Reset(d.maxWait)
			}
			// The latest state of the file is what matters
			pending.Type = event.Type
			pending.Timestamp = event.Timestamp
			for _, p := range event.Paths {
				if !seenPaths[p] {
					seenPaths[p] = true
					pending.Paths = append(pending.Paths, p)
				}
			}
			count++
			quiet.Reset(d.quietPeriod)

		case <-quiet.C:
			flush()

		case <-deadline.C:
			flush()
		}
	}
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
