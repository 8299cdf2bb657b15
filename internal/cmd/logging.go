package cmd

import (
	log "github.com/sirupsen/logrus"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/tui"
)

// newLogger builds the logrus logger every subcommand attaches to a
// session's event stream, leveled from the root command's verbose/quiet
// flags the same way the teacher's machine_linux.go levels the logger it
// hands to firecracker.WithLogger.
func newLogger() *log.Logger {
	logger := log.New()
	switch {
	case verboseFlag:
		logger.SetLevel(log.DebugLevel)
	case quietFlag:
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	if noColorFlag {
		logger.SetFormatter(&log.TextFormatter{DisableColors: true})
	}
	return logger
}

// runObserved runs op while draining ch, the session's one event-bus
// consumer side: a live bubbletea progress bar under --tui, or a background
// logrus drain otherwise. op's error takes priority over the tui's.
func runObserved(ch <-chan events.Event, label string, op func() error) error {
	if tuiFlag {
		errCh := make(chan error, 1)
		go func() { errCh <- op() }()
		tuiErr := tui.Run(label, ch)
		if opErr := <-errCh; opErr != nil {
			return opErr
		}
		return tuiErr
	}
	go logEvents(newLogger(), ch)
	return op()
}

// logEvents drains ch, translating each events.Event into a structured
// logrus line, until ch is closed. Run it in its own goroutine alongside a
// session.
func logEvents(logger *log.Logger, ch <-chan events.Event) {
	for ev := range ch {
		entry := logger.WithFields(log.Fields{
			"kind":      ev.Kind,
			"device_id": ev.DeviceID,
		})
		switch ev.Kind {
		case events.ErrorOccurred:
			entry.WithFields(log.Fields{
				"err_kind":    ev.ErrKind,
				"recoverable": ev.Recoverable,
			}).Error(ev.Message)
		case events.ProgressChanged:
			entry.WithFields(log.Fields{
				"done":  ev.Done,
				"total": ev.Total,
				"stage": ev.Stage,
			}).Debug("progress")
		case events.EventBackpressure:
			entry.Warn("event bus dropped events under backpressure")
		default:
			entry.Info(ev.Message)
		}
	}
}
