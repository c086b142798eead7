package device

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind classifies a device lifecycle transition.
type EventKind string

const (
	// EventConnected fires when a recognized device appears.
	EventConnected EventKind = "connected"
	// EventDisconnected fires when the tracked device goes away.
	EventDisconnected EventKind = "disconnected"
	// EventChanged fires when the tracked device is replaced by another
	// one between polls.
	EventChanged EventKind = "changed"
)

// Event is one device lifecycle transition. Device is nil for
// disconnections.
type Event struct {
	Kind   EventKind
	Device *Device
}

// Monitor polls the scanner and emits lifecycle events. Removable media
// gives no reliable notification on every platform, so polling is the
// lowest common denominator.
type Monitor struct {
	scanner  *Scanner
	interval time.Duration
	logger   *logrus.Logger

	events chan Event
}

// NewMonitor wraps a scanner in a polling loop with the given interval.
func NewMonitor(scanner *Scanner, interval time.Duration) *Monitor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Monitor{
		scanner:  scanner,
		interval: interval,
		logger:   logger,
		events:   make(chan Event, 8),
	}
}

// Events returns the channel lifecycle events are delivered on.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start launches the poll loop. It stops and closes the event channel
// when ctx is cancelled. An initial scan runs immediately so a device
// present at startup is reported without waiting a full interval.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.events)

		m.logger.WithField("interval", m.interval.String()).Info("Device monitor started")
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		var current *Device
		current = m.poll(current)

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Device monitor stopped")
				return
			case <-ticker.C:
				current = m.poll(current)
			}
		}
	}()
}

func (m *Monitor) poll(current *Device) *Device {
	found, err := m.scanner.Scan()
	if err != nil {
		m.logger.WithError(err).Warn("Device scan failed")
		return current
	}

	switch {
	case current == nil && found != nil:
		m.logger.WithField("mount", found.MountPoint).Info("Device connected")
		m.emit(Event{Kind: EventConnected, Device: found})

	case current != nil && found == nil:
		m.logger.WithField("mount", current.MountPoint).Info("Device disconnected")
		m.emit(Event{Kind: EventDisconnected})

	case current != nil && found != nil && current.MountPoint != found.MountPoint:
		m.logger.WithFields(logrus.Fields{
			"previous": current.MountPoint,
			"mount":    found.MountPoint,
		}).Info("Device changed")
		m.emit(Event{Kind: EventChanged, Device: found})
	}

	return found
}

// emit drops the event when the consumer lags behind; the next poll
// re-derives current state anyway.
func (m *Monitor) emit(e Event) {
	select {
	case m.events <- e:
	default:
	}
}
