package model

// Writer defines a generic interface for delivering traffic reports to a
// persistent store or a message bus.
type Writer interface {
	// Name identifies the writer in logs.
	Name() string

	// Write persists a single report. Implementations must not retain r.
	Write(r *TrafficReport) error

	// Close releases the writer's resources.
	Close() error
}
