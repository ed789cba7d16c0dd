package model

import "Go2NetNodes/internal/wire"

// Aggregator defines the common interface for an ingestion engine fed with
// decoded wire messages.
type Aggregator interface {
	// Start launches the aggregator's processing workers.
	Start()

	// Stop gracefully shuts down the aggregator, ensuring all data is processed or flushed.
	Stop()

	// Input returns the channel to which messages should be sent for processing.
	Input() chan<- wire.Message
}
