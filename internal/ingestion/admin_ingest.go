package ingestion

import (
	"PerpParity/internal/event"
	"context"
	"fmt"
	"time"
)

// AdminIngestService injects chain events by hand, e.g. to replay a log the
// indexer missed. Not a throughput path; use NATS for that.
type AdminIngestService struct {
	eventChan chan<- event.Event
}

func NewAdminIngestService(eventChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan}
}

// Inject parses data with the NATS wire format for eventType and queues it
// for the core.
func (s *AdminIngestService) Inject(ctx context.Context, eventType string, data []byte) (event.Event, error) {
	evt, err := ParseRawEvent(RawEvent{
		Subject:   "admin." + eventType,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
	}, eventType)
	if err != nil {
		return nil, fmt.Errorf("inject %s: %w", eventType, err)
	}

	select {
	case s.eventChan <- evt:
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
