package storage

import (
	"context"

	"chainwatch/internal/model"
)

// Storage defines a sink for decoded events. A batch is delivered again after
// a failed watcher tick. The sqlite and postgres stores keep one row per
// (tx_hash, log_index); the JSONL and Kafka sinks are at-least-once and leave
// deduplication on that key to their consumers.
type Storage interface {
	PutEventBatch(ctx context.Context, events []model.DecodedEvent) error
}

// Handler delivers events to a Storage one at a time. It satisfies
// dispatch.Handler.
type Handler struct {
	Storage Storage
}

func (h Handler) Handle(ctx context.Context, ev model.DecodedEvent) error {
	return h.Storage.PutEventBatch(ctx, []model.DecodedEvent{ev})
}
