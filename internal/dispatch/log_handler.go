package dispatch

import (
	"context"

	"go.uber.org/zap"

	"chainwatch/internal/model"
)

// LogHandler writes each event to a zap logger at info level.
type LogHandler struct {
	logger *zap.Logger
}

func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, ev model.DecodedEvent) error {
	rec := model.NewEventRecord(ev)
	h.logger.Info("event",
		zap.Uint64("chain_id", rec.ChainID),
		zap.String("event", rec.Event),
		zap.Uint64("block_number", rec.BlockNumber),
		zap.String("tx_hash", rec.TxHash),
		zap.Uint64("log_index", rec.LogIndex),
		zap.String("address", rec.Address),
		zap.Any("args", rec.Args),
	)
	return nil
}
