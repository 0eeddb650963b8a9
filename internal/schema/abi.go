package schema

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"

	"chainwatch/internal/model"
)

// FromABI returns a schema for every non-anonymous event in a JSON ABI.
// Events with parameters the decoder cannot bind, such as tuples, are
// skipped and logged.
func FromABI(r io.Reader, logger *zap.Logger) ([]model.EventSchema, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := abi.JSON(r)
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	out := make([]model.EventSchema, 0, len(parsed.Events))
	for _, ev := range parsed.Events {
		if ev.Anonymous {
			continue
		}
		fields := make([]model.Field, len(ev.Inputs))
		for i, in := range ev.Inputs {
			fields[i] = model.Field{Name: in.Name, Type: in.Type.String(), Indexed: in.Indexed}
		}
		s, err := New(ev.RawName, fields)
		if err != nil {
			logger.Warn("skip abi event", zap.String("event", ev.Sig), zap.Error(err))
			continue
		}
		if s.SignatureHash != ev.ID {
			return nil, fmt.Errorf("event %s: hash mismatch with abi id %s", ev.Sig, ev.ID.Hex())
		}
		out = append(out, s)
	}
	sortSchemas(out)
	return out, nil
}
