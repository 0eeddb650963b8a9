package indexer

import "fmt"

// DefaultChunkSize bounds the number of blocks requested per eth_getLogs call.
const DefaultChunkSize uint64 = 2000

// BlockRange is an inclusive block interval.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts [from, to] into consecutive chunks of at most chunkSize
// blocks. The chunks cover the interval exactly, without gaps or overlap.
func SplitRange(from, to, chunkSize uint64) ([]BlockRange, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block %d is before from block %d", to, from)
	}

	chunks := make([]BlockRange, 0, (to-from)/chunkSize+1)
	for start := from; ; {
		end := to
		if to-start >= chunkSize {
			end = start + chunkSize - 1
		}
		chunks = append(chunks, BlockRange{From: start, To: end})
		if end == to {
			return chunks, nil
		}
		start = end + 1
	}
}
