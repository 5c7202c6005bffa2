package backfill

import "fmt"

// BlockRange is a half-open block range [From, To).
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange splits [from, to) into consecutive chunks of at most chunkSize blocks.
func SplitRange(from, to, chunkSize uint64) ([]BlockRange, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("%w: end %d is before start %d", ErrInvalidRange, to, from)
	}

	ranges := make([]BlockRange, 0, (to-from+chunkSize-1)/chunkSize)
	for start := from; start < to; {
		end := to
		if to-start > chunkSize {
			end = start + chunkSize
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		start = end
	}
	return ranges, nil
}
