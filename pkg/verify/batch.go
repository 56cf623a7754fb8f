package verify

// BatchSize is the maximum number of verification IDs per batch submission.
// The service rejects larger payloads, so partitioning is not configurable.
const BatchSize = 5

// Partition splits ids into consecutive batches of at most BatchSize,
// preserving input order. Every ID appears in exactly one batch. Returns nil
// for an empty input.
func Partition(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(ids)+BatchSize-1)/BatchSize)
	for start := 0; start < len(ids); start += BatchSize {
		end := min(start+BatchSize, len(ids))
		batches = append(batches, ids[start:end:end])
	}
	return batches
}
