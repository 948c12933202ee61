package orchestrator

import "github.com/asset-graph/internal/traverse"

// Partition splits entries into workerCount contiguous shards of
// len(entries)/workerCount entries; the final shard takes the remainder.
// workerCount is clamped to [1, len(entries)] so no shard is empty.
func Partition(entries []traverse.Entry, workerCount int) [][]traverse.Entry {
	if len(entries) == 0 {
		return nil
	}
	if workerCount < 1 {
		workerCount = 1
	}
	if workerCount > len(entries) {
		workerCount = len(entries)
	}

	size := len(entries) / workerCount
	shards := make([][]traverse.Entry, workerCount)
	for i := 0; i < workerCount; i++ {
		start := i * size
		end := start + size
		if i == workerCount-1 {
			end = len(entries)
		}
		shards[i] = entries[start:end:end]
	}
	return shards
}
