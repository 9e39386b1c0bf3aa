package repository

import "sort"

// defaultBatchSize bounds the rows written by one multi-row statement.
const defaultBatchSize = 500

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func chunkInt64(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
