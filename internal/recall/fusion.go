package recall

import "sort"

// fuseRRF implements Reciprocal Rank Fusion over two ranked id lists,
// generalized from internal/rag/retrieve/fusion.go's FuseRRF: here it fuses
// Recent-mode and Semantic-mode (or per-head) result orderings instead of
// full-text-search and vector orderings, but keeps the same 1/(k+rank)
// contribution and descending-fused-score sort with a rank-sum tie-break.
const rrfK = 60

func fuseRRF(lists ...[]uint64) []uint64 {
	pos := make(map[uint64][]int) // id -> 1-based rank per list
	for li, list := range lists {
		for i, id := range list {
			if pos[id] == nil {
				pos[id] = make([]int, len(lists))
			}
			pos[id][li] = i + 1
		}
	}

	type scored struct {
		id    uint64
		score float64
		ranks []int
	}
	out := make([]scored, 0, len(pos))
	for id, ranks := range pos {
		var score float64
		for _, r := range ranks {
			if r > 0 {
				score += 1.0 / float64(rrfK+r)
			}
		}
		out = append(out, scored{id: id, score: score, ranks: ranks})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return rankSum(out[i].ranks) < rankSum(out[j].ranks)
	})

	ids := make([]uint64, len(out))
	for i, s := range out {
		ids[i] = s.id
	}
	return ids
}

func rankSum(ranks []int) int {
	sum := 0
	for _, r := range ranks {
		if r == 0 {
			r = 1_000_000_000
		}
		sum += r
	}
	return sum
}
