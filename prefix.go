package reorder

// releasablePrefix decides how much of a sorted pending set can be released
// for the given watermark. It returns the number of leading chunks to release
// and the watermark that follows the release; ok is false when nothing is
// releasable and the caller must leave its state untouched.
//
// A release is possible only when the lowest pending index is not past the
// watermark. Every chunk with index <= watermark+1 is then released and the
// watermark moves to watermark+1+n-1. With dense, unique indices this keeps
// the watermark equal to the next index the stream expects, releasing at most
// two chunks per call; callers loop until ok is false to drain a longer run.
func releasablePrefix(watermark uint64, pending []Chunk) (n int, next uint64, ok bool) {
	if len(pending) == 0 || pending[0].Index > watermark {
		return 0, watermark, false
	}
	limit := watermark + 1
	for n < len(pending) && pending[n].Index <= limit {
		n++
	}
	return n, limit + uint64(n) - 1, true
}

// insertionSort orders chunks by index, keeping equal indices in arrival
// order. Chunks mostly arrive close to their final position, so each call
// costs little more than a scan.
func insertionSort(chunks []Chunk) {
	for i := 1; i < len(chunks); i++ {
		c := chunks[i]
		j := i
		for j > 0 && chunks[j-1].Index > c.Index {
			chunks[j] = chunks[j-1]
			j--
		}
		chunks[j] = c
	}
}
