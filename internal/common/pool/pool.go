package pool

import (
	"sync"
)

// Size classes for pooled byte slices. Get rounds the requested size up to
// the next class; anything above the largest class is allocated directly and
// dropped on Put.
const (
	class512  = 512
	class2K   = 2048
	class8K   = 8192
	class32K  = 32768
	class128K = 131072

	numClasses = 5
)

var classSizes = [numClasses]int{class512, class2K, class8K, class32K, class128K}

var pools [numClasses]sync.Pool

func classFor(size int) int {
	for i, cs := range classSizes {
		if size <= cs {
			return i
		}
	}
	return -1
}

// Get returns a zero-length byte slice with capacity of at least size.
func Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		return make([]byte, 0, size)
	}
	if v := pools[i].Get(); v != nil {
		return v.([]byte)[:0]
	}
	return make([]byte, 0, classSizes[i])
}

// Put returns a slice obtained from Get. Slices whose capacity does not match
// a size class exactly are dropped.
func Put(b []byte) {
	if b == nil {
		return
	}
	for i, cs := range classSizes {
		if cap(b) == cs {
			pools[i].Put(b[:0]) //nolint:staticcheck
			return
		}
	}
}
