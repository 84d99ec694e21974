package match

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID builds a match id from a base36 millisecond timestamp and a
// crypto-random base36 suffix. The combination keeps ids collision-free
// across concurrent creators and across process restarts without any
// coordination.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + randSuffix(9)
}

func randSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto source failing is effectively unheard of; nanosecond
		// fallback keeps ids unique within a process.
		return fmt.Sprintf("%09x", time.Now().UnixNano()%0xfffffffff)[:n]
	}
	for i := range b {
		b[i] = base36[int(b[i])%len(base36)]
	}
	return string(b)
}
