package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

var chunker = regexp.MustCompile(`\d+|\D+`)

// naturalLess orders names so "btc101_1.2_en" sorts before "btc101_1.10_en".
func naturalLess(a, b string) bool {
	ca := chunker.FindAllString(a, -1)
	cb := chunker.FindAllString(b, -1)

	for i := 0; i < len(ca) && i < len(cb); i++ {
		na, errA := strconv.Atoi(ca[i])
		nb, errB := strconv.Atoi(cb[i])
		if errA == nil && errB == nil {
			if na != nb {
				return na < nb
			}
			continue
		}
		la, lb := strings.ToLower(ca[i]), strings.ToLower(cb[i])
		if la != lb {
			return la < lb
		}
	}
	return len(ca) < len(cb)
}
