package usecase

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var leadingNumber = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)`)

// ParseTravelDuration reads answers like "45 minutes" or "2 hours" and
// returns whole minutes. It reports false when no positive duration with a
// recognized unit is found.
func ParseTravelDuration(text string) (int, bool) {
	m := leadingNumber.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	lower := strings.ToLower(text)
	var minutes float64
	switch {
	case strings.Contains(lower, "hour"):
		minutes = n * 60
	case strings.Contains(lower, "min"):
		minutes = n
	default:
		return 0, false
	}
	out := int(math.Round(minutes))
	if out <= 0 {
		return 0, false
	}
	return out, true
}
