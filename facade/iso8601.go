package facade

import (
	"strconv"
	"strings"
	"time"
)

// parseISO8601Duration parses the restricted subset of ISO8601 durations
// used by spec.ExecutionProfile.MaxDuration and the STATELESS_MAX_DURATION_HINT
// env var: "PT<n>H", "PT<n>M", "PT<n>S", and combinations like "PT1H30M".
// Date components (P<n>D, P<n>Y, ...) are not supported since task timers
// operate on the scale of minutes to hours, not days.
func parseISO8601Duration(s string) (time.Duration, bool) {
	if !strings.HasPrefix(s, "PT") {
		return 0, false
	}
	rest := s[2:]
	if rest == "" {
		return 0, false
	}
	var total time.Duration
	num := strings.Builder{}
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num.WriteRune(r)
		case r == 'H' || r == 'M' || r == 'S':
			n, err := strconv.ParseFloat(num.String(), 64)
			if err != nil {
				return 0, false
			}
			num.Reset()
			switch r {
			case 'H':
				total += time.Duration(n * float64(time.Hour))
			case 'M':
				total += time.Duration(n * float64(time.Minute))
			case 'S':
				total += time.Duration(n * float64(time.Second))
			}
		default:
			return 0, false
		}
	}
	if num.Len() > 0 {
		return 0, false // trailing digits with no unit
	}
	return total, true
}
