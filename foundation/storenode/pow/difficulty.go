package pow

import (
	"math"
	"strconv"
	"time"
)

// TimestampVariance is how far a submission timestamp may sit from a
// difficulty change and still pick up the cheaper value. It protects
// clients whose clock skew lands them near a difficulty bump.
const TimestampVariance = 15 * time.Minute

// Difficulty represents one entry of the time indexed difficulty
// schedule fetched out of band.
type Difficulty struct {
	TimestampMs int64
	Difficulty  int
}

// ValidDifficulty selects the difficulty applicable to a submission
// with the specified millisecond timestamp: the minimum over the
// variance window around the timestamp, capped by the most recent entry
// before it. An empty history yields math.MaxInt32.
func ValidDifficulty(timestamp string, history []Difficulty) int {
	timestampMs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		// Callers validate the timestamp before admission; an
		// unparseable value cannot select a real difficulty.
		return 0
	}

	difficulty := math.MaxInt32
	mostRecentDifficulty := math.MaxInt32
	var mostRecent int64

	lower := timestampMs - TimestampVariance.Milliseconds()
	upper := timestampMs + TimestampVariance.Milliseconds()

	for _, entry := range history {
		t := entry.TimestampMs
		if t < timestampMs && t >= mostRecent {
			mostRecent = t
			mostRecentDifficulty = entry.Difficulty
		}

		if t >= lower && t <= upper && entry.Difficulty < difficulty {
			difficulty = entry.Difficulty
		}
	}

	if mostRecentDifficulty < difficulty {
		return mostRecentDifficulty
	}
	return difficulty
}
