package pow_test

import (
	"math"
	"testing"

	"github.com/overlaynet/storenode/foundation/storenode/pow"
)

func TestValidDifficulty(t *testing.T) {
	type table struct {
		name      string
		timestamp string
		history   []pow.Difficulty
		want      int
	}

	tt := []table{
		{
			name:      "window and recent",
			timestamp: "2500",
			history: []pow.Difficulty{
				{TimestampMs: 1000, Difficulty: 10},
				{TimestampMs: 2000, Difficulty: 20},
				{TimestampMs: 3000, Difficulty: 5},
			},
			want: 5,
		},
		{
			name:      "empty history",
			timestamp: "2500",
			history:   nil,
			want:      math.MaxInt32,
		},
		{
			name:      "recent caps the window",
			timestamp: "10000000",
			history: []pow.Difficulty{
				{TimestampMs: 9_500_000, Difficulty: 2},
				{TimestampMs: 10_000_100, Difficulty: 50},
			},
			want: 2,
		},
		{
			name:      "window only",
			timestamp: "1000",
			history: []pow.Difficulty{
				{TimestampMs: 500_000, Difficulty: 7},
			},
			want: 7,
		},
		{
			name:      "entry outside window and future",
			timestamp: "1000",
			history: []pow.Difficulty{
				{TimestampMs: 100_000_000, Difficulty: 3},
			},
			want: math.MaxInt32,
		},
	}

	t.Log("Given the need to select the applicable difficulty.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling history %q.", testID, tst.name)
			{
				got := pow.ValidDifficulty(tst.timestamp, tst.history)
				if got != tst.want {
					t.Fatalf("\t%s\tTest %d:\tShould get difficulty %d: got %d.", failed, testID, tst.want, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get difficulty %d.", success, testID, tst.want)
			}
		}
	}
}
