package domain

import "testing"

func TestCompareCursorPosition(t *testing.T) {
	tests := []struct {
		name          string
		aHeight, aLog int64
		bHeight, bLog int64
		want          int
	}{
		{"equal", 100, 5, 100, 5, 0},
		{"higher block wins", 101, 0, 100, 99, 1},
		{"lower block loses", 100, 99, 101, 0, -1},
		{"same block higher log", 100, 6, 100, 5, 1},
		{"same block lower log", 100, 4, 100, 5, -1},
		{"zero against zero", 0, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareCursorPosition(tt.aHeight, tt.aLog, tt.bHeight, tt.bLog)
			if got != tt.want {
				t.Errorf("CompareCursorPosition(%d,%d vs %d,%d) = %d, want %d",
					tt.aHeight, tt.aLog, tt.bHeight, tt.bLog, got, tt.want)
			}
		})
	}
}
