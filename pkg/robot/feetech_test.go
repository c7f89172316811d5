package robot

import "testing"

func TestServoGoal(t *testing.T) {
	tests := []struct {
		name        string
		raw         int
		degrees     float64
		wantGoal    int
		wantClamped bool
	}{
		{"quarter turn", centerCount, 90, centerCount + 1024, false},
		{"back to zero", 1024, -90, 0, false},
		{"to the top", centerCount, 180, maxCount, true},
		{"past the bottom", 100, -90, 0, true},
		{"two turns", centerCount, 720, maxCount, true},
		{"chunk fits", centerCount, FeetechMaxChunkDegrees - 1, centerCount + 2037, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			goal, clamped := servoGoal(tt.raw, tt.degrees)
			if goal != tt.wantGoal || clamped != tt.wantClamped {
				t.Errorf("servoGoal(%d, %v) = %d, %v; want %d, %v",
					tt.raw, tt.degrees, goal, clamped, tt.wantGoal, tt.wantClamped)
			}
		})
	}
}
