package robot

import "testing"

func TestParseJoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Joint
		wantErr bool
	}{
		{"A", JointA, false},
		{"d", JointD, false},
		{" c ", JointC, false},
		{"E", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseJoint(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseJoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseJoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampSpeed(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, MinSpeed},
		{0, MinSpeed},
		{50, 50},
		{250, MaxSpeed},
	}

	for _, tt := range tests {
		if got := ClampSpeed(tt.in); got != tt.want {
			t.Errorf("ClampSpeed(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFeetechMotor_TrackUnwraps(t *testing.T) {
	m := &FeetechMotor{}

	tests := []struct {
		raw  int
		want int
	}{
		{4000, 4000},
		{4090, 4090},
		{20, 4096 + 20},
		{100, 4096 + 100},
		{4050, 4050},
		{3000, 3000},
	}

	for _, tt := range tests {
		if got := m.track(tt.raw); got != tt.want {
			t.Errorf("track(%d) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
