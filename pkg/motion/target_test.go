package motion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

func TestParsePointExpr(t *testing.T) {
	tests := []struct {
		expr    string
		name    string
		offset  float64
		wantErr bool
	}{
		{"open", "open", 0, false},
		{"open+5", "open", 5, false},
		{"neutral - 2.5", "neutral", -2.5, false},
		{" pick_2+0.25 ", "pick_2", 0.25, false},
		{"open+", "", 0, true},
		{"+5", "", 0, true},
		{"open*2", "", 0, true},
		{"", "", 0, true},
	}

	for _, tt := range tests {
		name, off, err := parsePointExpr(tt.expr)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownPoint, tt.expr)
			continue
		}
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.name, name, tt.expr)
		assert.Equal(t, tt.offset, off, tt.expr)
	}
}

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget("-12.5")
	require.NoError(t, err)
	assert.Equal(t, Degrees(-12.5), tg)

	tg, err = ParseTarget("closed+3")
	require.NoError(t, err)
	assert.Equal(t, Point("closed+3"), tg)

	_, err = ParseTarget("NaN")
	assert.Error(t, err)
}

func TestPose_DecodesNumbersAndPoints(t *testing.T) {
	var fromYAML Pose
	require.NoError(t, yaml.Unmarshal([]byte("A: open\nD: -45\nC: pick+2\n"), &fromYAML))

	var fromJSON Pose
	require.NoError(t, json.Unmarshal([]byte(`{"A": "open", "D": -45, "C": "pick+2"}`), &fromJSON))

	want := Pose{robot.JointA: Point("open"), robot.JointD: Degrees(-45), robot.JointC: Point("pick+2")}
	assert.Equal(t, want, fromYAML)
	assert.Equal(t, want, fromJSON)

	targets := want.Targets()
	require.Len(t, targets, 3)
	assert.Equal(t, []robot.Joint{robot.JointA, robot.JointC, robot.JointD},
		[]robot.Joint{targets[0].Joint, targets[1].Joint, targets[2].Joint})
}
