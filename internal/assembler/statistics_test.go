package assembler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

func TestAssembleStatistics(t *testing.T) {
	corr := geom.FromXYZRPY(0.5, 0, 0, 0, 0, 0.1)
	info := &sensor.Info{
		Header:        sensor.Header{Stamp: 12.5},
		RefID:         42,
		LoopClosureID: 7,
		Stats:         map[string]float64{"Timing/Total/ms": 35},
		Labels:        map[int]string{7: "kitchen"},
	}
	m := &sensor.MapData{
		MapToOdom: sensor.FromTransform(corr),
		Poses: []sensor.NodePose{
			{ID: 1, Pose: sensor.Pose{Orientation: sensor.Quaternion{W: 1}}},
			{ID: 2, Pose: sensor.Pose{Position: sensor.Vector3{X: 1}, Orientation: sensor.Quaternion{W: 1}}},
		},
		Links: []sensor.Link{{FromID: 1, ToID: 2, Transform: sensor.TransformMsg{Translation: sensor.Vector3{X: 1}, Rotation: sensor.Quaternion{W: 1}}}},
	}

	s, err := AssembleStatistics(info, m)
	require.NoError(t, err)
	assert.Equal(t, 12.5, s.Stamp)
	assert.Equal(t, 42, s.RefID)
	assert.Equal(t, 35.0, s.Data["Timing/Total/ms"])
	assert.Equal(t, "kitchen", s.Labels[7])
	assert.True(t, s.MapCorrection.ApproxEqual(corr, 1e-12))
	require.Len(t, s.Poses, 2)
	assert.InDelta(t, 1.0, s.Poses[2].Translation().X, 1e-12)
	require.Len(t, s.Constraints, 1)
	assert.Equal(t, 2, s.Constraints[0].To)

	info.Stats["Timing/Total/ms"] = 99
	assert.Equal(t, 35.0, s.Data["Timing/Total/ms"], "statistics must not alias the message")

	_, err = AssembleStatistics(nil, m)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestGraphFromNilMapData(t *testing.T) {
	g := GraphFromMapData(nil)
	assert.True(t, g.MapCorrection.IsNull())
	assert.Empty(t, g.Poses)
	assert.Empty(t, g.Constraints)
}
