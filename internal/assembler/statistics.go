package assembler

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

// Constraint is a graph edge between two nodes.
type Constraint struct {
	From, To  int
	Type      int
	Transform geom.Transform
}

// Graph is the pose graph published by the mapping core.
type Graph struct {
	MapCorrection geom.Transform // map_T_odom
	Poses         map[int]geom.Transform
	Constraints   []Constraint
}

// GraphFromMapData converts a map data message. A nil message yields an
// empty graph with a null correction.
func GraphFromMapData(m *sensor.MapData) Graph {
	if m == nil {
		return Graph{Poses: map[int]geom.Transform{}}
	}
	g := Graph{
		MapCorrection: m.MapToOdom.Transform(),
		Poses:         make(map[int]geom.Transform, len(m.Poses)),
		Constraints:   make([]Constraint, 0, len(m.Links)),
	}
	for _, p := range m.Poses {
		g.Poses[p.ID] = p.Pose.Transform()
	}
	for _, l := range m.Links {
		g.Constraints = append(g.Constraints, Constraint{From: l.FromID, To: l.ToID, Type: l.Type, Transform: l.Transform.Transform()})
	}
	return g
}

// Statistics is one mapping-core update combined with its graph.
type Statistics struct {
	Graph

	ID    string
	Stamp float64

	RefID                int
	LoopClosureID        int
	ProximityDetectionID int
	LandmarkID           int
	LoopClosureTransform geom.Transform
	WMState              []int
	Data                 map[string]float64
	Labels               map[int]string
}

// AssembleStatistics combines a synchronized info and map data pair.
func AssembleStatistics(info *sensor.Info, m *sensor.MapData) (*Statistics, error) {
	if info == nil || m == nil {
		return nil, fmt.Errorf("%w: statistics need both info and map data", ErrFormat)
	}
	s := &Statistics{
		ID:                   uuid.New().String(),
		Stamp:                info.Stamp,
		RefID:                info.RefID,
		LoopClosureID:        info.LoopClosureID,
		ProximityDetectionID: info.ProximityDetectionID,
		LandmarkID:           info.LandmarkID,
		LoopClosureTransform: info.LoopClosureTransform.Transform(),
		WMState:              append([]int(nil), info.WMState...),
		Data:                 make(map[string]float64, len(info.Stats)),
		Labels:               make(map[int]string, len(info.Labels)),
		Graph:                GraphFromMapData(m),
	}
	for k, v := range info.Stats {
		s.Data[k] = v
	}
	for k, v := range info.Labels {
		s.Labels[k] = v
	}
	return s, nil
}
