package transport

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fusion-bridge/internal/assembler"
	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

// ConsumerStatus is published by the consumer on consumer/status.
type ConsumerStatus struct {
	BusyOdometry   bool `json:"busy_odometry"`
	BusyStatistics bool `json:"busy_statistics"`
}

// MatMsg is an image buffer on the wire.
type MatMsg struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Encoding string `json:"encoding"`
	Data     []byte `json:"data"`
}

// CameraMsg is a pinhole model on the wire.
type CameraMsg struct {
	Fx             float64             `json:"fx"`
	Fy             float64             `json:"fy"`
	Cx             float64             `json:"cx"`
	Cy             float64             `json:"cy"`
	Width          int                 `json:"width"`
	Height         int                 `json:"height"`
	Baseline       float64             `json:"baseline,omitempty"`
	LocalTransform sensor.TransformMsg `json:"local_transform"`
}

// ScanMsg is a registered scan on the wire. Ranges and Angles are the
// planar distance/bearing form of Points, index for index.
type ScanMsg struct {
	Points    []sensor.Vector3 `json:"points"`
	Ranges    []float64        `json:"ranges"`
	Angles    []float64        `json:"angles"`
	MaxPoints int              `json:"max_points"`
}

// ObservationMsg is the wire form of a fused observation. Null transforms
// are encoded with a zero quaternion.
type ObservationMsg struct {
	ID         string              `json:"id"`
	Session    string              `json:"session,omitempty"`
	Seq        uint32              `json:"seq"`
	Stamp      float64             `json:"stamp"`
	FrameID    string              `json:"frame_id"`
	Image      MatMsg              `json:"image"`
	Depth      MatMsg              `json:"depth"`
	Cameras    []CameraMsg         `json:"cameras,omitempty"`
	Stereo     *CameraMsg          `json:"stereo,omitempty"`
	Scan       *ScanMsg            `json:"scan,omitempty"`
	Pose       sensor.TransformMsg `json:"pose"`
	Covariance []float64           `json:"covariance"` // 6x6 row-major
	OdomInfo   *sensor.OdomInfo    `json:"odom_info,omitempty"`
}

// GraphMsg is the wire form of a map graph.
type GraphMsg struct {
	MapToOdom sensor.TransformMsg `json:"map_to_odom"`
	Poses     []sensor.NodePose   `json:"poses"`
	Links     []sensor.Link       `json:"links"`
}

// StatisticsMsg is the wire form of the mapping core's statistics.
type StatisticsMsg struct {
	GraphMsg
	ID                   string              `json:"id"`
	Stamp                float64             `json:"stamp"`
	RefID                int                 `json:"ref_id"`
	LoopClosureID        int                 `json:"loop_closure_id"`
	ProximityDetectionID int                 `json:"proximity_detection_id"`
	LandmarkID           int                 `json:"landmark_id,omitempty"`
	LoopClosureTransform sensor.TransformMsg `json:"loop_closure_transform"`
	WMState              []int               `json:"wm_state,omitempty"`
	Data                 map[string]float64  `json:"data,omitempty"`
	Labels               map[int]string      `json:"labels,omitempty"`
}

// MapErrorMsg reports a failed map request.
type MapErrorMsg struct {
	Error string `json:"error"`
}

func matMsg(m assembler.Mat) MatMsg {
	return MatMsg{Width: m.Width, Height: m.Height, Encoding: m.Encoding, Data: m.Data}
}

func poseMsg(t geom.Transform) sensor.TransformMsg {
	return sensor.FromTransform(t)
}

func covarianceMsg(c *mat.Dense) []float64 {
	if c == nil {
		c = geom.IdentityCovariance()
	}
	r, cols := c.Dims()
	out := make([]float64, 0, r*cols)
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, c.At(i, j))
		}
	}
	return out
}

// NewObservationMsg converts obs for publication.
func NewObservationMsg(obs *assembler.Observation, session string) ObservationMsg {
	msg := ObservationMsg{
		ID:         obs.ID,
		Session:    session,
		Seq:        obs.Seq,
		Stamp:      obs.Stamp,
		FrameID:    obs.FrameID,
		Image:      matMsg(obs.Image),
		Depth:      matMsg(obs.Depth),
		Pose:       poseMsg(obs.Pose),
		Covariance: covarianceMsg(obs.Covariance),
		OdomInfo:   obs.OdomInfo,
	}
	for _, c := range obs.Cameras {
		msg.Cameras = append(msg.Cameras, CameraMsg{
			Fx: c.Fx, Fy: c.Fy, Cx: c.Cx, Cy: c.Cy,
			Width: c.Width, Height: c.Height,
			LocalTransform: poseMsg(c.LocalTransform),
		})
	}
	if s := obs.Stereo; s != nil {
		msg.Stereo = &CameraMsg{
			Fx: s.Fx, Fy: s.Fy, Cx: s.Cx, Cy: s.Cy,
			Width: s.Width, Height: s.Height,
			Baseline:       s.Baseline,
			LocalTransform: poseMsg(s.LocalTransform),
		}
	}
	if obs.Scan != nil {
		pts := make([]sensor.Vector3, len(obs.Scan.Points))
		for i, p := range obs.Scan.Points {
			pts[i] = sensor.Vector3{X: p.X, Y: p.Y, Z: p.Z}
		}
		ranges, angles := obs.Scan.Polar()
		msg.Scan = &ScanMsg{Points: pts, Ranges: ranges, Angles: angles, MaxPoints: obs.Scan.MaxPoints}
	}
	return msg
}

// NewGraphMsg converts g for publication. Poses are ordered by node id.
func NewGraphMsg(g assembler.Graph) GraphMsg {
	msg := GraphMsg{
		MapToOdom: poseMsg(g.MapCorrection),
		Poses:     make([]sensor.NodePose, 0, len(g.Poses)),
		Links:     make([]sensor.Link, 0, len(g.Constraints)),
	}
	ids := make([]int, 0, len(g.Poses))
	for id := range g.Poses {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		tr := poseMsg(g.Poses[id])
		msg.Poses = append(msg.Poses, sensor.NodePose{ID: id, Pose: sensor.Pose{
			Position:    tr.Translation,
			Orientation: tr.Rotation,
		}})
	}
	for _, c := range g.Constraints {
		msg.Links = append(msg.Links, sensor.Link{FromID: c.From, ToID: c.To, Type: c.Type, Transform: poseMsg(c.Transform)})
	}
	return msg
}

// NewStatisticsMsg converts s for publication.
func NewStatisticsMsg(s *assembler.Statistics) StatisticsMsg {
	return StatisticsMsg{
		GraphMsg:             NewGraphMsg(s.Graph),
		ID:                   s.ID,
		Stamp:                s.Stamp,
		RefID:                s.RefID,
		LoopClosureID:        s.LoopClosureID,
		ProximityDetectionID: s.ProximityDetectionID,
		LandmarkID:           s.LandmarkID,
		LoopClosureTransform: poseMsg(s.LoopClosureTransform),
		WMState:              s.WMState,
		Data:                 s.Data,
		Labels:               s.Labels,
	}
}
