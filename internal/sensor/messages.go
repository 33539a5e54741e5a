// Package sensor defines the raw per-topic messages consumed by the fusion
// pipeline. Field layout follows the common robotics message conventions so
// payloads can be produced by any bridge that speaks CBOR.
package sensor

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion-bridge/internal/geom"
)

// Header is carried by every stamped message.
type Header struct {
	Seq     uint32  `json:"seq,omitempty"`
	Stamp   float64 `json:"stamp"` // seconds; 0 means "latest"
	FrameID string  `json:"frame_id"`
}

// Stamped is implemented by every message that can be time-synchronized.
type Stamped interface {
	MessageHeader() Header
}

// MessageHeader implements Stamped.
func (h Header) MessageHeader() Header { return h }

// Vector3 is a translation or point.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation in (x, y, z, w) order.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is a position plus orientation.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Transform converts p to a rigid transform. A zero quaternion yields null.
func (p Pose) Transform() geom.Transform {
	return toGeom(p.Position, p.Orientation)
}

// TransformMsg is a translation plus rotation.
type TransformMsg struct {
	Translation Vector3    `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

// Transform converts m to a rigid transform. A zero quaternion yields null.
func (m TransformMsg) Transform() geom.Transform {
	return toGeom(m.Translation, m.Rotation)
}

// FromTransform converts a rigid transform into its message form.
func FromTransform(t geom.Transform) TransformMsg {
	if t.IsNull() {
		return TransformMsg{}
	}
	tr, q := t.Translation(), t.Rotation()
	return TransformMsg{
		Translation: Vector3{X: tr.X, Y: tr.Y, Z: tr.Z},
		Rotation:    Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real},
	}
}

func toGeom(v Vector3, q Quaternion) geom.Transform {
	return geom.NewTransform(
		r3.Vec{X: v.X, Y: v.Y, Z: v.Z},
		quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z},
	)
}

// Image is a raw image buffer.
type Image struct {
	Header
	Height      uint32 `json:"height"`
	Width       uint32 `json:"width"`
	Encoding    string `json:"encoding"`
	IsBigEndian bool   `json:"is_bigendian,omitempty"`
	Step        uint32 `json:"step"` // row length in bytes
	Data        []byte `json:"data"`
}

// CameraInfo carries the calibration of one camera. P is the 3x4 row-major
// projection matrix of the rectified image.
type CameraInfo struct {
	Header
	Height          uint32      `json:"height"`
	Width           uint32      `json:"width"`
	DistortionModel string      `json:"distortion_model,omitempty"`
	D               []float64   `json:"d,omitempty"`
	K               [9]float64  `json:"k"`
	R               [9]float64  `json:"r"`
	P               [12]float64 `json:"p"`
}

// LaserScan is a single planar range scan.
type LaserScan struct {
	Header
	AngleMin       float32   `json:"angle_min"`
	AngleMax       float32   `json:"angle_max"`
	AngleIncrement float32   `json:"angle_increment"`
	TimeIncrement  float32   `json:"time_increment,omitempty"`
	ScanTime       float32   `json:"scan_time,omitempty"`
	RangeMin       float32   `json:"range_min"`
	RangeMax       float32   `json:"range_max"`
	Ranges         []float32 `json:"ranges"`
	Intensities    []float32 `json:"intensities,omitempty"`
}

// Odometry is a pose estimate of ChildFrameID in Header.FrameID.
type Odometry struct {
	Header
	ChildFrameID string      `json:"child_frame_id"`
	Pose         Pose        `json:"pose"`
	Covariance   [36]float64 `json:"covariance"` // row-major 6x6
}

// OdomInfo is the diagnostics record published alongside odometry.
type OdomInfo struct {
	Header
	Lost                bool         `json:"lost"`
	Matches             int          `json:"matches"`
	Inliers             int          `json:"inliers"`
	ICPInliersRatio     float64      `json:"icp_inliers_ratio,omitempty"`
	Variance            float64      `json:"variance"`
	Features            int          `json:"features"`
	LocalMapSize        int          `json:"local_map_size"`
	TimeEstimation      float64      `json:"time_estimation"`
	TimeParticleFilter  float64      `json:"time_particle_filtering,omitempty"`
	StampDiff           float64      `json:"stamp_diff,omitempty"`
	Interval            float64      `json:"interval,omitempty"`
	Transform           TransformMsg `json:"transform"`
	TransformFiltered   TransformMsg `json:"transform_filtered,omitempty"`
	DistanceTravelled   float64      `json:"distance_travelled,omitempty"`
	KeyFrameAdded       bool         `json:"key_frame_added,omitempty"`
	WordsCount          int          `json:"words_count,omitempty"`
	LocalScanMapSize    int          `json:"local_scan_map_size,omitempty"`
	LocalBundleOutliers int          `json:"local_bundle_outliers,omitempty"`
}

// Info is the per-update summary published by the mapping core.
type Info struct {
	Header
	RefID                int                `json:"ref_id"`
	LoopClosureID        int                `json:"loop_closure_id"`
	ProximityDetectionID int                `json:"proximity_detection_id"`
	LandmarkID           int                `json:"landmark_id,omitempty"`
	LoopClosureTransform TransformMsg       `json:"loop_closure_transform"`
	WMState              []int              `json:"wm_state,omitempty"`
	Stats                map[string]float64 `json:"stats,omitempty"`
	Labels               map[int]string     `json:"labels,omitempty"`
}

// NodePose is a graph node pose.
type NodePose struct {
	ID   int  `json:"id"`
	Pose Pose `json:"pose"`
}

// Link is a graph constraint between two nodes.
type Link struct {
	FromID    int          `json:"from_id"`
	ToID      int          `json:"to_id"`
	Type      int          `json:"type"`
	Transform TransformMsg `json:"transform"`
}

// MapData is the graph published by the mapping core.
type MapData struct {
	Header
	MapToOdom TransformMsg `json:"map_to_odom"`
	Poses     []NodePose   `json:"poses"`
	Links     []Link       `json:"links"`
}

// TransformStamped is a single edge update for the transform tree.
type TransformStamped struct {
	Header
	ChildFrameID string       `json:"child_frame_id"`
	Transform    TransformMsg `json:"transform"`
}

// TFMessage is a batch of transform edges.
type TFMessage struct {
	Transforms []TransformStamped `json:"transforms"`
}
