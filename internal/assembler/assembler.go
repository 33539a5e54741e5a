// Package assembler turns one synchronized tuple of sensor messages into a
// single spatially registered observation.
//
// Every stream is expressed relative to the body frame at the reference
// time. A stream stamped differently from the reference is corrected with
// the platform motion between its own stamp and the reference stamp:
//
//	local' = odom_T_body(ref)^-1 * odom_T_body(stamp) * body_T_sensor(stamp)
//
// Any unresolved transform aborts the cycle and nothing is produced.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

var (
	// ErrTransformUnavailable means a required transform resolved to null.
	// It is a per-cycle skip, retried naturally on the next tuple.
	ErrTransformUnavailable = errors.New("transform unavailable")
	// ErrFormat means an input had an unsupported encoding, mismatched
	// dimensions or a malformed buffer.
	ErrFormat = errors.New("format mismatch")
	// ErrOdometryFrame means the odometry frame id is empty.
	ErrOdometryFrame = errors.New("odometry frame not set")
)

// Resolver resolves from_T_to at a stamp, returning null on failure.
type Resolver interface {
	Resolve(ctx context.Context, from, to string, stamp float64) geom.Transform
}

// CameraModel is the pinhole model of one camera.
type CameraModel struct {
	Fx, Fy, Cx, Cy float64
	Width, Height  int
	LocalTransform geom.Transform // body_T_camera at the reference time
}

// StereoCameraModel is a rectified stereo rig expressed at its left camera.
type StereoCameraModel struct {
	Fx, Fy, Cx, Cy float64
	Baseline       float64
	Width, Height  int
	LocalTransform geom.Transform
}

// Observation is one fused, registered sensor snapshot. It is never
// modified after Assemble returns it.
type Observation struct {
	ID      string
	Seq     uint32
	Stamp   float64
	FrameID string

	// Image is the color mosaic (depth mode) or the left image (stereo).
	Image Mat
	// Depth is the depth mosaic (depth mode) or the right image (stereo).
	Depth Mat

	Cameras []CameraModel
	Stereo  *StereoCameraModel
	Scan    *Scan

	Pose       geom.Transform // odom_T_body at Stamp
	Covariance *mat.Dense     // 6x6
	OdomInfo   *sensor.OdomInfo
}

// Config names the frames the assembler works in.
type Config struct {
	// FrameID is the body frame every sensor is registered into.
	FrameID string
	// OdomFrameID is used as the odometry frame when the tuple carries no
	// odometry message.
	OdomFrameID string
}

// Assembler builds observations. It is safe for concurrent use.
type Assembler struct {
	cfg      Config
	resolver Resolver

	floatDepthOnce sync.Once
}

// New returns an Assembler resolving transforms through r.
func New(cfg Config, r Resolver) *Assembler {
	return &Assembler{cfg: cfg, resolver: r}
}

// DepthInput is one synchronized RGB-D tuple. Images, Depths and
// CameraInfos are parallel, one entry per camera in subscription order.
type DepthInput struct {
	Odom        *sensor.Odometry
	Images      []*sensor.Image
	Depths      []*sensor.Image
	CameraInfos []*sensor.CameraInfo
	Scan        *sensor.LaserScan
	OdomInfo    *sensor.OdomInfo
}

// StereoInput is one synchronized stereo tuple.
type StereoInput struct {
	Odom      *sensor.Odometry
	Left      *sensor.Image
	Right     *sensor.Image
	LeftInfo  *sensor.CameraInfo
	RightInfo *sensor.CameraInfo
	Scan      *sensor.LaserScan
	OdomInfo  *sensor.OdomInfo
}

// reference is the per-cycle reference frame.
type reference struct {
	header sensor.Header // FrameID is the odometry frame
	odomT  geom.Transform
}

// newReference picks the reference header and resolves the odometry pose.
// candidates are consulted in order when odom is nil.
func (a *Assembler) newReference(ctx context.Context, odom *sensor.Odometry, candidates ...sensor.Stamped) (reference, *mat.Dense, error) {
	var h sensor.Header
	cov := geom.IdentityCovariance()
	if odom != nil {
		h = odom.Header
		cov = geom.CovarianceFromRowMajor(odom.Covariance)
	} else {
		for _, c := range candidates {
			if c != nil && !isNilStamped(c) {
				h = c.MessageHeader()
				break
			}
		}
		h.FrameID = a.cfg.OdomFrameID
	}
	if h.FrameID == "" {
		return reference{}, nil, ErrOdometryFrame
	}
	odomT := a.resolver.Resolve(ctx, h.FrameID, a.cfg.FrameID, h.Stamp)
	if odomT.IsNull() {
		return reference{}, nil, fmt.Errorf("%w: odometry %s -> %s at %.6f", ErrTransformUnavailable, h.FrameID, a.cfg.FrameID, h.Stamp)
	}
	return reference{header: h, odomT: odomT}, cov, nil
}

// isNilStamped catches typed nil pointers stored in the interface.
func isNilStamped(s sensor.Stamped) bool {
	switch v := s.(type) {
	case *sensor.LaserScan:
		return v == nil
	case *sensor.CameraInfo:
		return v == nil
	case *sensor.Image:
		return v == nil
	}
	return false
}

// correction returns the motion correction for a stream stamped at stamp:
// identity when stamp equals the reference stamp.
func (a *Assembler) correction(ctx context.Context, ref reference, stamp float64) (geom.Transform, error) {
	if stamp == ref.header.Stamp {
		return geom.Identity(), nil
	}
	sensorT := a.resolver.Resolve(ctx, ref.header.FrameID, a.cfg.FrameID, stamp)
	if sensorT.IsNull() {
		return geom.Null(), fmt.Errorf("%w: odometry %s -> %s at %.6f", ErrTransformUnavailable, ref.header.FrameID, a.cfg.FrameID, stamp)
	}
	return ref.odomT.Inverse().Mul(sensorT), nil
}

// localTransform resolves body_T_sensor for a sensor frame and applies the
// reference-time correction.
func (a *Assembler) localTransform(ctx context.Context, ref reference, h sensor.Header) (geom.Transform, error) {
	local := a.resolver.Resolve(ctx, a.cfg.FrameID, h.FrameID, h.Stamp)
	if local.IsNull() {
		return geom.Null(), fmt.Errorf("%w: %s -> %s at %.6f", ErrTransformUnavailable, a.cfg.FrameID, h.FrameID, h.Stamp)
	}
	corr, err := a.correction(ctx, ref, h.Stamp)
	if err != nil {
		return geom.Null(), err
	}
	if corr.IsIdentity() {
		return local, nil
	}
	return corr.Mul(local), nil
}

func (a *Assembler) newObservation(ref reference, cov *mat.Dense, info *sensor.OdomInfo) *Observation {
	return &Observation{
		ID:         uuid.New().String(),
		Seq:        ref.header.Seq,
		Stamp:      ref.header.Stamp,
		FrameID:    a.cfg.FrameID,
		Pose:       ref.odomT,
		Covariance: cov,
		OdomInfo:   info,
	}
}

// AssembleOdometry builds a pose-only observation from an odometry message.
func (a *Assembler) AssembleOdometry(ctx context.Context, odom *sensor.Odometry) (*Observation, error) {
	if odom == nil {
		return nil, fmt.Errorf("%w: missing odometry message", ErrFormat)
	}
	ref, cov, err := a.newReference(ctx, odom)
	if err != nil {
		return nil, err
	}
	return a.newObservation(ref, cov, nil), nil
}

// AssembleDepth builds an observation from one or more RGB-D cameras, with
// an optional scan.
func (a *Assembler) AssembleDepth(ctx context.Context, in DepthInput) (*Observation, error) {
	n := len(in.Images)
	if n == 0 || len(in.Depths) != n || len(in.CameraInfos) != n {
		return nil, fmt.Errorf("%w: %d images, %d depths, %d camera infos", ErrFormat, n, len(in.Depths), len(in.CameraInfos))
	}
	for i := 0; i < n; i++ {
		if in.Images[i] == nil || in.Depths[i] == nil || in.CameraInfos[i] == nil {
			return nil, fmt.Errorf("%w: camera %d incomplete", ErrFormat, i)
		}
	}

	var scan sensor.Stamped
	if in.Scan != nil {
		scan = in.Scan
	}
	ref, cov, err := a.newReference(ctx, in.Odom, scan, in.CameraInfos[0], in.Depths[0], in.Images[0])
	if err != nil {
		return nil, err
	}

	width, height := int(in.Images[0].Width), int(in.Images[0].Height)
	var rgb, depth Mat
	models := make([]CameraModel, 0, n)
	for i := 0; i < n; i++ {
		img, dep := in.Images[i], in.Depths[i]
		if err := checkDepthEncodings(img, dep); err != nil {
			return nil, err
		}
		if int(img.Width) != width || int(img.Height) != height || int(dep.Width) != width || int(dep.Height) != height {
			return nil, fmt.Errorf("%w: camera %d is %dx%d (depth %dx%d), want %dx%d",
				ErrFormat, i, img.Width, img.Height, dep.Width, dep.Height, width, height)
		}

		local, err := a.localTransform(ctx, ref, dep.Header)
		if err != nil {
			return nil, err
		}

		color, err := decodeColor(img)
		if err != nil {
			return nil, err
		}
		d, converted, err := decodeDepth(dep)
		if err != nil {
			return nil, err
		}
		if converted {
			a.floatDepthOnce.Do(func() {
				monitoring.Opsf("[Assembler] warning: use depth images with 16UC1 type to avoid conversion; this message is only printed once")
			})
		}

		if rgb.Empty() {
			rgb = NewMat(width*n, height, color.Encoding)
		}
		if depth.Empty() {
			depth = NewMat(width*n, height, d.Encoding)
		}
		if color.Encoding != rgb.Encoding {
			return nil, fmt.Errorf("%w: camera %d image is %s, camera 0 is %s", ErrFormat, i, color.Encoding, rgb.Encoding)
		}
		rgb.blit(color, i*width)
		depth.blit(d, i*width)

		models = append(models, cameraModelFromInfo(in.CameraInfos[i], local))
	}

	obs := a.newObservation(ref, cov, in.OdomInfo)
	obs.Image, obs.Depth, obs.Cameras = rgb, depth, models
	if in.Scan != nil {
		if obs.Scan, err = a.registerScan(ctx, ref, in.Scan); err != nil {
			return nil, err
		}
	}
	return obs, nil
}

func checkDepthEncodings(img, dep *sensor.Image) error {
	switch img.Encoding {
	case sensor.Encoding8UC1, sensor.EncodingMono8, sensor.EncodingMono16, sensor.EncodingBGR8, sensor.EncodingRGB8:
	default:
		return fmt.Errorf("%w: input type must be image=mono8,mono16,rgb8,bgr8 and image_depth=32FC1,16UC1,mono16 (got %s, %s)",
			ErrFormat, img.Encoding, dep.Encoding)
	}
	switch dep.Encoding {
	case sensor.Encoding16UC1, sensor.Encoding32FC1, sensor.EncodingMono16:
	default:
		return fmt.Errorf("%w: input type must be image=mono8,mono16,rgb8,bgr8 and image_depth=32FC1,16UC1,mono16 (got %s, %s)",
			ErrFormat, img.Encoding, dep.Encoding)
	}
	return nil
}

// cameraModelFromInfo reads intrinsics from the projection matrix, falling
// back to K for unrectified calibrations.
func cameraModelFromInfo(info *sensor.CameraInfo, local geom.Transform) CameraModel {
	m := CameraModel{
		Fx: info.P[0], Fy: info.P[5], Cx: info.P[2], Cy: info.P[6],
		Width: int(info.Width), Height: int(info.Height),
		LocalTransform: local,
	}
	if m.Fx == 0 {
		m.Fx, m.Fy, m.Cx, m.Cy = info.K[0], info.K[4], info.K[2], info.K[5]
	}
	return m
}
