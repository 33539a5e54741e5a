package assembler

import (
	"context"
	"fmt"

	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

func checkStereoEncoding(img *sensor.Image) error {
	switch img.Encoding {
	case sensor.EncodingMono8, sensor.EncodingMono16, sensor.EncodingBGR8, sensor.EncodingRGB8:
		return nil
	}
	return fmt.Errorf("%w: input type must be image=mono8,mono16,rgb8,bgr8 (got %s)", ErrFormat, img.Encoding)
}

// AssembleStereo builds an observation from a rectified stereo pair, with an
// optional scan. The left image keeps color when it has it; the right image
// is always mono8.
func (a *Assembler) AssembleStereo(ctx context.Context, in StereoInput) (*Observation, error) {
	if in.Left == nil || in.Right == nil || in.LeftInfo == nil || in.RightInfo == nil {
		return nil, fmt.Errorf("%w: incomplete stereo tuple", ErrFormat)
	}
	if err := checkStereoEncoding(in.Left); err != nil {
		return nil, err
	}
	if err := checkStereoEncoding(in.Right); err != nil {
		return nil, err
	}
	if in.Left.Width != in.Right.Width || in.Left.Height != in.Right.Height {
		return nil, fmt.Errorf("%w: left %dx%d and right %dx%d differ",
			ErrFormat, in.Left.Width, in.Left.Height, in.Right.Width, in.Right.Height)
	}

	var scan sensor.Stamped
	if in.Scan != nil {
		scan = in.Scan
	}
	ref, cov, err := a.newReference(ctx, in.Odom, scan, in.LeftInfo)
	if err != nil {
		return nil, err
	}

	local, err := a.localTransform(ctx, ref, in.LeftInfo.Header)
	if err != nil {
		return nil, err
	}

	left, err := decodeColor(in.Left)
	if err != nil {
		return nil, err
	}
	right, err := toMono8(in.Right)
	if err != nil {
		return nil, err
	}

	model := stereoModelFromInfo(in.LeftInfo, in.RightInfo)
	model.LocalTransform = local

	obs := a.newObservation(ref, cov, in.OdomInfo)
	obs.Image, obs.Depth, obs.Stereo = left, right, &model
	if in.Scan != nil {
		if obs.Scan, err = a.registerScan(ctx, ref, in.Scan); err != nil {
			return nil, err
		}
	}
	return obs, nil
}

// stereoModelFromInfo derives the rig model. The baseline comes from the
// right projection matrix: P[3] = -fx * baseline.
func stereoModelFromInfo(left, right *sensor.CameraInfo) StereoCameraModel {
	m := StereoCameraModel{
		Fx: left.P[0], Fy: left.P[5], Cx: left.P[2], Cy: left.P[6],
		Width: int(left.Width), Height: int(left.Height),
	}
	if right.P[0] != 0 {
		m.Baseline = -right.P[3] / right.P[0]
	}
	return m
}
