package assembler

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

type key struct {
	from, to string
	stamp    float64
}

type fakeResolver struct {
	tfs   map[key]geom.Transform
	calls []key
}

func newFakeResolver() *fakeResolver { return &fakeResolver{tfs: map[key]geom.Transform{}} }

func (f *fakeResolver) set(from, to string, stamp float64, t geom.Transform) {
	f.tfs[key{from, to, stamp}] = t
}

func (f *fakeResolver) Resolve(_ context.Context, from, to string, stamp float64) geom.Transform {
	k := key{from, to, stamp}
	f.calls = append(f.calls, k)
	return f.tfs[k]
}

func (f *fakeResolver) called(from, to string, stamp float64) bool {
	for _, c := range f.calls {
		if c == (key{from, to, stamp}) {
			return true
		}
	}
	return false
}

func monoImage(frame string, stamp float64, w, h int, fill byte) *sensor.Image {
	data := bytes.Repeat([]byte{fill}, w*h)
	return &sensor.Image{Header: sensor.Header{Stamp: stamp, FrameID: frame}, Width: uint32(w), Height: uint32(h),
		Encoding: sensor.EncodingMono8, Step: uint32(w), Data: data}
}

func depthImage(frame string, stamp float64, w, h int, mm uint16) *sensor.Image {
	data := make([]byte, w*h*2)
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], mm)
	}
	return &sensor.Image{Header: sensor.Header{Stamp: stamp, FrameID: frame}, Width: uint32(w), Height: uint32(h),
		Encoding: sensor.Encoding16UC1, Step: uint32(2 * w), Data: data}
}

func cameraInfo(frame string, stamp float64, w, h int) *sensor.CameraInfo {
	return &sensor.CameraInfo{
		Header: sensor.Header{Stamp: stamp, FrameID: frame},
		Width:  uint32(w), Height: uint32(h),
		P: [12]float64{525, 0, 319.5, 0, 0, 525, 239.5, 0, 0, 0, 1, 0},
	}
}

func odometry(stamp float64) *sensor.Odometry {
	return &sensor.Odometry{Header: sensor.Header{Seq: 7, Stamp: stamp, FrameID: "odom"}, ChildFrameID: "base_link"}
}

var (
	odomPose  = geom.FromXYZRPY(1, 2, 0, 0, 0, 0.3)
	camMount  = geom.FromXYZRPY(0.1, 0, 0.5, -math.Pi/2, 0, -math.Pi/2)
	laserPose = geom.FromXYZRPY(0.2, 0, 0.1, 0, 0, 0)
)

func depthFixture(stamp float64) (*fakeResolver, DepthInput) {
	r := newFakeResolver()
	r.set("odom", "base_link", stamp, odomPose)
	r.set("base_link", "camera", stamp, camMount)
	in := DepthInput{
		Odom:        odometry(stamp),
		Images:      []*sensor.Image{monoImage("camera", stamp, 4, 3, 10)},
		Depths:      []*sensor.Image{depthImage("camera", stamp, 4, 3, 1000)},
		CameraInfos: []*sensor.CameraInfo{cameraInfo("camera", stamp, 4, 3)},
	}
	return r, in
}

func newTestAssembler(r Resolver) *Assembler {
	return New(Config{FrameID: "base_link"}, r)
}

func TestAssembleDepthExactStamps(t *testing.T) {
	r, in := depthFixture(10)
	obs, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	require.NoError(t, err)

	assert.NotEmpty(t, obs.ID)
	assert.Equal(t, uint32(7), obs.Seq)
	assert.Equal(t, 10.0, obs.Stamp)
	assert.True(t, obs.Pose.ApproxEqual(odomPose, 1e-12))
	require.Len(t, obs.Cameras, 1)
	assert.True(t, obs.Cameras[0].LocalTransform.ApproxEqual(camMount, 1e-12))
	assert.Equal(t, 525.0, obs.Cameras[0].Fx)
	assert.Equal(t, 239.5, obs.Cameras[0].Cy)
	assert.True(t, mat.Equal(obs.Covariance, geom.IdentityCovariance()))
	assert.Nil(t, obs.Scan)

	// Exactly two lookups: the odometry pose and the camera mount.
	assert.Len(t, r.calls, 2)
}

func TestAssembleDepthCorrectsCameraStamp(t *testing.T) {
	r, in := depthFixture(10)
	in.Depths[0].Stamp = 10.05
	later := geom.FromXYZRPY(1.1, 2, 0, 0, 0, 0.35)
	r.set("base_link", "camera", 10.05, camMount)
	r.set("odom", "base_link", 10.05, later)

	obs, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	require.NoError(t, err)

	want := odomPose.Inverse().Mul(later).Mul(camMount)
	assert.True(t, obs.Cameras[0].LocalTransform.ApproxEqual(want, 1e-12), "got %v want %v", obs.Cameras[0].LocalTransform, want)
	assert.True(t, r.called("odom", "base_link", 10.05))
}

func TestAssembleDepthCovariance(t *testing.T) {
	r, in := depthFixture(1)
	in.Odom.Covariance[0] = 0.01
	in.Odom.Covariance[35] = 0.02
	in.Odom.Covariance[5] = 0.5
	obs, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			assert.Equal(t, in.Odom.Covariance[i*6+j], obs.Covariance.At(i, j))
		}
	}
}

func TestAssembleDepthTwoCameraMosaic(t *testing.T) {
	r := newFakeResolver()
	r.set("odom", "base_link", 5, odomPose)
	r.set("base_link", "cam0", 5, camMount)
	r.set("base_link", "cam1", 5, geom.Identity())
	const w, h = 3, 2
	in := DepthInput{
		Odom:        odometry(5),
		Images:      []*sensor.Image{monoImage("cam0", 5, w, h, 1), monoImage("cam1", 5, w, h, 2)},
		Depths:      []*sensor.Image{depthImage("cam0", 5, w, h, 100), depthImage("cam1", 5, w, h, 200)},
		CameraInfos: []*sensor.CameraInfo{cameraInfo("cam0", 5, w, h), cameraInfo("cam1", 5, w, h)},
	}
	obs, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2*w, obs.Image.Width)
	assert.Equal(t, h, obs.Image.Height)
	assert.Equal(t, 2*w, obs.Depth.Width)
	for y := 0; y < h; y++ {
		for x := 0; x < 2*w; x++ {
			wantPix, wantDepth := byte(1), uint16(100)
			if x >= w {
				wantPix, wantDepth = 2, 200
			}
			assert.Equal(t, wantPix, obs.Image.At(x, y)[0], "pixel (%d,%d)", x, y)
			assert.Equal(t, wantDepth, obs.Depth.DepthAt(x, y), "depth (%d,%d)", x, y)
		}
	}
	require.Len(t, obs.Cameras, 2)
	assert.True(t, obs.Cameras[1].LocalTransform.IsIdentity())
}

func TestAssembleDepthRejectsMismatchedCameras(t *testing.T) {
	r := newFakeResolver()
	r.set("odom", "base_link", 5, odomPose)
	r.set("base_link", "cam0", 5, camMount)
	r.set("base_link", "cam1", 5, camMount)
	base := func() DepthInput {
		return DepthInput{
			Odom:        odometry(5),
			Images:      []*sensor.Image{monoImage("cam0", 5, 2, 2, 1), monoImage("cam1", 5, 2, 2, 2)},
			Depths:      []*sensor.Image{depthImage("cam0", 5, 2, 2, 1), depthImage("cam1", 5, 2, 2, 1)},
			CameraInfos: []*sensor.CameraInfo{cameraInfo("cam0", 5, 2, 2), cameraInfo("cam1", 5, 2, 2)},
		}
	}

	in := base()
	in.Images[1] = &sensor.Image{Header: in.Images[1].Header, Width: 2, Height: 2, Encoding: sensor.EncodingBGR8, Data: make([]byte, 12)}
	_, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrFormat, "mixed pixel types")

	in = base()
	in.Images[1] = monoImage("cam1", 5, 3, 2, 1)
	_, err = newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrFormat, "mismatched size")

	in = base()
	in.CameraInfos = in.CameraInfos[:1]
	_, err = newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrFormat, "missing camera info")
}

func TestAssembleDepthRejectsEncodings(t *testing.T) {
	r, in := depthFixture(1)
	in.Images[0].Encoding = "yuv422"
	_, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrFormat)

	r, in = depthFixture(1)
	in.Depths[0].Encoding = sensor.EncodingMono8
	_, err = newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrFormat)

	r, in = depthFixture(1)
	in.Depths[0].Data = in.Depths[0].Data[:5]
	_, err = newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrFormat, "short buffer")
}

func TestAssembleDepthNullTransformsAbort(t *testing.T) {
	r, in := depthFixture(1)
	delete(r.tfs, key{"odom", "base_link", 1})
	obs, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.Nil(t, obs)
	assert.ErrorIs(t, err, ErrTransformUnavailable)

	r, in = depthFixture(1)
	delete(r.tfs, key{"base_link", "camera", 1})
	obs, err = newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.Nil(t, obs)
	assert.ErrorIs(t, err, ErrTransformUnavailable)

	r, in = depthFixture(1)
	in.Depths[0].Stamp = 1.5
	r.set("base_link", "camera", 1.5, camMount)
	obs, err = newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.Nil(t, obs)
	assert.ErrorIs(t, err, ErrTransformUnavailable, "missing correction pose")
}

func TestAssembleDepthOdometryFrameRequired(t *testing.T) {
	r, in := depthFixture(1)
	in.Odom = nil
	_, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrOdometryFrame)

	in.Odom = odometry(1)
	in.Odom.FrameID = ""
	_, err = newTestAssembler(r).AssembleDepth(context.Background(), in)
	assert.ErrorIs(t, err, ErrOdometryFrame)
}

func TestAssembleDepthReferenceFallback(t *testing.T) {
	r := newFakeResolver()
	r.set("odom", "base_link", 3, odomPose)
	r.set("odom", "base_link", 4, odomPose)
	r.set("base_link", "camera", 4, camMount)
	r.set("base_link", "laser", 3, laserPose)
	a := New(Config{FrameID: "base_link", OdomFrameID: "odom"}, r)

	in := DepthInput{
		Images:      []*sensor.Image{monoImage("camera", 4, 2, 2, 1)},
		Depths:      []*sensor.Image{depthImage("camera", 4, 2, 2, 1)},
		CameraInfos: []*sensor.CameraInfo{cameraInfo("camera", 4, 2, 2)},
	}
	obs, err := a.AssembleDepth(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 4.0, obs.Stamp, "camera info stamp is the reference without scan")

	in.Scan = &sensor.LaserScan{Header: sensor.Header{Stamp: 3, FrameID: "laser"}, RangeMax: 10, Ranges: []float32{1}}
	obs, err = a.AssembleDepth(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3.0, obs.Stamp, "scan stamp is the reference")
}

func TestAssembleDepthFloatDepthWarnsOnce(t *testing.T) {
	var ops bytes.Buffer
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: &ops})
	t.Cleanup(func() { monitoring.SetLogWriters(monitoring.DefaultLogWriters()) })

	r, in := depthFixture(1)
	data := make([]byte, 4*3*4)
	for i := 0; i < 12; i++ {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(1.5))
	}
	in.Depths[0] = &sensor.Image{Header: in.Depths[0].Header, Width: 4, Height: 3, Encoding: sensor.Encoding32FC1, Data: data}

	a := newTestAssembler(r)
	for i := 0; i < 3; i++ {
		obs, err := a.AssembleDepth(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, uint16(1500), obs.Depth.DepthAt(2, 1))
	}
	assert.Equal(t, 1, bytes.Count(ops.Bytes(), []byte("only printed once")))
}

func TestAssembleDepthWithScanCorrection(t *testing.T) {
	r, in := depthFixture(10)
	in.Scan = &sensor.LaserScan{
		Header:   sensor.Header{Stamp: 10.1, FrameID: "laser"},
		AngleMin: 0, AngleIncrement: float32(math.Pi / 2),
		RangeMin: 0.1, RangeMax: 20,
		Ranges: []float32{2, float32(math.NaN()), 30, 0.05},
	}
	later := geom.FromXYZRPY(1.5, 2, 0, 0, 0, 0.3)
	r.set("base_link", "laser", 10.1, laserPose)
	r.set("odom", "base_link", 10.1, later)

	obs, err := newTestAssembler(r).AssembleDepth(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, obs.Scan)
	assert.Equal(t, 4, obs.Scan.MaxPoints)
	require.Len(t, obs.Scan.Points, 1, "invalid beams are skipped")

	want := odomPose.Inverse().Mul(later).Mul(laserPose).Apply(r3.Vec{X: 2})
	got := obs.Scan.Points[0]
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
}
