package bridge

import (
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion-bridge/internal/assembler"
	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
	"github.com/banshee-data/fusion-bridge/internal/tf"
	"github.com/banshee-data/fusion-bridge/internal/timeutil"
	"github.com/banshee-data/fusion-bridge/internal/topology"
)

type fakeConsumer struct {
	busyOdom  atomic.Bool
	busyStats atomic.Bool

	mu    sync.Mutex
	obs   []*assembler.Observation
	stats []*assembler.Statistics
	got   chan struct{}
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{got: make(chan struct{}, 64)}
}

func (c *fakeConsumer) IsBusyOdometry() bool   { return c.busyOdom.Load() }
func (c *fakeConsumer) IsBusyStatistics() bool { return c.busyStats.Load() }

func (c *fakeConsumer) ProcessOdometry(o *assembler.Observation) {
	c.mu.Lock()
	c.obs = append(c.obs, o)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *fakeConsumer) ProcessStatistics(s *assembler.Statistics) {
	c.mu.Lock()
	c.stats = append(c.stats, s)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *fakeConsumer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the consumer")
	}
}

func (c *fakeConsumer) observations() []*assembler.Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*assembler.Observation(nil), c.obs...)
}

func mute(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: &buf})
	t.Cleanup(func() { monitoring.SetLogWriters(monitoring.DefaultLogWriters()) })
	return &buf
}

var cameraMount = geom.FromXYZRPY(0.1, 0, 0.5, 0, 0, 0)

// newTree returns a transform tree with a static camera and scanner mount
// and odometry samples at one-second steps.
func newTree(t *testing.T, stamps ...float64) *tf.Buffer {
	t.Helper()
	buf := tf.NewBuffer(tf.DefaultCacheTime)
	static := func(child string, tr geom.Transform) {
		require.NoError(t, buf.Set(sensor.TransformStamped{
			Header:       sensor.Header{FrameID: "base_link"},
			ChildFrameID: child,
			Transform:    sensor.FromTransform(tr),
		}, true))
	}
	static("camera", cameraMount)
	static("laser", geom.FromXYZRPY(0.2, 0, 0.3, 0, 0, 0))
	static("left", cameraMount)
	for _, s := range stamps {
		require.NoError(t, buf.Set(sensor.TransformStamped{
			Header:       sensor.Header{Stamp: s, FrameID: "odom"},
			ChildFrameID: "base_link",
			Transform:    sensor.FromTransform(geom.FromXYZRPY(s, 0, 0, 0, 0, 0)),
		}, false))
	}
	return buf
}

func mono(frame string, stamp float64) *sensor.Image {
	return &sensor.Image{Header: sensor.Header{Stamp: stamp, FrameID: frame}, Width: 2, Height: 2,
		Encoding: sensor.EncodingMono8, Step: 2, Data: []byte{1, 2, 3, 4}}
}

func depth(frame string, stamp float64) *sensor.Image {
	data := make([]byte, 8)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], 1000)
	}
	return &sensor.Image{Header: sensor.Header{Stamp: stamp, FrameID: frame}, Width: 2, Height: 2,
		Encoding: sensor.Encoding16UC1, Step: 4, Data: data}
}

func info(frame string, stamp float64) *sensor.CameraInfo {
	return &sensor.CameraInfo{Header: sensor.Header{Stamp: stamp, FrameID: frame}, Width: 2, Height: 2,
		P: [12]float64{2, 0, 1, 0, 0, 2, 1, 0, 0, 0, 1, 0}}
}

func odom(stamp float64) *sensor.Odometry {
	return &sensor.Odometry{Header: sensor.Header{Stamp: stamp, FrameID: "odom"}, ChildFrameID: "base_link"}
}

func newDepthBridge(t *testing.T, consumer *fakeConsumer, clock timeutil.Clock) *Bridge {
	t.Helper()
	b := New(Config{
		Topology: topology.Topology{UsesDepth: true, CameraCount: 1},
		FrameID:  "base_link",
	}, tf.NewResolver(newTree(t, 1, 2, 3), false), consumer, clock, nil)
	t.Cleanup(b.Close)
	return b
}

func pushDepth(t *testing.T, b *Bridge, stamp float64) {
	t.Helper()
	require.NoError(t, b.Push("odom", odom(stamp)))
	require.NoError(t, b.Push("rgb/image", mono("camera", stamp)))
	require.NoError(t, b.Push("depth/image", depth("camera", stamp)))
	require.NoError(t, b.Push("rgb/camera_info", info("camera", stamp)))
}

func TestBridgeDepthObservation(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	b := newDepthBridge(t, consumer, timeutil.NewMockClock(time.Unix(100, 0)))

	assert.Equal(t, topology.Depth, b.Policy().Kind)
	assert.NotEmpty(t, b.Session())

	pushDepth(t, b, 1)
	consumer.wait(t)

	obs := consumer.observations()
	require.Len(t, obs, 1)
	o := obs[0]
	assert.Equal(t, 1.0, o.Stamp)
	assert.Equal(t, "base_link", o.FrameID)
	assert.True(t, o.Pose.ApproxEqual(geom.FromXYZRPY(1, 0, 0, 0, 0, 0), 1e-9))
	require.Len(t, o.Cameras, 1)
	assert.True(t, o.Cameras[0].LocalTransform.ApproxEqual(cameraMount, 1e-9))
	assert.Equal(t, 2, o.Image.Width)
	assert.Equal(t, 2, o.Depth.Height)
}

func TestBridgeRateGate(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	b := newDepthBridge(t, consumer, clock)

	pushDepth(t, b, 1)
	consumer.wait(t)

	clock.Advance(50 * time.Millisecond)
	pushDepth(t, b, 2)

	clock.Advance(100 * time.Millisecond)
	pushDepth(t, b, 3)
	consumer.wait(t)

	b.Close()
	obs := consumer.observations()
	require.Len(t, obs, 2)
	assert.Equal(t, 1.0, obs[0].Stamp)
	assert.Equal(t, 3.0, obs[1].Stamp)
}

func TestBridgeBusyConsumer(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	consumer.busyStats.Store(true)
	b := newDepthBridge(t, consumer, timeutil.NewMockClock(time.Unix(100, 0)))

	pushDepth(t, b, 1)
	b.Close()
	assert.Empty(t, consumer.observations())
	assert.Zero(t, b.Delivered())
}

func TestBridgeTransformUnavailable(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	b := newDepthBridge(t, consumer, timeutil.NewMockClock(time.Unix(100, 0)))

	// The tree has no odometry sample at 7.
	pushDepth(t, b, 7)
	b.Close()
	assert.Empty(t, consumer.observations())
}

func TestBridgeFormatErrorLogged(t *testing.T) {
	logs := mute(t)
	consumer := newFakeConsumer()
	b := newDepthBridge(t, consumer, timeutil.NewMockClock(time.Unix(100, 0)))

	bad := mono("camera", 1)
	bad.Encoding = "yuv422"
	require.NoError(t, b.Push("odom", odom(1)))
	require.NoError(t, b.Push("rgb/image", bad))
	require.NoError(t, b.Push("depth/image", depth("camera", 1)))
	require.NoError(t, b.Push("rgb/camera_info", info("camera", 1)))
	b.Close()

	assert.Empty(t, consumer.observations())
	assert.Contains(t, logs.String(), "[Bridge] error")
}

func TestBridgePushErrors(t *testing.T) {
	mute(t)
	b := newDepthBridge(t, newFakeConsumer(), nil)

	assert.ErrorIs(t, b.Push("left/image_rect", mono("left", 1)), ErrUnknownTopic)
	assert.ErrorIs(t, b.Push("rgb/image", info("camera", 1)), ErrWrongType)
	assert.ErrorIs(t, b.Push("odom", (*sensor.Odometry)(nil)), ErrWrongType)
	assert.ErrorIs(t, b.Push(TopicInfo, odom(1)), ErrWrongType)
	assert.ErrorIs(t, b.Push(TopicMapData, (*sensor.MapData)(nil)), ErrWrongType)
}

func TestBridgeTopics(t *testing.T) {
	mute(t)
	b := newDepthBridge(t, newFakeConsumer(), nil)
	assert.Equal(t, []string{"odom", "rgb/image", "depth/image", "rgb/camera_info", TopicInfo, TopicMapData}, b.Topics())
}

func TestBridgeOdomOnly(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	b := New(Config{FrameID: "base_link"}, tf.NewResolver(newTree(t, 1), false), consumer,
		timeutil.NewMockClock(time.Unix(100, 0)), nil)
	defer b.Close()

	assert.Equal(t, topology.OdomOnly, b.Policy().Kind)
	require.NoError(t, b.Push("odom", odom(1)))
	consumer.wait(t)

	obs := consumer.observations()
	require.Len(t, obs, 1)
	assert.Empty(t, obs[0].Cameras)
	assert.Nil(t, obs[0].Scan)
}

func TestBridgeStereoScanTF(t *testing.T) {
	logs := mute(t)
	consumer := newFakeConsumer()
	b := New(Config{
		Topology:    topology.Topology{UsesStereo: true, UsesScan: true, OdomFromTransform: true, CameraCount: 1},
		FrameID:     "base_link",
		OdomFrameID: "odom",
	}, tf.NewResolver(newTree(t, 1), false), consumer, timeutil.NewMockClock(time.Unix(100, 0)), nil)
	defer b.Close()

	assert.Equal(t, topology.StereoScanTF, b.Policy().Kind)
	assert.NotContains(t, b.Topics(), "odom")
	assert.ErrorIs(t, b.Push("odom", odom(1)), ErrUnknownTopic)

	rightInfo := info("left", 1)
	rightInfo.P[3] = -0.2 * rightInfo.P[0]
	scan := &sensor.LaserScan{Header: sensor.Header{Stamp: 1, FrameID: "laser"},
		AngleMin: 0, AngleMax: 0, AngleIncrement: 0.1, RangeMin: 0.1, RangeMax: 10, Ranges: []float32{2}}

	require.NoError(t, b.Push("scan", scan))
	require.NoError(t, b.Push("left/image_rect", mono("left", 1)))
	require.NoError(t, b.Push("right/image_rect", mono("left", 1)))
	require.NoError(t, b.Push("left/camera_info", info("left", 1)))
	require.NoError(t, b.Push("right/camera_info", rightInfo))
	consumer.wait(t)

	obs := consumer.observations()
	require.Len(t, obs, 1, logs.String())
	require.NotNil(t, obs[0].Stereo)
	assert.InDelta(t, 0.2, obs[0].Stereo.Baseline, 1e-9)
	require.NotNil(t, obs[0].Scan)
	assert.True(t, obs[0].Pose.ApproxEqual(geom.FromXYZRPY(1, 0, 0, 0, 0, 0), 1e-9))
}

func TestBridgeStatistics(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	// A busy consumer still gets statistics: the gate guards only the
	// sensor path.
	consumer.busyOdom.Store(true)
	b := newDepthBridge(t, consumer, timeutil.NewMockClock(time.Unix(100, 0)))

	require.NoError(t, b.Push(TopicInfo, &sensor.Info{Header: sensor.Header{Stamp: 4}, RefID: 12}))
	require.NoError(t, b.Push(TopicMapData, &sensor.MapData{
		Header: sensor.Header{Stamp: 4},
		Poses:  []sensor.NodePose{{ID: 12, Pose: sensor.Pose{Orientation: sensor.Quaternion{W: 1}}}},
	}))
	consumer.wait(t)

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	require.Len(t, consumer.stats, 1)
	assert.Equal(t, 12, consumer.stats[0].RefID)
	assert.Len(t, consumer.stats[0].Poses, 1)
}

func TestBridgeStatus(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	b := newDepthBridge(t, consumer, timeutil.NewMockClock(time.Unix(100, 0)))

	pushDepth(t, b, 1)
	consumer.wait(t)
	require.Eventually(t, func() bool { return b.Delivered() == 1 }, time.Second, time.Millisecond)

	st := b.Status()
	assert.Equal(t, b.Session(), st.Session)
	assert.Equal(t, "depth", st.Policy)
	assert.Equal(t, "depth", st.Entry)
	assert.Equal(t, b.Topics(), st.Topics)
	assert.Equal(t, uint64(1), st.Delivered)
	assert.Equal(t, uint64(0), st.Dropped)
	assert.Equal(t, "1970-01-01T00:01:40Z", st.Started)
	assert.Equal(t, uint64(1), st.SensorSync.Matched)
	assert.Zero(t, st.SensorSync.Dropped)
	assert.Zero(t, st.StatisticsSync.Matched)
}

func TestBridgeResetAcceptsEarlierStamps(t *testing.T) {
	mute(t)
	consumer := newFakeConsumer()
	b := newDepthBridge(t, consumer, timeutil.NewMockClock(time.Unix(100, 0)))

	pushDepth(t, b, 3)
	consumer.wait(t)

	// Same wall-clock instant and older stamps: only a reset lets them through.
	b.Reset()
	pushDepth(t, b, 1)
	consumer.wait(t)

	obs := consumer.observations()
	require.Len(t, obs, 2)
	assert.Equal(t, 3.0, obs[0].Stamp)
	assert.Equal(t, 1.0, obs[1].Stamp)
	assert.Equal(t, uint64(2), b.Status().SensorSync.Matched)
}
