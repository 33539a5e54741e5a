// Package bridge wires the selected synchronization policy to the rate gate,
// the observation assembler and the emitter. A second, always-on
// synchronizer pairs the mapping core's info and map data into statistics.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fusion-bridge/internal/approxsync"
	"github.com/banshee-data/fusion-bridge/internal/assembler"
	"github.com/banshee-data/fusion-bridge/internal/emitter"
	"github.com/banshee-data/fusion-bridge/internal/gate"
	"github.com/banshee-data/fusion-bridge/internal/metrics"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
	"github.com/banshee-data/fusion-bridge/internal/timeutil"
	"github.com/banshee-data/fusion-bridge/internal/topology"
)

// Statistics topics.
const (
	TopicInfo    = "info"
	TopicMapData = "mapData"
)

// Synchronizer names used in metrics.
const (
	syncSensors    = "sensors"
	syncStatistics = "statistics"
)

var (
	// ErrUnknownTopic is returned by Push for topics the bridge did not
	// subscribe to.
	ErrUnknownTopic = errors.New("bridge: unknown topic")
	// ErrWrongType is returned by Push when the payload type does not
	// match the topic.
	ErrWrongType = errors.New("bridge: unexpected message type")
)

// Config is the resolved startup configuration.
type Config struct {
	Topology    topology.Topology
	FrameID     string
	OdomFrameID string
	// MaxInterval bounds the timestamp span of a synchronized tuple.
	MaxInterval   time.Duration
	EmitterBuffer int
}

// Bridge is the running pipeline. Push may be called from any goroutine.
type Bridge struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session string

	policy  topology.Policy
	topics  map[string]int
	sensors *approxsync.Synchronizer
	stats   *approxsync.Synchronizer

	gate      *gate.Gate
	assembler *assembler.Assembler
	emitter   *emitter.Emitter
	clock     timeutil.Clock
	metrics   *metrics.Metrics
	started   time.Time
}

// New selects the policy for cfg.Topology and starts the pipeline. The
// policy is fixed for the lifetime of the Bridge. m may be nil.
func New(cfg Config, resolver assembler.Resolver, consumer emitter.Consumer, clock timeutil.Clock, m *metrics.Metrics) *Bridge {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	normalized, warnings := cfg.Topology.Normalize()
	for _, w := range warnings {
		monitoring.Opsf("[Bridge] warning: %s", w)
	}
	policy := topology.SelectPolicy(normalized)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctx:       ctx,
		cancel:    cancel,
		session:   uuid.New().String(),
		policy:    policy,
		topics:    make(map[string]int, len(policy.Streams)),
		gate:      gate.New(clock, consumer),
		assembler: assembler.New(assembler.Config{FrameID: cfg.FrameID, OdomFrameID: cfg.OdomFrameID}, resolver),
		emitter:   emitter.New(consumer, cfg.EmitterBuffer),
		clock:     clock,
		metrics:   m,
		started:   clock.Now(),
	}
	for i, s := range policy.Streams {
		b.topics[s.Topic] = i
	}

	b.sensors = approxsync.New(len(policy.Streams), approxsync.Options{
		QueueDepth:  policy.QueueDepth,
		MaxInterval: cfg.MaxInterval,
		OnDrop:      b.onDrop(syncSensors),
	}, b.onTuple)
	b.stats = approxsync.New(2, approxsync.Options{
		QueueDepth:  policy.QueueDepth,
		MaxInterval: cfg.MaxInterval,
		OnDrop:      b.onDrop(syncStatistics),
	}, b.onStatistics)

	monitoring.Opsf("[Bridge] session %s: policy %s (%s), topology %s", b.session, policy.Kind, policy.Entry, normalized)
	monitoring.Diagf("[Bridge] subscribed to %v", b.Topics())
	return b
}

// Session returns the unique id of this pipeline instance.
func (b *Bridge) Session() string { return b.session }

// Policy returns the selected policy.
func (b *Bridge) Policy() topology.Policy { return b.policy }

// Topics returns every topic Push accepts: the policy streams in order,
// then the statistics topics.
func (b *Bridge) Topics() []string {
	return append(b.policy.Topics(), TopicInfo, TopicMapData)
}

// Push feeds one decoded message into the pipeline. The synchronizer, and
// when a tuple completes the gate and assembler, run on the calling
// goroutine.
func (b *Bridge) Push(topic string, msg sensor.Stamped) error {
	if i, ok := b.topics[topic]; ok {
		if !matches(b.policy.Streams[i].Kind, msg) {
			return fmt.Errorf("%w: %T on %s", ErrWrongType, msg, topic)
		}
		b.metrics.MessageReceived(topic)
		b.sensors.Add(i, msg)
		return nil
	}
	switch topic {
	case TopicInfo:
		if v, ok := msg.(*sensor.Info); !ok || v == nil {
			return fmt.Errorf("%w: %T on %s", ErrWrongType, msg, topic)
		}
		b.metrics.MessageReceived(topic)
		b.stats.Add(0, msg)
		return nil
	case TopicMapData:
		if v, ok := msg.(*sensor.MapData); !ok || v == nil {
			return fmt.Errorf("%w: %T on %s", ErrWrongType, msg, topic)
		}
		b.metrics.MessageReceived(topic)
		b.stats.Add(1, msg)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

// matches reports whether msg is a non-nil payload of the stream kind.
func matches(k topology.StreamKind, msg sensor.Stamped) bool {
	switch k {
	case topology.StreamOdom:
		v, ok := msg.(*sensor.Odometry)
		return ok && v != nil
	case topology.StreamOdomInfo:
		v, ok := msg.(*sensor.OdomInfo)
		return ok && v != nil
	case topology.StreamScan:
		v, ok := msg.(*sensor.LaserScan)
		return ok && v != nil
	case topology.StreamImage, topology.StreamDepth, topology.StreamLeftImage, topology.StreamRightImage:
		v, ok := msg.(*sensor.Image)
		return ok && v != nil
	case topology.StreamCameraInfo, topology.StreamLeftInfo, topology.StreamRightInfo:
		v, ok := msg.(*sensor.CameraInfo)
		return ok && v != nil
	}
	return false
}

func (b *Bridge) onDrop(name string) func(int, approxsync.DropReason) {
	return func(_ int, reason approxsync.DropReason) {
		b.metrics.SyncDropped(name, reason.String())
	}
}

func (b *Bridge) onTuple(msgs []sensor.Stamped) {
	b.metrics.SyncMatched(syncSensors)

	decision := b.gate.Decide()
	b.metrics.GateDecision(decision.String())
	if decision != gate.Admitted {
		monitoring.Tracef("[Bridge] tuple at %.6f dropped: %s", msgs[0].MessageHeader().Stamp, decision)
		return
	}

	start := b.clock.Now()
	obs, err := b.assemble(msgs)
	b.metrics.ObserveAssembly(b.policy.Entry.String(), b.clock.Since(start))
	if err != nil {
		b.reportFailure(err)
		return
	}

	if b.emitter.EmitObservation(obs) {
		b.metrics.Emitted("odometry")
	} else {
		b.metrics.EmitDropped("odometry")
	}
}

func (b *Bridge) reportFailure(err error) {
	switch {
	case errors.Is(err, assembler.ErrTransformUnavailable):
		b.metrics.AssemblyFailed("transform")
		monitoring.Tracef("[Bridge] skipping cycle: %v", err)
	case errors.Is(err, assembler.ErrOdometryFrame):
		b.metrics.AssemblyFailed("odometry_frame")
		monitoring.Opsf("[Bridge] error: %v", err)
	case errors.Is(err, assembler.ErrFormat):
		b.metrics.AssemblyFailed("format")
		monitoring.Opsf("[Bridge] error: %v", err)
	default:
		b.metrics.AssemblyFailed("other")
		monitoring.Opsf("[Bridge] error: %v", err)
	}
}

func (b *Bridge) assemble(msgs []sensor.Stamped) (*assembler.Observation, error) {
	odom := at[*sensor.Odometry](b, msgs, topology.StreamOdom, 0)
	switch b.policy.Entry {
	case topology.EntryDepth:
		in := assembler.DepthInput{
			Odom:     odom,
			Scan:     at[*sensor.LaserScan](b, msgs, topology.StreamScan, 0),
			OdomInfo: at[*sensor.OdomInfo](b, msgs, topology.StreamOdomInfo, 0),
		}
		for cam := 0; b.policy.Index(topology.StreamImage, cam) >= 0; cam++ {
			in.Images = append(in.Images, at[*sensor.Image](b, msgs, topology.StreamImage, cam))
			in.Depths = append(in.Depths, at[*sensor.Image](b, msgs, topology.StreamDepth, cam))
			in.CameraInfos = append(in.CameraInfos, at[*sensor.CameraInfo](b, msgs, topology.StreamCameraInfo, cam))
		}
		return b.assembler.AssembleDepth(b.ctx, in)
	case topology.EntryStereo:
		return b.assembler.AssembleStereo(b.ctx, assembler.StereoInput{
			Odom:      odom,
			Left:      at[*sensor.Image](b, msgs, topology.StreamLeftImage, 0),
			Right:     at[*sensor.Image](b, msgs, topology.StreamRightImage, 0),
			LeftInfo:  at[*sensor.CameraInfo](b, msgs, topology.StreamLeftInfo, 0),
			RightInfo: at[*sensor.CameraInfo](b, msgs, topology.StreamRightInfo, 0),
			Scan:      at[*sensor.LaserScan](b, msgs, topology.StreamScan, 0),
			OdomInfo:  at[*sensor.OdomInfo](b, msgs, topology.StreamOdomInfo, 0),
		})
	}
	return b.assembler.AssembleOdometry(b.ctx, odom)
}

// at returns the tuple member of kind k for camera cam, or the zero value
// when the policy has no such stream.
func at[T sensor.Stamped](b *Bridge, msgs []sensor.Stamped, k topology.StreamKind, cam int) T {
	var zero T
	i := b.policy.Index(k, cam)
	if i < 0 || i >= len(msgs) {
		return zero
	}
	v, ok := msgs[i].(T)
	if !ok {
		return zero
	}
	return v
}

func (b *Bridge) onStatistics(msgs []sensor.Stamped) {
	b.metrics.SyncMatched(syncStatistics)
	info, _ := msgs[0].(*sensor.Info)
	m, _ := msgs[1].(*sensor.MapData)
	s, err := assembler.AssembleStatistics(info, m)
	if err != nil {
		b.reportFailure(err)
		return
	}
	if b.emitter.EmitStatistics(s) {
		b.metrics.Emitted("statistics")
	} else {
		b.metrics.EmitDropped("statistics")
	}
}

// Delivered returns the number of events handed to the consumer.
func (b *Bridge) Delivered() uint64 { return b.emitter.Delivered() }

// Status is a point-in-time summary of the pipeline.
type Status struct {
	Session   string   `json:"session"`
	Policy    string   `json:"policy"`
	Entry     string   `json:"entry"`
	Topics    []string `json:"topics"`
	Delivered uint64   `json:"delivered"`
	Dropped   uint64   `json:"dropped"`
	Started   string   `json:"started"`

	SensorSync     approxsync.Stats `json:"sensor_sync"`
	StatisticsSync approxsync.Stats `json:"statistics_sync"`
}

// Status reports the session, the selected policy, and the emitter and
// synchronizer counters.
func (b *Bridge) Status() Status {
	return Status{
		Session:   b.session,
		Policy:    b.policy.Kind.String(),
		Entry:     b.policy.Entry.String(),
		Topics:    b.Topics(),
		Delivered: b.emitter.Delivered(),
		Dropped:   b.emitter.Dropped(),
		Started:   b.started.UTC().Format(time.RFC3339),

		SensorSync:     b.sensors.Stats(),
		StatisticsSync: b.stats.Stats(),
	}
}

// Reset discards every partially synchronized tuple and the rate gate
// history. Messages stamped before the reset can then no longer be
// rejected as stale against post-reset ones.
func (b *Bridge) Reset() {
	b.sensors.Reset()
	b.stats.Reset()
	b.gate.Reset()
	monitoring.Diagf("[Bridge] session %s: synchronizers and rate gate reset", b.session)
}

// Close cancels pending transform waits and drains the emitter.
func (b *Bridge) Close() {
	b.cancel()
	b.emitter.Close()
	monitoring.Diagf("[Bridge] session %s closed", b.session)
}
