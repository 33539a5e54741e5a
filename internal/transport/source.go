package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/banshee-data/fusion-bridge/internal/bridge"
	"github.com/banshee-data/fusion-bridge/internal/codec"
	"github.com/banshee-data/fusion-bridge/internal/command"
	"github.com/banshee-data/fusion-bridge/internal/metrics"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
	"github.com/banshee-data/fusion-bridge/internal/tf"
	"github.com/banshee-data/fusion-bridge/internal/topology"
)

var errDecode = errors.New("undecodable payload")

// Pipeline accepts decoded messages for the topics of its policy.
type Pipeline interface {
	Policy() topology.Policy
	Push(topic string, msg sensor.Stamped) error
}

// CommandHandler executes operator commands.
type CommandHandler interface {
	Dispatch(ctx context.Context, cmd command.Command) error
}

// StatusHandler receives the consumer's busy state.
type StatusHandler interface {
	SetStatus(ConsumerStatus)
}

// SourceOptions selects the optional routes of a Source.
type SourceOptions struct {
	Namespace string
	// Tree, when set, is fed from tf and tf_static.
	Tree *tf.Buffer
	// OdomTF also feeds odometry messages into Tree as odom -> child edges.
	OdomTF   bool
	Commands CommandHandler
	Status   StatusHandler
	Metrics  *metrics.Metrics
}

type route func(ctx context.Context, payload []byte) error

// Source subscribes to every input topic and routes decoded payloads.
// Every message is acked once handled, including undecodable ones.
type Source struct {
	sub    message.Subscriber
	opts   SourceOptions
	routes map[string]route
	wg     sync.WaitGroup
}

// NewSource builds the routes for p's policy plus the optional topics.
func NewSource(sub message.Subscriber, p Pipeline, opts SourceOptions) *Source {
	s := &Source{sub: sub, opts: opts, routes: map[string]route{}}

	for _, st := range p.Policy().Streams {
		s.routes[st.Topic] = s.streamRoute(p, st)
	}
	s.routes[bridge.TopicInfo] = pushRoute(p, bridge.TopicInfo, func() sensor.Stamped { return new(sensor.Info) })
	s.routes[bridge.TopicMapData] = pushRoute(p, bridge.TopicMapData, func() sensor.Stamped { return new(sensor.MapData) })

	if opts.Tree != nil {
		s.routes[TopicTF] = s.treeRoute(false)
		s.routes[TopicTFStatic] = s.treeRoute(true)
	}
	if opts.Commands != nil {
		s.routes[TopicCommands] = func(ctx context.Context, payload []byte) error {
			var cmd command.Command
			if err := codec.Unmarshal(payload, &cmd); err != nil {
				return fmt.Errorf("%w: %v", errDecode, err)
			}
			// Failures are logged by the handler.
			_ = opts.Commands.Dispatch(ctx, cmd)
			return nil
		}
	}
	if opts.Status != nil {
		s.routes[TopicConsumerStatus] = func(_ context.Context, payload []byte) error {
			var st ConsumerStatus
			if err := codec.Unmarshal(payload, &st); err != nil {
				return fmt.Errorf("%w: %v", errDecode, err)
			}
			opts.Status.SetStatus(st)
			return nil
		}
	}
	return s
}

// Topics returns the subscribed topics, without the namespace, sorted.
func (s *Source) Topics() []string {
	out := make([]string, 0, len(s.routes))
	for t := range s.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func newStreamMessage(k topology.StreamKind) sensor.Stamped {
	switch k {
	case topology.StreamOdom:
		return new(sensor.Odometry)
	case topology.StreamOdomInfo:
		return new(sensor.OdomInfo)
	case topology.StreamScan:
		return new(sensor.LaserScan)
	case topology.StreamCameraInfo, topology.StreamLeftInfo, topology.StreamRightInfo:
		return new(sensor.CameraInfo)
	}
	return new(sensor.Image)
}

func pushRoute(p Pipeline, topic string, alloc func() sensor.Stamped) route {
	return func(_ context.Context, payload []byte) error {
		msg := alloc()
		if err := codec.Unmarshal(payload, msg); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		return p.Push(topic, msg)
	}
}

func (s *Source) streamRoute(p Pipeline, st topology.Stream) route {
	alloc := func() sensor.Stamped { return newStreamMessage(st.Kind) }
	push := pushRoute(p, st.Topic, alloc)
	if st.Kind != topology.StreamOdom || !s.opts.OdomTF || s.opts.Tree == nil {
		return push
	}
	// The odometry edge must be in the tree before the tuple it completes
	// is assembled.
	return func(_ context.Context, payload []byte) error {
		var odom sensor.Odometry
		if err := codec.Unmarshal(payload, &odom); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		if err := s.opts.Tree.Set(odometryEdge(&odom), false); err != nil {
			monitoring.Opsf("[Transport] warning: odometry not added to the transform tree: %v", err)
		}
		return p.Push(st.Topic, &odom)
	}
}

// odometryEdge is the frame_id -> child_frame_id edge an odometry message
// describes.
func odometryEdge(o *sensor.Odometry) sensor.TransformStamped {
	return sensor.TransformStamped{
		Header:       o.Header,
		ChildFrameID: o.ChildFrameID,
		Transform: sensor.TransformMsg{
			Translation: o.Pose.Position,
			Rotation:    o.Pose.Orientation,
		},
	}
}

func (s *Source) treeRoute(static bool) route {
	return func(_ context.Context, payload []byte) error {
		var msg sensor.TFMessage
		if err := codec.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		return s.opts.Tree.SetMessage(msg, static)
	}
}

// Start subscribes to every topic and handles messages in one goroutine per
// topic until ctx ends or the subscriber closes.
func (s *Source) Start(ctx context.Context) error {
	for _, topic := range s.Topics() {
		full := Namespaced(s.opts.Namespace, topic)
		msgs, err := s.sub.Subscribe(ctx, full)
		if err != nil {
			return fmt.Errorf("transport: subscribing to %s: %w", full, err)
		}
		s.wg.Add(1)
		go s.consume(ctx, topic, s.routes[topic], msgs)
	}
	monitoring.Diagf("[Transport] subscribed to %d topics under %q", len(s.routes), s.opts.Namespace)
	return nil
}

// Wait blocks until every topic loop has ended.
func (s *Source) Wait() { s.wg.Wait() }

// Run is Start followed by Wait.
func (s *Source) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.Wait()
	return nil
}

func (s *Source) consume(ctx context.Context, topic string, r route, msgs <-chan *message.Message) {
	defer s.wg.Done()
	for msg := range msgs {
		if err := r(ctx, msg.Payload); err != nil {
			if errors.Is(err, errDecode) {
				s.opts.Metrics.DecodeError(topic)
				monitoring.Opsf("[Transport] error: dropping %s message %s: %v", topic, msg.UUID, err)
				traceUndecodable(topic, msg.Payload)
			} else {
				monitoring.Opsf("[Transport] warning: %s: %v", topic, err)
			}
		}
		msg.Ack()
	}
}

// maxDiagnostic bounds the CBOR diagnostic notation written to the trace
// stream; image payloads can be megabytes.
const maxDiagnostic = 256

func traceUndecodable(topic string, payload []byte) {
	if !monitoring.TraceEnabled() {
		return
	}
	diag, err := codec.Diagnose(payload)
	if err != nil {
		monitoring.Tracef("[Transport] %s payload is not CBOR (%d bytes): %v", topic, len(payload), err)
		return
	}
	if len(diag) > maxDiagnostic {
		diag = diag[:maxDiagnostic] + "..."
	}
	monitoring.Tracef("[Transport] %s payload: %s", topic, diag)
}
