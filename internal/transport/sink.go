package transport

import (
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/banshee-data/fusion-bridge/internal/assembler"
	"github.com/banshee-data/fusion-bridge/internal/codec"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
)

// Sink publishes fused events for a remote consumer. Its busy flags mirror
// the last status the consumer reported.
type Sink struct {
	pub       message.Publisher
	namespace string
	session   atomic.Value // string

	busyOdometry   atomic.Bool
	busyStatistics atomic.Bool
}

// NewSink returns a Sink publishing under namespace.
func NewSink(pub message.Publisher, namespace string) *Sink {
	s := &Sink{pub: pub, namespace: namespace}
	s.session.Store("")
	return s
}

// SetSession tags every published observation with id.
func (s *Sink) SetSession(id string) { s.session.Store(id) }

// SetStatus records the consumer's reported state.
func (s *Sink) SetStatus(st ConsumerStatus) {
	s.busyOdometry.Store(st.BusyOdometry)
	s.busyStatistics.Store(st.BusyStatistics)
}

func (s *Sink) IsBusyOdometry() bool   { return s.busyOdometry.Load() }
func (s *Sink) IsBusyStatistics() bool { return s.busyStatistics.Load() }

// ProcessOdometry publishes obs on fused/odometry.
func (s *Sink) ProcessOdometry(obs *assembler.Observation) {
	s.publish(TopicFusedOdometry, NewObservationMsg(obs, s.session.Load().(string)))
}

// ProcessStatistics publishes st on fused/statistics.
func (s *Sink) ProcessStatistics(st *assembler.Statistics) {
	s.publish(TopicFusedStatistics, NewStatisticsMsg(st))
}

// ProcessMap publishes a requested map graph on fused/map.
func (s *Sink) ProcessMap(g assembler.Graph) {
	s.publish(TopicFusedMap, NewGraphMsg(g))
}

// MapError publishes a failed map request on fused/map_error.
func (s *Sink) MapError(err error) {
	s.publish(TopicFusedMapError, MapErrorMsg{Error: err.Error()})
}

func (s *Sink) publish(topic string, v any) {
	payload, err := codec.Marshal(v)
	if err != nil {
		monitoring.Opsf("[Transport] error: encoding %s: %v", topic, err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("content-type", ContentType)

	full := Namespaced(s.namespace, topic)
	if err := s.pub.Publish(full, msg); err != nil {
		monitoring.Opsf("[Transport] error: publishing %s: %v", full, err)
		return
	}
	monitoring.Tracef("[Transport] published %s (%d bytes)", full, len(payload))
}
