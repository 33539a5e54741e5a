package main

import (
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/banshee-data/fusion-bridge/internal/config"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
)

// options holds the parsed command line. Fields mirror FusionConfig and
// override it only when the flag was given.
type options struct {
	configPath string
	diag       bool
	trace      bool
	version    bool

	frameID           string
	odomFrameID       string
	tfPrefix          string
	waitForTransform  bool
	subscribeDepth    bool
	subscribeStereo   bool
	subscribeScan     bool
	subscribeOdomInfo bool
	depthCameras      int
	queueSize         int
	syncMaxInterval   time.Duration
	cameraNodeName    string
	grpcAddress       string
	transport         string
	natsURL           string
	namespace         string
	metricsListen     string

	set *pflag.FlagSet
}

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("fusion-bridge", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "path to a .json or .yaml configuration file")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")
	fs.BoolVar(&o.diag, "diag", false, "enable the diagnostic log stream")
	fs.BoolVar(&o.trace, "trace", false, "enable the per-message trace log stream")

	fs.StringVar(&o.frameID, "frame-id", "base_link", "body frame every sensor is registered into")
	fs.StringVar(&o.odomFrameID, "odom-frame-id", "", "odometry frame; when set odometry is read from the transform tree")
	fs.StringVar(&o.tfPrefix, "tf-prefix", "", "namespace prefix applied to the frame ids")
	fs.BoolVar(&o.waitForTransform, "wait-for-transform", true, "wait up to 1s for transforms")
	fs.BoolVar(&o.subscribeDepth, "subscribe-depth", false, "synchronize RGB-D cameras")
	fs.BoolVar(&o.subscribeStereo, "subscribe-stereo", false, "synchronize a rectified stereo pair")
	fs.BoolVar(&o.subscribeScan, "subscribe-scan", false, "synchronize a laser scan")
	fs.BoolVar(&o.subscribeOdomInfo, "subscribe-odom-info", false, "synchronize odometry diagnostics")
	fs.IntVar(&o.depthCameras, "depth-cameras", 1, "number of RGB-D cameras (1 or 2)")
	fs.IntVar(&o.queueSize, "queue-size", 10, "synchronizer queue depth per stream")
	fs.DurationVar(&o.syncMaxInterval, "sync-max-interval", 50*time.Millisecond, "widest timestamp span of a synchronized tuple")
	fs.StringVar(&o.cameraNodeName, "camera-node-name", "", "camera node paused and resumed with the mapping core")
	fs.StringVar(&o.grpcAddress, "grpc-address", "", "mapping core gRPC address for commands (empty disables commands)")
	fs.StringVar(&o.transport, "transport", config.TransportChannel, "message transport: channel or nats")
	fs.StringVar(&o.natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	fs.StringVar(&o.namespace, "namespace", "", "topic namespace")
	fs.StringVar(&o.metricsListen, "metrics-listen", "", "address for the /metrics and /status endpoints (empty disables them)")
	o.set = fs
	return fs
}

// resolveConfig loads the configuration file, if any, and applies the flags
// that were set explicitly.
func (o *options) resolveConfig() (*config.FusionConfig, error) {
	cfg := config.Empty()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}

	changed := func(name string) bool { return o.set != nil && o.set.Changed(name) }
	str := func(name string, dst **string, v string) {
		if changed(name) {
			*dst = &v
		}
	}
	boolean := func(name string, dst **bool, v bool) {
		if changed(name) {
			*dst = &v
		}
	}
	integer := func(name string, dst **int, v int) {
		if changed(name) {
			*dst = &v
		}
	}

	str("frame-id", &cfg.FrameID, o.frameID)
	str("odom-frame-id", &cfg.OdomFrameID, o.odomFrameID)
	str("tf-prefix", &cfg.TFPrefix, o.tfPrefix)
	boolean("wait-for-transform", &cfg.WaitForTransform, o.waitForTransform)
	boolean("subscribe-depth", &cfg.SubscribeDepth, o.subscribeDepth)
	boolean("subscribe-stereo", &cfg.SubscribeStereo, o.subscribeStereo)
	boolean("subscribe-scan", &cfg.SubscribeScan, o.subscribeScan)
	boolean("subscribe-odom-info", &cfg.SubscribeOdomInfo, o.subscribeOdomInfo)
	integer("depth-cameras", &cfg.DepthCameras, o.depthCameras)
	integer("queue-size", &cfg.QueueSize, o.queueSize)
	str("sync-max-interval", &cfg.SyncMaxInterval, o.syncMaxInterval.String())
	str("camera-node-name", &cfg.CameraNodeName, o.cameraNodeName)
	str("grpc-address", &cfg.GRPCAddress, o.grpcAddress)
	str("transport", &cfg.Transport, o.transport)
	str("nats-url", &cfg.NATSURL, o.natsURL)
	str("namespace", &cfg.TopicNamespace, o.namespace)
	str("metrics-listen", &cfg.MetricsListen, o.metricsListen)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) logWriters() monitoring.LogWriters {
	w := monitoring.DefaultLogWriters()
	if o.diag || o.trace {
		w.Diag = os.Stderr
	}
	if o.trace {
		w.Trace = os.Stderr
	}
	return w
}
