// Package config holds the startup configuration for the fusion bridge.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/fusion-bridge/internal/topology"
)

// Transport backends.
const (
	TransportChannel = "channel"
	TransportNATS    = "nats"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// FusionConfig is the root configuration. Every field is optional; the Get*
// accessors supply defaults for omitted values, so partial files are safe.
type FusionConfig struct {
	// Frames
	FrameID          *string `json:"frame_id,omitempty" yaml:"frame_id,omitempty"`
	OdomFrameID      *string `json:"odom_frame_id,omitempty" yaml:"odom_frame_id,omitempty"` // empty: odometry arrives as a message
	TFPrefix         *string `json:"tf_prefix,omitempty" yaml:"tf_prefix,omitempty"`
	WaitForTransform *bool   `json:"wait_for_transform,omitempty" yaml:"wait_for_transform,omitempty"`

	// Subscriptions
	SubscribeDepth    *bool `json:"subscribe_depth,omitempty" yaml:"subscribe_depth,omitempty"`
	SubscribeStereo   *bool `json:"subscribe_stereo,omitempty" yaml:"subscribe_stereo,omitempty"`
	SubscribeScan     *bool `json:"subscribe_scan,omitempty" yaml:"subscribe_scan,omitempty"`
	SubscribeOdomInfo *bool `json:"subscribe_odom_info,omitempty" yaml:"subscribe_odom_info,omitempty"`
	DepthCameras      *int  `json:"depth_cameras,omitempty" yaml:"depth_cameras,omitempty"`

	// Synchronization
	QueueSize       *int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	SyncMaxInterval *string `json:"sync_max_interval,omitempty" yaml:"sync_max_interval,omitempty"` // duration string like "50ms"
	EmitterBuffer   *int    `json:"emitter_buffer,omitempty" yaml:"emitter_buffer,omitempty"`

	// Commands
	CameraNodeName *string `json:"camera_node_name,omitempty" yaml:"camera_node_name,omitempty"`
	GRPCAddress    *string `json:"grpc_address,omitempty" yaml:"grpc_address,omitempty"`
	GRPCService    *string `json:"grpc_service,omitempty" yaml:"grpc_service,omitempty"`

	// Transport
	Transport      *string `json:"transport,omitempty" yaml:"transport,omitempty"`
	NATSURL        *string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	TopicNamespace *string `json:"topic_namespace,omitempty" yaml:"topic_namespace,omitempty"`
	OdomTF         *bool   `json:"odom_tf,omitempty" yaml:"odom_tf,omitempty"` // odometry messages also feed the transform tree

	MetricsListen *string `json:"metrics_listen,omitempty" yaml:"metrics_listen,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a FusionConfig with every field unset.
func Empty() *FusionConfig {
	return &FusionConfig{}
}

// Default returns a FusionConfig with every field set to its default.
func Default() *FusionConfig {
	return &FusionConfig{
		FrameID:           ptrString("base_link"),
		OdomFrameID:       ptrString(""),
		TFPrefix:          ptrString(""),
		WaitForTransform:  ptrBool(true),
		SubscribeDepth:    ptrBool(false),
		SubscribeStereo:   ptrBool(false),
		SubscribeScan:     ptrBool(false),
		SubscribeOdomInfo: ptrBool(false),
		DepthCameras:      ptrInt(1),
		QueueSize:         ptrInt(topology.DefaultQueueDepth),
		SyncMaxInterval:   ptrString("50ms"),
		EmitterBuffer:     ptrInt(8),
		CameraNodeName:    ptrString(""),
		GRPCAddress:       ptrString(""),
		GRPCService:       ptrString(""),
		Transport:         ptrString(TransportChannel),
		NATSURL:           ptrString("nats://127.0.0.1:4222"),
		TopicNamespace:    ptrString(""),
		OdomTF:            ptrBool(true),
		MetricsListen:     ptrString(""),
	}
}

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Load reads a FusionConfig from a .json, .yaml or .yml file and validates it.
func Load(path string) (*FusionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the set values are usable.
func (c *FusionConfig) Validate() error {
	if c.FrameID != nil && *c.FrameID == "" {
		return fmt.Errorf("%w: frame_id must not be empty", ErrInvalid)
	}
	if c.DepthCameras != nil && (*c.DepthCameras < topology.MinCameras || *c.DepthCameras > topology.MaxCameras) {
		return fmt.Errorf("%w: depth_cameras must be between %d and %d, got %d",
			ErrInvalid, topology.MinCameras, topology.MaxCameras, *c.DepthCameras)
	}
	if c.QueueSize != nil && *c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalid, *c.QueueSize)
	}
	if c.EmitterBuffer != nil && *c.EmitterBuffer < 1 {
		return fmt.Errorf("%w: emitter_buffer must be positive, got %d", ErrInvalid, *c.EmitterBuffer)
	}
	if c.SyncMaxInterval != nil && *c.SyncMaxInterval != "" {
		d, err := time.ParseDuration(*c.SyncMaxInterval)
		if err != nil {
			return fmt.Errorf("%w: sync_max_interval %q: %v", ErrInvalid, *c.SyncMaxInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("%w: sync_max_interval must not be negative, got %s", ErrInvalid, d)
		}
	}
	if c.Transport != nil {
		switch *c.Transport {
		case "", TransportChannel, TransportNATS:
		default:
			return fmt.Errorf("%w: transport must be %q or %q, got %q", ErrInvalid, TransportChannel, TransportNATS, *c.Transport)
		}
	}
	return nil
}

// GetFrameID returns the body frame id without the prefix.
func (c *FusionConfig) GetFrameID() string {
	if c.FrameID == nil || *c.FrameID == "" {
		return "base_link"
	}
	return *c.FrameID
}

// GetOdomFrameID returns the odometry frame id without the prefix.
func (c *FusionConfig) GetOdomFrameID() string {
	if c.OdomFrameID == nil {
		return ""
	}
	return *c.OdomFrameID
}

// GetTFPrefix returns the frame id namespace prefix.
func (c *FusionConfig) GetTFPrefix() string {
	if c.TFPrefix == nil {
		return ""
	}
	return *c.TFPrefix
}

// PrefixedFrameID returns the body frame id with the prefix applied.
func (c *FusionConfig) PrefixedFrameID() string {
	return ApplyPrefix(c.GetTFPrefix(), c.GetFrameID())
}

// PrefixedOdomFrameID returns the odometry frame id with the prefix applied.
func (c *FusionConfig) PrefixedOdomFrameID() string {
	return ApplyPrefix(c.GetTFPrefix(), c.GetOdomFrameID())
}

// ApplyPrefix joins prefix and id with a slash. Empty ids stay empty.
func ApplyPrefix(prefix, id string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" || id == "" {
		return id
	}
	return prefix + "/" + id
}

// GetWaitForTransform returns the wait_for_transform value or the default.
func (c *FusionConfig) GetWaitForTransform() bool {
	if c.WaitForTransform == nil {
		return true
	}
	return *c.WaitForTransform
}

// GetSubscribeDepth returns the subscribe_depth value or the default.
func (c *FusionConfig) GetSubscribeDepth() bool {
	return c.SubscribeDepth != nil && *c.SubscribeDepth
}

// GetSubscribeStereo returns the subscribe_stereo value or the default.
func (c *FusionConfig) GetSubscribeStereo() bool {
	return c.SubscribeStereo != nil && *c.SubscribeStereo
}

// GetSubscribeScan returns the subscribe_scan value or the default.
func (c *FusionConfig) GetSubscribeScan() bool {
	return c.SubscribeScan != nil && *c.SubscribeScan
}

// GetSubscribeOdomInfo returns the subscribe_odom_info value or the default.
func (c *FusionConfig) GetSubscribeOdomInfo() bool {
	return c.SubscribeOdomInfo != nil && *c.SubscribeOdomInfo
}

// GetDepthCameras returns the depth_cameras value or the default.
func (c *FusionConfig) GetDepthCameras() int {
	if c.DepthCameras == nil {
		return 1
	}
	return *c.DepthCameras
}

// GetQueueSize returns the queue_size value or the default.
func (c *FusionConfig) GetQueueSize() int {
	if c.QueueSize == nil || *c.QueueSize < 1 {
		return topology.DefaultQueueDepth
	}
	return *c.QueueSize
}

// GetSyncMaxInterval parses and returns the SyncMaxInterval. Zero means
// the synchronizer only uses its best-match rule.
func (c *FusionConfig) GetSyncMaxInterval() time.Duration {
	if c.SyncMaxInterval == nil || *c.SyncMaxInterval == "" {
		return 50 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SyncMaxInterval)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// GetEmitterBuffer returns the emitter_buffer value or the default.
func (c *FusionConfig) GetEmitterBuffer() int {
	if c.EmitterBuffer == nil || *c.EmitterBuffer < 1 {
		return 8
	}
	return *c.EmitterBuffer
}

// GetCameraNodeName returns the camera_node_name value or the default.
func (c *FusionConfig) GetCameraNodeName() string {
	if c.CameraNodeName == nil {
		return ""
	}
	return *c.CameraNodeName
}

// GetGRPCAddress returns the mapping core's gRPC address. Empty disables
// command dispatch.
func (c *FusionConfig) GetGRPCAddress() string {
	if c.GRPCAddress == nil {
		return ""
	}
	return *c.GRPCAddress
}

// GetGRPCService returns the gRPC service prefix for command calls.
func (c *FusionConfig) GetGRPCService() string {
	if c.GRPCService == nil {
		return ""
	}
	return *c.GRPCService
}

// GetTransport returns the transport backend.
func (c *FusionConfig) GetTransport() string {
	if c.Transport == nil || *c.Transport == "" {
		return TransportChannel
	}
	return *c.Transport
}

// GetNATSURL returns the nats_url value or the default.
func (c *FusionConfig) GetNATSURL() string {
	if c.NATSURL == nil || *c.NATSURL == "" {
		return "nats://127.0.0.1:4222"
	}
	return *c.NATSURL
}

// GetTopicNamespace returns the topic_namespace value or the default.
func (c *FusionConfig) GetTopicNamespace() string {
	if c.TopicNamespace == nil {
		return ""
	}
	return *c.TopicNamespace
}

// GetOdomTF returns the odom_tf value or the default.
func (c *FusionConfig) GetOdomTF() bool {
	if c.OdomTF == nil {
		return true
	}
	return *c.OdomTF
}

// GetMetricsListen returns the metrics listen address. Empty disables the
// endpoint.
func (c *FusionConfig) GetMetricsListen() string {
	if c.MetricsListen == nil {
		return ""
	}
	return *c.MetricsListen
}

// Topology returns the requested stream topology. It is not normalized.
func (c *FusionConfig) Topology() topology.Topology {
	return topology.Topology{
		UsesDepth:         c.GetSubscribeDepth(),
		UsesStereo:        c.GetSubscribeStereo(),
		UsesScan:          c.GetSubscribeScan(),
		UsesOdomInfo:      c.GetSubscribeOdomInfo(),
		OdomFromTransform: c.GetOdomFrameID() != "",
		CameraCount:       c.GetDepthCameras(),
		QueueDepth:        c.GetQueueSize(),
	}
}
