// Package topology resolves the requested sensor configuration into the one
// synchronization policy the pipeline runs for its whole lifetime.
package topology

import "fmt"

// Camera count limits.
const (
	MinCameras = 1
	MaxCameras = 2

	// DefaultQueueDepth is used when the requested depth is not positive.
	DefaultQueueDepth = 10
)

// Topology is the resolved stream configuration.
type Topology struct {
	UsesDepth         bool
	UsesStereo        bool
	UsesScan          bool
	UsesOdomInfo      bool
	OdomFromTransform bool
	CameraCount       int
	QueueDepth        int
}

// Normalize applies the precedence rules to t and returns the resulting
// topology together with a warning for every conflicting request. The
// result of Normalize is a fixed point: normalizing it again yields no
// warnings.
func (t Topology) Normalize() (Topology, []string) {
	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if t.UsesDepth && t.UsesStereo {
		warn("subscribe_depth already true, ignoring subscribe_stereo")
		t.UsesStereo = false
	}
	if t.UsesScan && !t.UsesDepth && !t.UsesStereo {
		warn("cannot subscribe to laser scan without depth or stereo subscription")
		t.UsesScan = false
	}
	if t.UsesScan && t.UsesOdomInfo {
		warn("laser scan and odometry info both requested: only the scan is synchronized, odometry info is ignored")
		t.UsesOdomInfo = false
	}
	if t.UsesOdomInfo && !t.UsesDepth && !t.UsesStereo {
		warn("odometry info requires depth or stereo subscription, ignoring it")
		t.UsesOdomInfo = false
	}

	if t.CameraCount < MinCameras {
		t.CameraCount = MinCameras
	}
	if t.CameraCount > MaxCameras {
		warn("cannot subscribe to more than %d cameras, using %d", MaxCameras, MaxCameras)
		t.CameraCount = MaxCameras
	}
	if t.CameraCount > 1 {
		switch {
		case !t.UsesDepth:
			warn("depth_cameras=%d only applies to depth subscription, using 1", t.CameraCount)
			t.CameraCount = 1
		case t.UsesScan || t.OdomFromTransform:
			warn("%d depth cameras are not supported with laser scan or transform odometry, using 1", t.CameraCount)
			t.CameraCount = 1
		}
	}

	if t.QueueDepth < 1 {
		t.QueueDepth = DefaultQueueDepth
	}
	return t, warnings
}

// String implements fmt.Stringer.
func (t Topology) String() string {
	return fmt.Sprintf("depth=%t stereo=%t scan=%t odom_info=%t odom_tf=%t cameras=%d queue=%d",
		t.UsesDepth, t.UsesStereo, t.UsesScan, t.UsesOdomInfo, t.OdomFromTransform, t.CameraCount, t.QueueDepth)
}
