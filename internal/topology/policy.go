package topology

import "fmt"

// Kind identifies one synchronization policy.
type Kind int

const (
	OdomOnly Kind = iota
	Depth
	Depth2
	DepthScan
	DepthOdomInfo
	Depth2OdomInfo
	DepthTF
	DepthScanTF
	DepthOdomInfoTF
	Stereo
	StereoScan
	StereoOdomInfo
	StereoTF
	StereoScanTF
	StereoOdomInfoTF
)

var kindNames = [...]string{
	OdomOnly:         "odom-only",
	Depth:            "depth",
	Depth2:           "depth2",
	DepthScan:        "depth+scan",
	DepthOdomInfo:    "depth+odominfo",
	Depth2OdomInfo:   "depth2+odominfo",
	DepthTF:          "depth TF",
	DepthScanTF:      "depth+scan TF",
	DepthOdomInfoTF:  "depth+odominfo TF",
	Stereo:           "stereo",
	StereoScan:       "stereo+scan",
	StereoOdomInfo:   "stereo+odominfo",
	StereoTF:         "stereo TF",
	StereoScanTF:     "stereo+scan TF",
	StereoOdomInfoTF: "stereo+odominfo TF",
}

// AllKinds lists every policy.
func AllKinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Entry is the fusion function a policy feeds.
type Entry int

const (
	EntryOdomOnly Entry = iota
	EntryDepth
	EntryStereo
)

func (e Entry) String() string {
	switch e {
	case EntryOdomOnly:
		return "odom-only"
	case EntryDepth:
		return "depth"
	case EntryStereo:
		return "stereo"
	}
	return fmt.Sprintf("Entry(%d)", int(e))
}

// StreamKind is the payload type of one synchronized stream.
type StreamKind int

const (
	StreamOdom StreamKind = iota
	StreamOdomInfo
	StreamScan
	StreamImage
	StreamDepth
	StreamCameraInfo
	StreamLeftImage
	StreamRightImage
	StreamLeftInfo
	StreamRightInfo
)

// Stream is one named input of a policy.
type Stream struct {
	Kind   StreamKind
	Camera int // camera index for image, depth and camera-info streams
	Topic  string
}

func (s Stream) String() string { return s.Topic }

// Policy is the resolved subscription set, synchronizer settings and
// fusion entry point.
type Policy struct {
	Kind       Kind
	Entry      Entry
	Streams    []Stream
	QueueDepth int
}

// Index returns the position of the first stream of kind k for camera cam,
// or -1.
func (p Policy) Index(k StreamKind, cam int) int {
	for i, s := range p.Streams {
		if s.Kind == k && s.Camera == cam {
			return i
		}
	}
	return -1
}

// Topics returns the ordered topic names of p.
func (p Policy) Topics() []string {
	out := make([]string, len(p.Streams))
	for i, s := range p.Streams {
		out[i] = s.Topic
	}
	return out
}

// SelectPolicy normalizes t and returns its single policy. Decision order:
// modality, odometry source, scan, odometry info, camera count.
func SelectPolicy(t Topology) Policy {
	t, _ = t.Normalize()
	p := Policy{QueueDepth: t.QueueDepth}

	var lead []Stream
	switch {
	case t.UsesScan:
		lead = append(lead, Stream{Kind: StreamScan, Topic: "scan"})
	case t.UsesOdomInfo:
		lead = append(lead, Stream{Kind: StreamOdomInfo, Topic: "odom_info"})
	}
	if !t.OdomFromTransform || (!t.UsesDepth && !t.UsesStereo) {
		lead = append(lead, Stream{Kind: StreamOdom, Topic: "odom"})
	}

	switch {
	case t.UsesDepth:
		p.Entry = EntryDepth
		p.Kind = depthKind(t)
		p.Streams = append(lead, depthStreams(t.CameraCount)...)
	case t.UsesStereo:
		p.Entry = EntryStereo
		p.Kind = stereoKind(t)
		p.Streams = append(lead, stereoStreams()...)
	default:
		p.Entry = EntryOdomOnly
		p.Kind = OdomOnly
		p.Streams = []Stream{{Kind: StreamOdom, Topic: "odom"}}
	}
	return p
}

func depthKind(t Topology) Kind {
	two := t.CameraCount == 2
	if t.OdomFromTransform {
		switch {
		case t.UsesScan:
			return DepthScanTF
		case t.UsesOdomInfo:
			return DepthOdomInfoTF
		}
		return DepthTF
	}
	switch {
	case t.UsesScan:
		return DepthScan
	case t.UsesOdomInfo && two:
		return Depth2OdomInfo
	case t.UsesOdomInfo:
		return DepthOdomInfo
	case two:
		return Depth2
	}
	return Depth
}

func stereoKind(t Topology) Kind {
	if t.OdomFromTransform {
		switch {
		case t.UsesScan:
			return StereoScanTF
		case t.UsesOdomInfo:
			return StereoOdomInfoTF
		}
		return StereoTF
	}
	switch {
	case t.UsesScan:
		return StereoScan
	case t.UsesOdomInfo:
		return StereoOdomInfo
	}
	return Stereo
}

func depthStreams(cameras int) []Stream {
	var out []Stream
	for i := 0; i < cameras; i++ {
		rgb, depth := "rgb", "depth"
		if cameras > 1 {
			rgb = fmt.Sprintf("rgb%d", i)
			depth = fmt.Sprintf("depth%d", i)
		}
		out = append(out,
			Stream{Kind: StreamImage, Camera: i, Topic: rgb + "/image"},
			Stream{Kind: StreamDepth, Camera: i, Topic: depth + "/image"},
			Stream{Kind: StreamCameraInfo, Camera: i, Topic: rgb + "/camera_info"},
		)
	}
	return out
}

func stereoStreams() []Stream {
	return []Stream{
		{Kind: StreamLeftImage, Topic: "left/image_rect"},
		{Kind: StreamRightImage, Topic: "right/image_rect"},
		{Kind: StreamLeftInfo, Topic: "left/camera_info"},
		{Kind: StreamRightInfo, Topic: "right/camera_info"},
	}
}
