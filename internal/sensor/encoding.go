package sensor

// Image encodings.
const (
	EncodingMono8  = "mono8"
	EncodingMono16 = "mono16"
	EncodingBGR8   = "bgr8"
	EncodingRGB8   = "rgb8"
	Encoding8UC1   = "8UC1"
	Encoding16UC1  = "16UC1"
	Encoding32FC1  = "32FC1"
)

// Channels returns the number of channels of enc, or 0 if unknown.
func Channels(enc string) int {
	switch enc {
	case EncodingMono8, EncodingMono16, Encoding8UC1, Encoding16UC1, Encoding32FC1:
		return 1
	case EncodingBGR8, EncodingRGB8:
		return 3
	}
	return 0
}

// BytesPerPixel returns the pixel stride of enc, or 0 if unknown.
func BytesPerPixel(enc string) int {
	switch enc {
	case EncodingMono8, Encoding8UC1:
		return 1
	case EncodingMono16, Encoding16UC1:
		return 2
	case EncodingBGR8, EncodingRGB8:
		return 3
	case Encoding32FC1:
		return 4
	}
	return 0
}
