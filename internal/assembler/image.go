package assembler

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

// Mat is a tightly packed row-major image. Encoding is one of mono8, bgr8
// or 16UC1 (little-endian millimetres) once decoded.
type Mat struct {
	Width    int
	Height   int
	Encoding string
	Data     []byte
}

// NewMat allocates a zeroed image.
func NewMat(width, height int, encoding string) Mat {
	return Mat{
		Width:    width,
		Height:   height,
		Encoding: encoding,
		Data:     make([]byte, width*height*sensor.BytesPerPixel(encoding)),
	}
}

// Empty reports whether m holds no pixels.
func (m Mat) Empty() bool { return m.Width == 0 || m.Height == 0 }

// PixelSize is the number of bytes per pixel.
func (m Mat) PixelSize() int { return sensor.BytesPerPixel(m.Encoding) }

// Stride is the number of bytes per row.
func (m Mat) Stride() int { return m.Width * m.PixelSize() }

// At returns the bytes of pixel (x, y).
func (m Mat) At(x, y int) []byte {
	ps := m.PixelSize()
	off := y*m.Stride() + x*ps
	return m.Data[off : off+ps]
}

// DepthAt returns the 16-bit depth value of pixel (x, y) of a 16UC1 image.
func (m Mat) DepthAt(x, y int) uint16 {
	return binary.LittleEndian.Uint16(m.At(x, y))
}

// blit copies src into m with its left edge at column x0. Both must share
// encoding and height.
func (m Mat) blit(src Mat, x0 int) {
	rowOff := x0 * m.PixelSize()
	for y := 0; y < src.Height; y++ {
		copy(m.Data[y*m.Stride()+rowOff:], src.Data[y*src.Stride():(y+1)*src.Stride()])
	}
}

// rows validates img's buffer and returns its row length in bytes and step.
func rows(img *sensor.Image) (int, int, error) {
	bpp := sensor.BytesPerPixel(img.Encoding)
	if bpp == 0 {
		return 0, 0, fmt.Errorf("%w: unsupported encoding %q", ErrFormat, img.Encoding)
	}
	rowLen := int(img.Width) * bpp
	step := int(img.Step)
	if step == 0 {
		step = rowLen
	}
	if step < rowLen {
		return 0, 0, fmt.Errorf("%w: step %d shorter than row %d", ErrFormat, step, rowLen)
	}
	if img.Height > 0 && len(img.Data) < step*(int(img.Height)-1)+rowLen {
		return 0, 0, fmt.Errorf("%w: %s image %dx%d needs %d bytes, has %d",
			ErrFormat, img.Encoding, img.Width, img.Height, step*int(img.Height), len(img.Data))
	}
	return rowLen, step, nil
}

func read16(b []byte, bigEndian bool) uint16 {
	if bigEndian {
		return binary.BigEndian.Uint16(b)
	}
	return binary.LittleEndian.Uint16(b)
}

func readFloat32(b []byte, bigEndian bool) float32 {
	if bigEndian {
		return math.Float32frombits(binary.BigEndian.Uint32(b))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// decodeColor converts an accepted color image to mono8 (8UC1, mono8,
// mono16) or bgr8 (bgr8, rgb8).
func decodeColor(img *sensor.Image) (Mat, error) {
	switch img.Encoding {
	case sensor.Encoding8UC1, sensor.EncodingMono8, sensor.EncodingMono16:
		return toMono8(img)
	case sensor.EncodingBGR8, sensor.EncodingRGB8:
		return toBGR8(img)
	}
	return Mat{}, fmt.Errorf("%w: color encoding %q, want 8UC1, mono8, mono16, bgr8 or rgb8", ErrFormat, img.Encoding)
}

func toMono8(img *sensor.Image) (Mat, error) {
	_, step, err := rows(img)
	if err != nil {
		return Mat{}, err
	}
	w, h := int(img.Width), int(img.Height)
	out := NewMat(w, h, sensor.EncodingMono8)
	for y := 0; y < h; y++ {
		row := img.Data[y*step:]
		dst := out.Data[y*w : (y+1)*w]
		switch img.Encoding {
		case sensor.EncodingMono8, sensor.Encoding8UC1:
			copy(dst, row[:w])
		case sensor.EncodingMono16, sensor.Encoding16UC1:
			for x := 0; x < w; x++ {
				dst[x] = uint8(read16(row[2*x:], img.IsBigEndian) / 257)
			}
		case sensor.EncodingBGR8, sensor.EncodingRGB8:
			ri, bi := 2, 0
			if img.Encoding == sensor.EncodingRGB8 {
				ri, bi = 0, 2
			}
			for x := 0; x < w; x++ {
				p := row[3*x : 3*x+3]
				g := 0.299*float64(p[ri]) + 0.587*float64(p[1]) + 0.114*float64(p[bi])
				dst[x] = uint8(math.Round(g))
			}
		default:
			return Mat{}, fmt.Errorf("%w: cannot convert %q to mono8", ErrFormat, img.Encoding)
		}
	}
	return out, nil
}

func toBGR8(img *sensor.Image) (Mat, error) {
	_, step, err := rows(img)
	if err != nil {
		return Mat{}, err
	}
	w, h := int(img.Width), int(img.Height)
	out := NewMat(w, h, sensor.EncodingBGR8)
	for y := 0; y < h; y++ {
		row := img.Data[y*step:]
		dst := out.Data[y*w*3 : (y+1)*w*3]
		switch img.Encoding {
		case sensor.EncodingBGR8:
			copy(dst, row[:3*w])
		case sensor.EncodingRGB8:
			for x := 0; x < w; x++ {
				dst[3*x], dst[3*x+1], dst[3*x+2] = row[3*x+2], row[3*x+1], row[3*x]
			}
		default:
			return Mat{}, fmt.Errorf("%w: cannot convert %q to bgr8", ErrFormat, img.Encoding)
		}
	}
	return out, nil
}

// decodeDepth converts an accepted depth image to 16UC1 millimetres. The
// second result is true when a float conversion happened.
func decodeDepth(img *sensor.Image) (Mat, bool, error) {
	switch img.Encoding {
	case sensor.Encoding16UC1, sensor.EncodingMono16, sensor.Encoding32FC1:
	default:
		return Mat{}, false, fmt.Errorf("%w: depth encoding %q, want 16UC1, 32FC1 or mono16", ErrFormat, img.Encoding)
	}
	_, step, err := rows(img)
	if err != nil {
		return Mat{}, false, err
	}
	w, h := int(img.Width), int(img.Height)
	out := NewMat(w, h, sensor.Encoding16UC1)
	isFloat := img.Encoding == sensor.Encoding32FC1
	for y := 0; y < h; y++ {
		row := img.Data[y*step:]
		for x := 0; x < w; x++ {
			var v uint16
			if isFloat {
				v = DepthFromFloat(readFloat32(row[4*x:], img.IsBigEndian))
			} else {
				v = read16(row[2*x:], img.IsBigEndian)
			}
			binary.LittleEndian.PutUint16(out.Data[(y*w+x)*2:], v)
		}
	}
	return out, isFloat, nil
}

// DepthFromFloat converts a depth in metres to millimetres. Invalid or out
// of range values become 0.
func DepthFromFloat(d float32) uint16 {
	mm := float64(d) * 1000
	if math.IsNaN(mm) || mm <= 0 || mm > math.MaxUint16 {
		return 0
	}
	return uint16(math.Round(mm))
}
