package assembler

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion-bridge/internal/geom"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

// Scan is a laser scan registered into the body frame at the reference time.
type Scan struct {
	Points    []r3.Vec
	MaxPoints int // beams in the source scan
}

// Polar returns the planar range and bearing of every point, measured from
// the body frame origin.
func (s *Scan) Polar() (ranges, angles []float64) {
	ranges = make([]float64, len(s.Points))
	angles = make([]float64, len(s.Points))
	for i, p := range s.Points {
		ranges[i] = math.Hypot(p.X, p.Y)
		angles[i] = math.Atan2(p.Y, p.X)
	}
	return ranges, angles
}

// ProjectScan converts the valid beams of scan into points in its own frame
// and then through t. Beams that are not finite or fall outside
// [RangeMin, RangeMax] are skipped.
func ProjectScan(scan *sensor.LaserScan, t geom.Transform) []r3.Vec {
	pts := make([]r3.Vec, 0, len(scan.Ranges))
	for i, r := range scan.Ranges {
		rf := float64(r)
		if math.IsNaN(rf) || math.IsInf(rf, 0) || r < scan.RangeMin || r > scan.RangeMax {
			continue
		}
		angle := float64(scan.AngleMin) + float64(i)*float64(scan.AngleIncrement)
		p := r3.Vec{X: rf * math.Cos(angle), Y: rf * math.Sin(angle)}
		pts = append(pts, t.Apply(p))
	}
	return pts
}

func (a *Assembler) registerScan(ctx context.Context, ref reference, scan *sensor.LaserScan) (*Scan, error) {
	bodyT := a.resolver.Resolve(ctx, a.cfg.FrameID, scan.FrameID, scan.Stamp)
	if bodyT.IsNull() {
		return nil, fmt.Errorf("%w: %s -> %s at %.6f", ErrTransformUnavailable, a.cfg.FrameID, scan.FrameID, scan.Stamp)
	}
	corr, err := a.correction(ctx, ref, scan.Stamp)
	if err != nil {
		return nil, err
	}
	return &Scan{
		Points:    ProjectScan(scan, corr.Mul(bodyT)),
		MaxPoints: len(scan.Ranges),
	}, nil
}
