// Package geom provides the rigid-body and covariance primitives shared by
// the transform tree and the observation assembler.
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid 6-DoF transform (rotation followed by translation).
//
// The zero value is the null transform: it represents "not resolved" and
// propagates through composition and inversion. A transform obtained from a
// lookup of target<-source maps points expressed in source into target.
type Transform struct {
	r     [9]float64 // row-major rotation
	t     r3.Vec
	valid bool
}

// Null returns the null transform.
func Null() Transform { return Transform{} }

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{r: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, valid: true}
}

// NewTransform builds a transform from a translation and a rotation
// quaternion. The quaternion is normalised; a zero quaternion yields null.
func NewTransform(t r3.Vec, q quat.Number) Transform {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Null()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Transform{
		r: [9]float64{
			1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
			2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
			2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
		},
		t:     t,
		valid: true,
	}
}

// FromXYZRPY builds a transform from a translation and roll/pitch/yaw
// angles in radians (rotation applied as yaw, then pitch, then roll).
func FromXYZRPY(x, y, z, roll, pitch, yaw float64) Transform {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	q := quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
	return NewTransform(r3.Vec{X: x, Y: y, Z: z}, q)
}

// IsNull reports whether t is the null transform.
func (t Transform) IsNull() bool { return !t.valid }

// IsIdentity reports whether t is exactly the identity.
func (t Transform) IsIdentity() bool {
	return t.valid && t == Identity()
}

// Mul returns t * o, the transform applying o first and then t.
// Null in either operand yields null.
func (t Transform) Mul(o Transform) Transform {
	if !t.valid || !o.valid {
		return Null()
	}
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.r[i*3+j] = t.r[i*3]*o.r[j] + t.r[i*3+1]*o.r[3+j] + t.r[i*3+2]*o.r[6+j]
		}
	}
	out.t = r3.Add(t.rotate(o.t), t.t)
	out.valid = true
	return out
}

// Inverse returns the inverse rigid transform. Null stays null.
func (t Transform) Inverse() Transform {
	if !t.valid {
		return Null()
	}
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.r[i*3+j] = t.r[j*3+i]
		}
	}
	out.t = r3.Scale(-1, out.rotate(t.t))
	out.valid = true
	return out
}

// Apply transforms point p. Applying a null transform returns p unchanged;
// callers must check IsNull first.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	if !t.valid {
		return p
	}
	return r3.Add(t.rotate(p), t.t)
}

func (t Transform) rotate(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: t.r[0]*p.X + t.r[1]*p.Y + t.r[2]*p.Z,
		Y: t.r[3]*p.X + t.r[4]*p.Y + t.r[5]*p.Z,
		Z: t.r[6]*p.X + t.r[7]*p.Y + t.r[8]*p.Z,
	}
}

// Translation returns the translation component.
func (t Transform) Translation() r3.Vec { return t.t }

// Rotation returns the rotation as a unit quaternion with non-negative real part.
func (t Transform) Rotation() quat.Number {
	if !t.valid {
		return quat.Number{}
	}
	m := t.r
	var q quat.Number
	trace := m[0] + m[4] + m[8]
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m[7] - m[5]) / s, Jmag: (m[2] - m[6]) / s, Kmag: (m[3] - m[1]) / s}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: s / 4, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: s / 4, Kmag: (m[5] + m[7]) / s}
	default:
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// Matrix returns t as a 4x4 row-major homogeneous matrix. Null returns the
// zero matrix.
func (t Transform) Matrix() [16]float64 {
	if !t.valid {
		return [16]float64{}
	}
	return [16]float64{
		t.r[0], t.r[1], t.r[2], t.t.X,
		t.r[3], t.r[4], t.r[5], t.t.Y,
		t.r[6], t.r[7], t.r[8], t.t.Z,
		0, 0, 0, 1,
	}
}

// ApproxEqual reports whether every matrix entry of t and o differs by at
// most tol. Two nulls are equal; null never equals a valid transform.
func (t Transform) ApproxEqual(o Transform, tol float64) bool {
	if t.valid != o.valid {
		return false
	}
	a, b := t.Matrix(), o.Matrix()
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// Interpolate returns the transform ratio of the way from t to o, with
// linear translation and spherical rotation interpolation. Ratio 0 gives t,
// 1 gives o.
func (t Transform) Interpolate(o Transform, ratio float64) Transform {
	if !t.valid || !o.valid {
		return Null()
	}
	tr := r3.Add(t.t, r3.Scale(ratio, r3.Sub(o.t, t.t)))
	return NewTransform(tr, Slerp(t.Rotation(), o.Rotation(), ratio))
}

// Slerp spherically interpolates between unit quaternions a and b.
func Slerp(a, b quat.Number, ratio float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	if dot > 0.9995 {
		q := quat.Add(a, quat.Scale(ratio, quat.Sub(b, a)))
		return quat.Scale(1/quat.Abs(q), q)
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-ratio)*theta) / sinTheta
	wb := math.Sin(ratio*theta) / sinTheta
	return quat.Add(quat.Scale(wa, a), quat.Scale(wb, b))
}

// String implements fmt.Stringer.
func (t Transform) String() string {
	if !t.valid {
		return "null"
	}
	q := t.Rotation()
	return fmt.Sprintf("xyz=(%.3f, %.3f, %.3f) q=(%.3f, %.3f, %.3f, %.3f)",
		t.t.X, t.t.Y, t.t.Z, q.Real, q.Imag, q.Jmag, q.Kmag)
}
