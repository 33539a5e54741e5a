package geom

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const eps = 1e-9

func vecNear(a, b r3.Vec, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}

func TestNullPropagates(t *testing.T) {
	var zero Transform
	if !zero.IsNull() {
		t.Fatal("zero value should be null")
	}
	id := Identity()
	if !id.Mul(zero).IsNull() || !zero.Mul(id).IsNull() {
		t.Error("Mul with null should be null")
	}
	if !zero.Inverse().IsNull() {
		t.Error("Inverse of null should be null")
	}
	if !zero.Interpolate(id, 0.5).IsNull() {
		t.Error("Interpolate with null should be null")
	}
	if got := zero.String(); got != "null" {
		t.Errorf("String() = %q, want null", got)
	}
}

func TestZeroQuaternionIsNull(t *testing.T) {
	if !NewTransform(r3.Vec{X: 1}, quat.Number{}).IsNull() {
		t.Error("zero quaternion should yield null")
	}
}

func TestYawRotatesPoint(t *testing.T) {
	tr := FromXYZRPY(1, 2, 3, 0, 0, math.Pi/2)
	got := tr.Apply(r3.Vec{X: 1})
	want := r3.Vec{X: 1, Y: 3, Z: 3}
	if !vecNear(got, want, eps) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
}

func TestInverseComposesToIdentity(t *testing.T) {
	tr := FromXYZRPY(0.5, -1.2, 2.0, 0.1, -0.4, 1.3)
	if !tr.Mul(tr.Inverse()).ApproxEqual(Identity(), 1e-9) {
		t.Error("T * T^-1 should be identity")
	}
	if !tr.Inverse().Mul(tr).ApproxEqual(Identity(), 1e-9) {
		t.Error("T^-1 * T should be identity")
	}
}

func TestMulOrder(t *testing.T) {
	a := FromXYZRPY(1, 0, 0, 0, 0, math.Pi/2)
	b := FromXYZRPY(1, 0, 0, 0, 0, 0)
	// b is applied first: (0,0,0) -> (1,0,0), then a: rotate to (0,1,0) and shift.
	got := a.Mul(b).Apply(r3.Vec{})
	want := r3.Vec{X: 1, Y: 1}
	if !vecNear(got, want, eps) {
		t.Errorf("a*b applied to origin = %v, want %v", got, want)
	}
}

func TestRotationRoundTrip(t *testing.T) {
	cases := []Transform{
		Identity(),
		FromXYZRPY(0, 0, 0, math.Pi, 0, 0),
		FromXYZRPY(0, 0, 0, 0, math.Pi, 0),
		FromXYZRPY(0, 0, 0, 0, 0, math.Pi),
		FromXYZRPY(1, 2, 3, 0.3, 0.2, -2.5),
	}
	for i, tr := range cases {
		back := NewTransform(tr.Translation(), tr.Rotation())
		if !back.ApproxEqual(tr, 1e-9) {
			t.Errorf("case %d: round trip %v != %v", i, back, tr)
		}
	}
}

func TestInterpolate(t *testing.T) {
	a := FromXYZRPY(0, 0, 0, 0, 0, 0)
	b := FromXYZRPY(2, 0, 0, 0, 0, math.Pi/2)
	mid := a.Interpolate(b, 0.5)
	want := FromXYZRPY(1, 0, 0, 0, 0, math.Pi/4)
	if !mid.ApproxEqual(want, 1e-9) {
		t.Errorf("midpoint = %v, want %v", mid, want)
	}
	if !a.Interpolate(b, 0).ApproxEqual(a, 1e-9) || !a.Interpolate(b, 1).ApproxEqual(b, 1e-9) {
		t.Error("endpoints should be reproduced")
	}
}

func TestIsIdentity(t *testing.T) {
	if !Identity().IsIdentity() {
		t.Error("Identity().IsIdentity() = false")
	}
	if FromXYZRPY(0.1, 0, 0, 0, 0, 0).IsIdentity() {
		t.Error("translated transform reported as identity")
	}
	if Null().IsIdentity() {
		t.Error("null reported as identity")
	}
}
