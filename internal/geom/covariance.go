package geom

import "gonum.org/v1/gonum/mat"

// CovarianceDim is the dimension of an odometry pose covariance
// (x, y, z, roll, pitch, yaw).
const CovarianceDim = 6

// IdentityCovariance returns a new 6x6 identity matrix.
func IdentityCovariance() *mat.Dense {
	m := mat.NewDense(CovarianceDim, CovarianceDim, nil)
	for i := 0; i < CovarianceDim; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// IsDegenerateCovariance reports whether all six variances on the diagonal
// of a row-major 6x6 covariance are exactly zero. Such a matrix means the
// producer did not fill it in.
func IsDegenerateCovariance(c [36]float64) bool {
	for i := 0; i < CovarianceDim; i++ {
		if c[i*CovarianceDim+i] != 0 {
			return false
		}
	}
	return true
}

// CovarianceFromRowMajor copies a row-major 6x6 covariance into a matrix.
// Degenerate input is replaced by identity.
func CovarianceFromRowMajor(c [36]float64) *mat.Dense {
	if IsDegenerateCovariance(c) {
		return IdentityCovariance()
	}
	data := make([]float64, len(c))
	copy(data, c[:])
	return mat.NewDense(CovarianceDim, CovarianceDim, data)
}
