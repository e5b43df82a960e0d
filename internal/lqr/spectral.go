package lqr

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

var (
	errSVDFailed   = errors.New("svd factorization failed")
	errEigenFailed = errors.New("eigen decomposition failed")
)

// Kron returns a ⊗ b.
func Kron(a, b mat.Matrix) *mat.Dense {
	var k mat.Dense
	k.Kronecker(a, b)
	return &k
}

// BlockDiag assembles the square blocks on the diagonal of a zero matrix.
func BlockDiag(blocks []*mat.Dense) *mat.Dense {
	size := 0
	for _, b := range blocks {
		r, _ := b.Dims()
		size += r
	}
	if size == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(size, size, nil)
	offset := 0
	for _, b := range blocks {
		r, c := b.Dims()
		out.Slice(offset, offset+r, offset, offset+c).(*mat.Dense).Copy(b)
		offset += r
	}
	return out
}

// SpectralNorm returns the largest singular value of a.
func SpectralNorm(a mat.Matrix) (float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return math.NaN(), errSVDFailed
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0, nil
	}
	return values[0], nil
}

// SpectralRadius returns max |λ| over the eigenvalues of the square matrix a.
func SpectralRadius(a mat.Matrix) (float64, error) {
	r, _ := a.Dims()
	if r == 0 {
		return 0, nil
	}
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		return math.NaN(), errEigenFailed
	}
	radius := 0.0
	for _, v := range eig.Values(nil) {
		if abs := cmplx.Abs(v); abs > radius {
			radius = abs
		}
	}
	return radius, nil
}

// Vec flattens x row by row. With this ordering vec(A X B) = (A ⊗ B') vec(X).
func Vec(x mat.Matrix) *mat.VecDense {
	r, c := x.Dims()
	out := mat.NewVecDense(r*c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.SetVec(i*c+j, x.At(i, j))
		}
	}
	return out
}

// Unvec reverses Vec for an r×c matrix.
func Unvec(v mat.Vector, r, c int) *mat.Dense {
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, v.AtVec(i*c+j))
		}
	}
	return out
}

// Transport returns G' ⊗ G', the lifted map vec(X) -> vec(G' X G).
func Transport(g mat.Matrix) *mat.Dense {
	return Kron(g.T(), g.T())
}
