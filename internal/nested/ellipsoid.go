package nested

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ellipsoid is the region {x : (x-c)^T P (x-c) <= 1} where P is the inverse of
// the (scaled) covariance.
type ellipsoid struct {
	dim    int
	center *mat.VecDense
	prec   *mat.SymDense
	lower  *mat.TriDense // Cholesky factor of the scaled covariance
	logVol float64
}

// fitEllipsoid returns the ellipsoid with the shape of the points' covariance,
// scaled so every point lies inside, then grown in volume by enlarge.
func fitEllipsoid(points [][]float64, enlarge float64) (*ellipsoid, error) {
	n := len(points)
	if n == 0 {
		return nil, eris.New("nested: no points to bound")
	}
	d := len(points[0])
	if n < d+1 {
		return nil, eris.Errorf("nested: %d points cannot bound %d dimensions", n, d)
	}

	data := mat.NewDense(n, d, nil)
	for i, p := range points {
		data.SetRow(i, p)
	}
	center := mat.NewVecDense(d, nil)
	for j := 0; j < d; j++ {
		center.SetVec(j, stat.Mean(mat.Col(nil, j, data), nil))
	}
	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var chol mat.Cholesky
	if !factorizeRegularized(&chol, cov) {
		return nil, eris.New("nested: covariance is not positive definite")
	}
	prec := mat.NewSymDense(d, nil)
	if err := chol.InverseTo(prec); err != nil {
		return nil, eris.Wrap(err, "nested: invert covariance")
	}

	// Scale so the farthest point sits on the surface.
	diff := mat.NewVecDense(d, nil)
	var kmax float64
	for _, p := range points {
		diff.SubVec(mat.NewVecDense(d, p), center)
		kmax = math.Max(kmax, mat.Inner(diff, prec, diff))
	}
	if !(kmax > 0) {
		kmax = 1
	}
	scale := kmax * math.Pow(enlarge, 2/float64(d))
	cov.ScaleSym(scale, cov)
	prec.ScaleSym(1/scale, prec)
	if !chol.Factorize(cov) {
		return nil, eris.New("nested: scaled covariance is not positive definite")
	}

	lower := mat.NewTriDense(d, mat.Lower, nil)
	chol.LTo(lower)
	return &ellipsoid{
		dim:    d,
		center: center,
		prec:   prec,
		lower:  lower,
		logVol: logUnitBall(d) + 0.5*chol.LogDet(),
	}, nil
}

// factorizeRegularized factorizes cov, adding a growing diagonal term when
// the points are (nearly) degenerate.
func factorizeRegularized(chol *mat.Cholesky, cov *mat.SymDense) bool {
	if chol.Factorize(cov) {
		return true
	}
	d := cov.SymmetricDim()
	for eps := 1e-12; eps <= 1e-4; eps *= 100 {
		for i := 0; i < d; i++ {
			cov.SetSym(i, i, cov.At(i, i)+eps)
		}
		if chol.Factorize(cov) {
			return true
		}
	}
	return false
}

// logUnitBall is the log volume of the d-dimensional unit ball.
func logUnitBall(d int) float64 {
	lg, _ := math.Lgamma(float64(d)/2 + 1)
	return float64(d)/2*math.Log(math.Pi) - lg
}

func (e *ellipsoid) distance(x []float64) float64 {
	diff := mat.NewVecDense(e.dim, nil)
	diff.SubVec(mat.NewVecDense(e.dim, x), e.center)
	return mat.Inner(diff, e.prec, diff)
}

func (e *ellipsoid) contains(x []float64) bool {
	return e.distance(x) <= 1
}

// sample writes a point drawn uniformly from the ellipsoid into dst.
func (e *ellipsoid) sample(rng *rand.Rand, dst []float64) {
	z := mat.NewVecDense(e.dim, nil)
	var norm float64
	for i := 0; i < e.dim; i++ {
		v := rng.NormFloat64()
		z.SetVec(i, v)
		norm += v * v
	}
	r := math.Pow(rng.Float64(), 1/float64(e.dim)) / math.Sqrt(norm)
	z.ScaleVec(r, z)

	x := mat.NewVecDense(e.dim, dst)
	x.MulVec(e.lower, z)
	x.AddVec(x, e.center)
}
