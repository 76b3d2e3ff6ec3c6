package nested

import (
	"math"
	"math/rand/v2"

	"github.com/exowatch/transit-cli/internal/model"
)

const (
	// maxBoundTries caps draws rejected by the bound itself (outside the cube
	// or thinned by ellipsoid overlap) before falling back to the cube.
	maxBoundTries = 1000
	maxSplitDepth = 8
	maxKMeansIter = 100
	// splitVolume is the fraction of the parent's volume the two children must
	// undercut for a split to be kept.
	splitVolume = 0.5
)

// bound proposes candidate points. Draws consume the engine RNG and happen on
// the controlling goroutine only.
type bound interface {
	// sample writes a candidate into dst and reports whether it is usable.
	sample(rng *rand.Rand, dst []float64) bool
	logVolume() float64
	count() int
}

type cubeBound struct{}

func (cubeBound) sample(rng *rand.Rand, dst []float64) bool {
	for i := range dst {
		dst[i] = rng.Float64()
	}
	return true
}

func (cubeBound) logVolume() float64 { return 0 }
func (cubeBound) count() int         { return 0 }

// ellipsoidBound draws from the union of one or more ellipsoids, choosing an
// ellipsoid in proportion to its volume and keeping the draw with probability
// 1/q, q being the number of ellipsoids that contain it.
type ellipsoidBound struct {
	ells   []*ellipsoid
	cum    []float64
	logVol float64
}

func newEllipsoidBound(ells []*ellipsoid) *ellipsoidBound {
	b := &ellipsoidBound{ells: ells, cum: make([]float64, len(ells)), logVol: math.Inf(-1)}
	for _, e := range ells {
		b.logVol = logAddExp(b.logVol, e.logVol)
	}
	var acc float64
	for i, e := range ells {
		acc += math.Exp(e.logVol - b.logVol)
		b.cum[i] = acc
	}
	return b
}

func (b *ellipsoidBound) sample(rng *rand.Rand, dst []float64) bool {
	i := 0
	if len(b.ells) > 1 {
		r := rng.Float64() * b.cum[len(b.cum)-1]
		for i < len(b.cum)-1 && b.cum[i] <= r {
			i++
		}
	}
	b.ells[i].sample(rng, dst)
	for _, x := range dst {
		if !(x >= 0 && x <= 1) {
			return false
		}
	}
	if len(b.ells) == 1 {
		return true
	}
	q := 0
	for _, e := range b.ells {
		if e.contains(dst) {
			q++
		}
	}
	if q <= 1 {
		return true
	}
	return rng.Float64() < 1/float64(q)
}

func (b *ellipsoidBound) logVolume() float64 { return b.logVol }
func (b *ellipsoidBound) count() int         { return len(b.ells) }

// buildBound constructs the bound of the given kind around the live points.
// Whenever the ellipsoids would be larger than the unit cube, or cannot be
// fitted, the cube itself is used.
func buildBound(kind string, points [][]float64, enlarge float64) bound {
	var ells []*ellipsoid
	switch kind {
	case model.BoundSingle:
		e, err := fitEllipsoid(points, enlarge)
		if err != nil {
			return cubeBound{}
		}
		ells = []*ellipsoid{e}
	case model.BoundMulti:
		root, err := fitEllipsoid(points, enlarge)
		if err != nil {
			return cubeBound{}
		}
		ells = splitEllipsoid(points, root, enlarge, 0)
	default:
		return cubeBound{}
	}
	b := newEllipsoidBound(ells)
	if b.logVol >= 0 {
		return cubeBound{}
	}
	return b
}

// splitEllipsoid recursively divides points with 2-means and keeps a split
// when the children's combined volume is well below the parent's.
func splitEllipsoid(points [][]float64, parent *ellipsoid, enlarge float64, depth int) []*ellipsoid {
	d := parent.dim
	if depth >= maxSplitDepth || len(points) < 2*(d+1) {
		return []*ellipsoid{parent}
	}
	a, b := twoMeans(points)
	if len(a) < d+1 || len(b) < d+1 {
		return []*ellipsoid{parent}
	}
	ea, err := fitEllipsoid(a, enlarge)
	if err != nil {
		return []*ellipsoid{parent}
	}
	eb, err := fitEllipsoid(b, enlarge)
	if err != nil {
		return []*ellipsoid{parent}
	}
	if logAddExp(ea.logVol, eb.logVol) >= parent.logVol+math.Log(splitVolume) {
		return []*ellipsoid{parent}
	}
	return append(splitEllipsoid(a, ea, enlarge, depth+1), splitEllipsoid(b, eb, enlarge, depth+1)...)
}

// twoMeans partitions points into two clusters by Euclidean distance in the
// unit cube. Seeding is deterministic: the point farthest from the mean, then
// the point farthest from that one.
func twoMeans(points [][]float64) ([][]float64, [][]float64) {
	far := func(from []float64) []float64 {
		best, bestD := points[0], -1.0
		for _, p := range points {
			if dd := sqDist(p, from); dd > bestD {
				best, bestD = p, dd
			}
		}
		return best
	}
	mean := make([]float64, len(points[0]))
	centroid(mean, points, make([]int, len(points)), 0)
	c0 := append([]float64(nil), far(mean)...)
	c1 := append([]float64(nil), far(c0)...)

	assign := make([]int, len(points))
	for iter := 0; iter < maxKMeansIter; iter++ {
		changed := iter == 0
		for i, p := range points {
			k := 0
			if sqDist(p, c1) < sqDist(p, c0) {
				k = 1
			}
			if k != assign[i] {
				assign[i] = k
				changed = true
			}
		}
		if !changed {
			break
		}
		centroid(c0, points, assign, 0)
		centroid(c1, points, assign, 1)
	}

	var a, b [][]float64
	for i, p := range points {
		if assign[i] == 0 {
			a = append(a, p)
		} else {
			b = append(b, p)
		}
	}
	return a, b
}

func centroid(dst []float64, points [][]float64, assign []int, k int) {
	n := 0
	sum := make([]float64, len(dst))
	for i, p := range points {
		if assign[i] != k {
			continue
		}
		n++
		for j, x := range p {
			sum[j] += x
		}
	}
	if n == 0 {
		return
	}
	for j := range dst {
		dst[j] = sum[j] / float64(n)
	}
}

func sqDist(x, y []float64) float64 {
	var s float64
	for i := range x {
		d := x[i] - y[i]
		s += d * d
	}
	return s
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}
