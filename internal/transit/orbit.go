package transit

import "math"

const (
	keplerTol     = 1e-12
	keplerMaxIter = 50
)

// orbit holds the per-evaluation constants of a Keplerian orbit.
type orbit struct {
	period float64
	tmid   float64
	ars    float64
	ecc    float64
	omega  float64 // radians
	sinI   float64
	cosI   float64
	mTr    float64 // mean anomaly at conjunction
	rootE  float64 // sqrt((1+e)/(1-e))
}

func newOrbit(p Params) orbit {
	inc := p.Inc * math.Pi / 180
	o := orbit{
		period: p.Period,
		tmid:   p.Tmid,
		ars:    p.ARs,
		ecc:    p.Ecc,
		omega:  p.Omega * math.Pi / 180,
		sinI:   math.Sin(inc),
		cosI:   math.Cos(inc),
	}
	if o.ecc > 0 {
		// Conjunction happens at true anomaly pi/2 - omega.
		fTr := math.Pi/2 - o.omega
		eTr := 2 * math.Atan(math.Sqrt((1-o.ecc)/(1+o.ecc))*math.Tan(fTr/2))
		o.mTr = eTr - o.ecc*math.Sin(eTr)
		o.rootE = math.Sqrt((1 + o.ecc) / (1 - o.ecc))
	}
	return o
}

// separation returns the sky-projected star-planet distance in stellar radii
// at time t and whether the planet is on the observer's side of the star.
func (o orbit) separation(t float64) (float64, bool) {
	phase := 2 * math.Pi * (t - o.tmid) / o.period
	if o.ecc == 0 {
		x := o.ars * math.Sin(phase)
		y := o.ars * math.Cos(phase) * o.cosI
		return math.Hypot(x, y), math.Cos(phase) > 0
	}

	e := solveKepler(o.mTr+phase, o.ecc)
	f := 2 * math.Atan(o.rootE*math.Tan(e/2))
	r := o.ars * (1 - o.ecc*math.Cos(e))
	sinWF, cosWF := math.Sincos(o.omega + f)
	x := r * cosWF
	y := r * sinWF * o.cosI
	return math.Hypot(x, y), sinWF > 0
}

// solveKepler solves E - e sin E = M by Newton iteration.
func solveKepler(m, ecc float64) float64 {
	m = math.Remainder(m, 2*math.Pi)
	e := m
	if ecc > 0.8 {
		e = math.Copysign(math.Pi, m)
	}
	for i := 0; i < keplerMaxIter; i++ {
		sinE, cosE := math.Sincos(e)
		step := (e - ecc*sinE - m) / (1 - ecc*cosE)
		e -= step
		if math.Abs(step) < keplerTol {
			break
		}
	}
	return e
}
