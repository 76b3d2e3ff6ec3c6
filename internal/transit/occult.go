package transit

import "math"

// overlapArea is the area shared by a disk of radius r at the origin and a
// disk of radius p whose centre lies at distance z.
func overlapArea(r, p, z float64) float64 {
	if r <= 0 || p <= 0 || z >= r+p {
		return 0
	}
	if z <= math.Abs(r-p) {
		m := math.Min(r, p)
		return math.Pi * m * m
	}
	k0 := math.Acos(clamp((p*p+z*z-r*r)/(2*p*z), -1, 1))
	k1 := math.Acos(clamp((r*r+z*z-p*p)/(2*r*z), -1, 1))
	q := (-z + p + r) * (z + p - r) * (z - p + r) * (z + p + r)
	return p*p*k0 + r*r*k1 - 0.5*math.Sqrt(math.Max(q, 0))
}

// blockedFraction returns the fraction of the stellar flux hidden by a planet
// of radius p (stellar radii) at projected separation z. The limb-darkened
// case sums the law's intensity over radial annuli weighted by the increments
// of the overlap area, which telescopes to the exact uniform-disk answer when
// the intensity is constant.
func blockedFraction(law Law, c []float64, p, z float64, annuli int) float64 {
	if z >= 1+p {
		return 0
	}
	if _, ok := law.(uniformLaw); ok {
		return overlapArea(1, p, z) / math.Pi
	}

	rMin := math.Max(0, z-p)
	rMax := math.Min(1, z+p)
	if rMax <= rMin {
		return 0
	}
	dr := (rMax - rMin) / float64(annuli)

	var blocked float64
	prev := overlapArea(rMin, p, z)
	for k := 1; k <= annuli; k++ {
		r := rMin + float64(k)*dr
		if k == annuli {
			r = rMax
		}
		a := overlapArea(r, p, z)
		mid := r - 0.5*dr
		mu := math.Sqrt(math.Max(0, 1-mid*mid))
		blocked += law.Intensity(mu, c) * (a - prev)
		prev = a
	}
	return blocked / law.TotalFlux(c)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
