package sweph

// Evaluate returns the position and velocity encoded by the segment at tjd.
//
// Time is mapped onto [-1, 1] over the segment. Positions follow the
// convention of the files, in which the constant term counts half; velocities
// are per day.
func (s *Segment) Evaluate(tjd float64) (pos, vel [3]float64) {
	n := s.NCoe
	if n == 0 {
		return
	}
	span := s.TSeg1 - s.TSeg0
	tc := (tjd-s.TSeg0)/span*2 - 1

	pc := make([]float64, n)
	vc := make([]float64, n)
	evaluatePolynomials(pc, vc, tc)

	scale := 2 / span
	for axis := 0; axis < 3; axis++ {
		c := s.Axis(axis)
		p := c[0] / 2
		v := 0.0
		for j := n - 1; j >= 1; j-- {
			p += pc[j] * c[j]
			v += vc[j] * c[j]
		}
		pos[axis] = p
		vel[axis] = v * scale
	}
	return
}

// evaluatePolynomials fills pc with the Chebyshev polynomials at tc and vc
// with their derivatives.
func evaluatePolynomials(pc, vc []float64, tc float64) {
	twot := tc + tc
	pc[0] = 1
	if len(pc) < 2 {
		return
	}
	pc[1] = tc
	vc[1] = 1
	for i := 2; i < len(pc); i++ {
		pc[i] = twot*pc[i-1] - pc[i-2]
		vc[i] = twot*vc[i-1] + pc[i-1] + pc[i-1] - vc[i-2]
	}
}
