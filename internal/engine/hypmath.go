package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Hyperboloid model of hyperbolic 3-space: points are 4-vectors p with
// Lorentzian norm <p,p> = -1 (signature +,+,+,-) and positive w; tangent
// directions d at p satisfy <d,d> = 1 and <p,d> = 0. Everything here is
// closed-form; the only iteration in the renderer happens in the march
// loop itself.

const (
	// h3Eps is the membership tolerance for model constraints. Points and
	// directions drift away from the hyperboloid as float32 error
	// accumulates; anything outside this band is treated as degenerate.
	h3Eps = 1e-3
)

// minkowskiDot is the Lorentzian inner product with signature (+,+,+,-).
func minkowskiDot(u, v mgl32.Vec4) float32 {
	return u.X()*v.X() + u.Y()*v.Y() + u.Z()*v.Z() - u.W()*v.W()
}

// minkowskiDot64 computes the inner product in double precision. Used for
// distance evaluation, where small differences of near-unit values decide
// hit/miss outcomes.
func minkowskiDot64(u, v mgl32.Vec4) float64 {
	return float64(u.X())*float64(v.X()) +
		float64(u.Y())*float64(v.Y()) +
		float64(u.Z())*float64(v.Z()) -
		float64(u.W())*float64(v.W())
}

// constructHyperboloidPoint lifts a Euclidean point onto the hyperboloid:
// a point at Euclidean distance r from the origin maps to the model point
// at hyperbolic distance r along the same direction.
func constructHyperboloidPoint(e mgl32.Vec3) mgl32.Vec4 {
	r := float64(e.Len())
	if r < 1e-12 {
		return mgl32.Vec4{0, 0, 0, 1}
	}
	s := float32(math.Sinh(r) / r)
	return mgl32.Vec4{e.X() * s, e.Y() * s, e.Z() * s, float32(math.Cosh(r))}
}

// isH3Point reports whether p lies on the hyperboloid within tolerance.
func isH3Point(p mgl32.Vec4) bool {
	q := minkowskiDot64(p, p)
	return !math.IsNaN(q) && math.Abs(q+1) < h3Eps && p.W() > 0
}

// isH3Dir reports whether d is a unit tangent direction at p.
func isH3Dir(p, d mgl32.Vec4) bool {
	n := minkowskiDot64(d, d)
	t := minkowskiDot64(p, d)
	return !math.IsNaN(n) && !math.IsNaN(t) &&
		math.Abs(n-1) < h3Eps && math.Abs(t) < h3Eps
}

// correctH3Point renormalizes a drifted point back onto <p,p> = -1.
// Degenerate input (non-timelike vector) is returned unchanged; the march
// loop treats it as a miss via isH3Point.
func correctH3Point(p mgl32.Vec4) mgl32.Vec4 {
	q := -minkowskiDot64(p, p)
	if q <= 0 || math.IsNaN(q) {
		return p
	}
	return p.Mul(float32(1 / math.Sqrt(q)))
}

// correctDirection projects d into the tangent space at p and normalizes
// it. The projection d + <p,d>p removes the component along p, which is
// what parallel transport error leaves behind after many steps.
func correctDirection(p, d mgl32.Vec4) mgl32.Vec4 {
	d = d.Add(p.Mul(minkowskiDot(p, d)))
	n := minkowskiDot64(d, d)
	if n <= 0 || math.IsNaN(n) {
		return d
	}
	return d.Mul(float32(1 / math.Sqrt(n)))
}

// geodesicFlow advances p along the geodesic through d by hyperbolic
// distance t and parallel-transports d to the new point. t stays float64
// so repeated small steps do not lose low bits before the trig.
func geodesicFlow(p, d mgl32.Vec4, t float64) (mgl32.Vec4, mgl32.Vec4) {
	ch := float32(math.Cosh(t))
	sh := float32(math.Sinh(t))
	np := p.Mul(ch).Add(d.Mul(sh))
	nd := p.Mul(sh).Add(d.Mul(ch))
	return np, nd
}

// hypDistance returns the hyperbolic distance between two model points.
func hypDistance(u, v mgl32.Vec4) float64 {
	c := -minkowskiDot64(u, v)
	// Округление может дать c чуть меньше 1 для совпадающих точек.
	if c < 1 {
		c = 1
	}
	return math.Acosh(c)
}

// reflectH3 mirrors a tangent direction about a tangent-space normal.
// Both arguments must live in the same tangent space for the result to
// remain tangent.
func reflectH3(d, n mgl32.Vec4) mgl32.Vec4 {
	return d.Sub(n.Mul(2 * minkowskiDot(d, n)))
}

// tangentBasis builds an orthonormal basis of the tangent space at p via
// Gram-Schmidt over the canonical axes, using the Minkowski form to strip
// the component along p. Exactly three of the four candidates survive.
func tangentBasis(p mgl32.Vec4) [3]mgl32.Vec4 {
	candidates := [4]mgl32.Vec4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}

	var basis [3]mgl32.Vec4
	count := 0
	for _, c := range candidates {
		if count == 3 {
			break
		}
		// Проекция на касательное пространство в точке p.
		b := c.Add(p.Mul(minkowskiDot(p, c)))
		for i := 0; i < count; i++ {
			b = b.Sub(basis[i].Mul(minkowskiDot(b, basis[i])))
		}
		n := minkowskiDot64(b, b)
		if n < 1e-10 {
			continue // candidate was (numerically) parallel to p
		}
		basis[count] = b.Mul(float32(1 / math.Sqrt(n)))
		count++
	}
	return basis
}

// vec4HasNaN reports whether any component is NaN.
func vec4HasNaN(v mgl32.Vec4) bool {
	return math.IsNaN(float64(v.X())) || math.IsNaN(float64(v.Y())) ||
		math.IsNaN(float64(v.Z())) || math.IsNaN(float64(v.W()))
}
