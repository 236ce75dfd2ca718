package engine

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Kernel tuning constants. These are render-time constants, not runtime
// configuration: the GLSL compute kernel carries the same values.
const (
	// hitDistance is the sphere-tracing hit threshold.
	hitDistance = 0.005
	// maxTraceDistance bounds accumulated march distance per ray.
	maxTraceDistance = 50.0
	// maxMarchSteps caps the march loop against degenerate geometry.
	maxMarchSteps = 16
	// normalEps is the central-difference step for normal estimation.
	normalEps = 1e-4
	// bounceOffset lifts bounce origins off the surface along the normal.
	// Must exceed hitDistance: a restart inside the hit band would re-hit
	// the same point on the next march step.
	bounceOffset = 0.01
)

// Intersection is one bounce record: where the ray hit, the local frame,
// and a snapshot of the primitive's material. Records live in a scratch
// buffer for exactly one ray's trace and are consumed by the integrator.
type Intersection struct {
	Point    mgl32.Vec4
	Normal   mgl32.Vec4
	Incident mgl32.Vec4
	Outgoing mgl32.Vec4

	Albedo           mgl32.Vec3
	Emissive         bool
	Emission         mgl32.Vec3
	EmissionStrength float32
	Roughness        float32
}

// computeNormal estimates the surface normal at p as the normalized
// central-difference gradient of the distance field along an orthonormal
// tangent basis. Known limitation: near seams between primitives the two
// closestDistance probes can straddle different spheres, making the
// gradient unstable. That matches the original behavior and is left as is.
func computeNormal(p mgl32.Vec4, world []spherePrim) mgl32.Vec4 {
	basis := tangentBasis(p)

	var grad mgl32.Vec4
	for _, b := range basis {
		pPlus, _ := geodesicFlow(p, b, normalEps)
		pMinus, _ := geodesicFlow(p, b, -normalEps)
		df := closestDistance(pPlus, world) - closestDistance(pMinus, world)
		grad = grad.Add(b.Mul(float32(df / (2 * normalEps))))
	}
	// correctDirection одновременно проецирует градиент в касательное
	// пространство и нормирует его.
	return correctDirection(p, grad)
}

// scatterDirection samples the outgoing direction for a hit: a blend of
// the tangent-space mirror reflection and a random hemisphere direction,
// weighted by roughness (0 = mirror, 1 = diffuse). Approximate by design;
// this is not a physically exact BRDF.
func scatterDirection(p, incident, normal mgl32.Vec4, roughness float32, rng *randState) mgl32.Vec4 {
	reflected := reflectH3(incident, normal)
	if roughness <= 0 {
		return correctDirection(p, reflected)
	}

	diffuse := randomHemisphereDirection(p, normal, rng)
	out := reflected.Mul(1 - roughness).Add(diffuse.Mul(roughness))
	out = correctDirection(p, out)

	// Блендинг может увести направление под поверхность; в этом случае
	// откатываемся к зеркальному отражению.
	if minkowskiDot(out, normal) < 0 {
		return correctDirection(p, reflected)
	}
	return out
}

// randomHemisphereDirection draws a uniform random tangent direction at p
// and flips it into the hemisphere around the normal.
func randomHemisphereDirection(p, normal mgl32.Vec4, rng *randState) mgl32.Vec4 {
	basis := tangentBasis(p)
	for {
		x := rng.Float32()*2 - 1
		y := rng.Float32()*2 - 1
		z := rng.Float32()*2 - 1
		lenSq := x*x + y*y + z*z
		if lenSq >= 1 || lenSq < 1e-8 {
			continue
		}
		d := basis[0].Mul(x).Add(basis[1].Mul(y)).Add(basis[2].Mul(z))
		d = correctDirection(p, d)
		if minkowskiDot(d, normal) < 0 {
			d = d.Mul(-1)
		}
		return d
	}
}

// intersect sphere-traces a single ray segment against the scene.
// Each iteration advances by the currently reported closest distance via
// geodesic flow, re-correcting the point and direction for drift. A ray
// that leaves the model constraints, produces NaN, exceeds the trace
// budget or exhausts the step cap is a miss, never an error.
func intersect(origin, dir mgl32.Vec4, world []spherePrim, rng *randState) (Intersection, bool) {
	if len(world) == 0 {
		return Intersection{}, false
	}

	p := origin
	d := dir
	// Дистанция накапливается в double: много мелких шагов.
	travelled := 0.0

	for step := 0; step < maxMarchSteps; step++ {
		if vec4HasNaN(p) || vec4HasNaN(d) {
			return Intersection{}, false
		}
		if !isH3Point(p) || !isH3Dir(p, d) {
			return Intersection{}, false
		}

		dist, prim := closestPrimitive(p, world)
		if prim == nil {
			return Intersection{}, false
		}

		if dist < hitDistance {
			normal := computeNormal(p, world)
			out := scatterDirection(p, d, normal, prim.roughness, rng)

			isect := Intersection{
				Point:            p,
				Normal:           normal,
				Incident:         d,
				Outgoing:         out,
				Albedo:           prim.albedo,
				Emissive:         prim.emissive,
				Emission:         prim.emission,
				EmissionStrength: prim.emissionStrength,
				Roughness:        prim.roughness,
			}
			if prim.tex != nil {
				isect.Albedo = sampleTexture(prim.tex, normal)
			}
			return isect, true
		}

		travelled += dist
		if travelled > maxTraceDistance {
			return Intersection{}, false
		}

		p, d = geodesicFlow(p, d, dist)
		p = correctH3Point(p)
		d = correctDirection(p, d)
	}
	return Intersection{}, false
}
