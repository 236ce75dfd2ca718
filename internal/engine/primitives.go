package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// spherePrim is the device-style primitive record: the sphere's origin
// already lifted onto the hyperboloid plus a snapshot of its material.
// The whole scene is flattened into one slice so workers scan a plain
// array instead of chasing a scene graph.
type spherePrim struct {
	origin mgl32.Vec4
	radius float32

	albedo           mgl32.Vec3
	roughness        float32
	emissive         bool
	emission         mgl32.Vec3
	emissionStrength float32

	tex *scene.Texture
}

// sceneToWorld flattens all geometry groups into the primitive arena.
// Order is preserved (group order, then sphere order within a group);
// the closest-primitive scan relies on this for stable tie-breaking.
func sceneToWorld(sc *scene.Scene) []spherePrim {
	world := make([]spherePrim, 0, sc.PrimitiveCount())
	for gi := range sc.Geometries {
		g := &sc.Geometries[gi]
		for si := range g.Spheres {
			s := &g.Spheres[si]
			center := mgl32.Vec3{
				float32(g.Position.X + s.Position.X),
				float32(g.Position.Y + s.Position.Y),
				float32(g.Position.Z + s.Position.Z),
			}
			world = append(world, spherePrim{
				origin:           constructHyperboloidPoint(center),
				radius:           float32(s.Radius),
				albedo:           mgl32.Vec3{float32(s.Albedo.R), float32(s.Albedo.G), float32(s.Albedo.B)},
				roughness:        clamp32(float32(s.Roughness), 0, 1),
				emissive:         s.Emissive,
				emission:         mgl32.Vec3{float32(s.Emission.R), float32(s.Emission.G), float32(s.Emission.B)},
				emissionStrength: float32(s.EmissionStrength),
				tex:              s.Tex,
			})
		}
	}
	return world
}

// signedDistance is the hyperbolic signed distance from p to the sphere
// surface. Negative or near-zero means inside/on the surface.
func signedDistance(pr *spherePrim, p mgl32.Vec4) float64 {
	return hypDistance(p, pr.origin) - float64(pr.radius)
}

// closestPrimitive scans every primitive and returns the smallest signed
// distance plus the primitive that produced it. Brute force by design:
// spatial partitioning is the extension point here, not a hidden feature.
// Ties keep the first primitive encountered in flatten order.
func closestPrimitive(p mgl32.Vec4, world []spherePrim) (float64, *spherePrim) {
	best := math.Inf(1)
	var bestPrim *spherePrim
	for i := range world {
		d := signedDistance(&world[i], p)
		if d < best {
			best = d
			bestPrim = &world[i]
		}
	}
	return best, bestPrim
}

// closestDistance is the distance-only variant used by the normal
// estimator, which only needs the field value, not the owner.
func closestDistance(p mgl32.Vec4, world []spherePrim) float64 {
	best := math.Inf(1)
	for i := range world {
		if d := signedDistance(&world[i], p); d < best {
			best = d
		}
	}
	return best
}

// sphereUV maps a surface normal to equirectangular UV coordinates:
// azimuth around Y and polar angle from +Y. The spatial part of a tangent
// 4-direction is not Euclidean-unit, so it is normalized before the acos;
// the azimuth is scale-invariant already.
func sphereUV(n mgl32.Vec4) (u, v float64) {
	x := float64(n.X())
	y := float64(n.Y())
	z := float64(n.Z())
	if l := math.Sqrt(x*x + y*y + z*z); l > 1e-12 {
		y /= l
	}
	azimuth := math.Atan2(z, x)
	if y > 1 {
		y = 1
	} else if y < -1 {
		y = -1
	}
	polar := math.Acos(y)
	u = (azimuth + math.Pi) / (2 * math.Pi)
	v = polar / math.Pi
	return u, v
}

// sampleTexture looks up the surface color for a hit with the given
// normal. Texture.At clamps UV into range before indexing.
func sampleTexture(tex *scene.Texture, n mgl32.Vec4) mgl32.Vec3 {
	u, v := sphereUV(n)
	r, g, b := tex.At(u, v)
	return mgl32.Vec3{r, g, b}
}

func clamp32(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
