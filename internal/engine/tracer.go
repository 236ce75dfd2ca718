package engine

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// traceRay drives the bounce loop for one sub-ray: it chains intersect
// calls into a path of up to bounceLimit hits, restarting each bounce from
// the hit position lifted along the surface normal past the hit threshold,
// then hands the completed path to the integrator. path is caller-provided scratch
// space with capacity >= bounceLimit; only hits[0:numHits] are meaningful.
func traceRay(origin, dir mgl32.Vec4, bounceLimit int, world []spherePrim, sc *scene.Scene, rng *randState, path []Intersection) mgl32.Vec3 {
	p := origin
	d := dir
	numHits := 0

	for bounce := 0; bounce < bounceLimit; bounce++ {
		isect, ok := intersect(p, d, world, rng)
		if !ok {
			break
		}
		path[numHits] = isect
		numHits++

		// Старт следующего отрезка поднимается вдоль нормали: сдвиг по
		// касательному направлению может не вывести его из зоны попадания.
		p, _ = geodesicFlow(isect.Point, isect.Normal, bounceOffset)
		p = correctH3Point(p)
		d = correctDirection(p, isect.Outgoing)
	}

	// A path shorter than the bounce limit means the last segment escaped
	// to the environment; d is the direction it escaped along.
	escaped := numHits < bounceLimit
	return evaluatePath(d, path[:numHits], numHits, sc, escaped)
}
