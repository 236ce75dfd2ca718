package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// Procedural sky palette. DayTime blends night toward day.
var (
	skyDayColor   = mgl32.Vec3{0.52, 0.70, 0.92}
	skyNightColor = mgl32.Vec3{0.01, 0.01, 0.03}
)

// evaluatePath reduces a completed bounce path to one radiance estimate.
//
// If the nearest hit is emissive, its albedo is returned directly: the
// emitter is treated as the path's sole light source and the remaining
// hits are ignored. This asymmetry (emission encountered deeper in the
// path goes through the recurrence instead) is intentional and preserved.
//
// Otherwise the hit list is walked from the farthest bounce back to the
// nearest, folding light = emission + albedo * light. When the path ended
// before the bounce limit the fold is seeded with the environment term for
// the escaping direction; a path that used every bounce starts from black.
func evaluatePath(lastDir mgl32.Vec4, hits []Intersection, numHits int, sc *scene.Scene, escaped bool) mgl32.Vec3 {
	if numHits > 0 && hits[0].Emissive {
		return hits[0].Albedo
	}

	var light mgl32.Vec3
	if escaped {
		light = environmentLight(lastDir, sc)
	}

	for i := numHits - 1; i >= 0; i-- {
		h := &hits[i]
		var emission mgl32.Vec3
		if h.Emissive {
			emission = h.Emission.Mul(h.EmissionStrength)
		}
		light = emission.Add(mulVec3(h.Albedo, light))
	}
	return light
}

// environmentLight is the radiance arriving from the environment along an
// escaping ray: procedural sky plus the equirectangular map sample.
func environmentLight(dir mgl32.Vec4, sc *scene.Scene) mgl32.Vec3 {
	light := skyColor(dir, sc.DayTime)
	if sc.EnvMap != nil {
		light = light.Add(sampleEnvironmentMap(sc.EnvMap, dir))
	}
	return light
}

// skyColor blends the day/night palette by DayTime and weights the result
// by how far above the horizon the escaping direction points.
func skyColor(dir mgl32.Vec4, dayTime float64) mgl32.Vec3 {
	t := clamp32(float32(dayTime), 0, 1)
	base := skyNightColor.Mul(1 - t).Add(skyDayColor.Mul(t))

	up := spatialDirection(dir).Y()
	// Направления к "горизонту" и ниже получают ослабленное небо.
	w := 0.5 + 0.5*clamp32(up, -1, 1)
	return base.Mul(0.2 + 0.8*w)
}

// sampleEnvironmentMap maps the escaping direction to equirectangular UV
// and nearest-samples the map.
func sampleEnvironmentMap(tex *scene.Texture, dir mgl32.Vec4) mgl32.Vec3 {
	return sampleTexture(tex, mgl32.Vec4{
		spatialDirection(dir).X(),
		spatialDirection(dir).Y(),
		spatialDirection(dir).Z(),
		0,
	})
}

// spatialDirection extracts the normalized spatial part of a tangent
// 4-direction; for environment lookups only the 3D heading matters.
func spatialDirection(d mgl32.Vec4) mgl32.Vec3 {
	v := mgl32.Vec3{d.X(), d.Y(), d.Z()}
	l := float64(v.Len())
	if l < 1e-12 || math.IsNaN(l) {
		return mgl32.Vec3{0, 1, 0}
	}
	return v.Mul(float32(1 / l))
}

func mulVec3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a.X() * b.X(), a.Y() * b.Y(), a.Z() * b.Z()}
}
