package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// camera holds the per-frame view state: the Euclidean orientation basis
// plus the camera position lifted onto the hyperboloid. Rays are built in
// Euclidean view space and projected into the tangent space at the lifted
// origin, so screen-space framing behaves like a conventional camera.
type camera struct {
	originH mgl32.Vec4
	u, v, w mgl32.Vec3 // right, up, back
	halfW   float64
	halfH   float64
}

func newCamera(scCam scene.Camera, cfg RenderConfig) camera {
	aspect := float64(cfg.Width) / float64(cfg.Height)
	if scCam.AspectRatio != 0 {
		aspect = scCam.AspectRatio
	}

	fov := scCam.FOV
	if fov <= 0 {
		fov = 90
	}
	theta := fov * math.Pi / 180
	halfH := math.Tan(theta / 2)
	halfW := aspect * halfH

	origin := mgl32.Vec3{float32(scCam.Position.X), float32(scCam.Position.Y), float32(scCam.Position.Z)}
	target := mgl32.Vec3{float32(scCam.Target.X), float32(scCam.Target.Y), float32(scCam.Target.Z)}
	up := mgl32.Vec3{float32(scCam.Up.X), float32(scCam.Up.Y), float32(scCam.Up.Z)}
	if up.Len() < 1e-6 {
		up = mgl32.Vec3{0, 1, 0}
	}

	w := origin.Sub(target)
	if w.Len() < 1e-6 {
		w = mgl32.Vec3{0, 0, 1}
	}
	w = w.Normalize()
	u := up.Cross(w).Normalize()
	v := w.Cross(u)

	return camera{
		originH: constructHyperboloidPoint(origin),
		u:       u,
		v:       v,
		w:       w,
		halfW:   halfW,
		halfH:   halfH,
	}
}

// ray builds the model-space ray for screen coordinates s,t in [0,1].
// The Euclidean view direction is embedded as a 4-vector with zero w and
// projected into the tangent space at the camera's hyperboloid position.
func (c camera) ray(s, t float64) (mgl32.Vec4, mgl32.Vec4) {
	px := float32((2*s - 1) * c.halfW)
	py := float32((2*t - 1) * c.halfH)

	dirE := c.u.Mul(px).Add(c.v.Mul(py)).Sub(c.w).Normalize()
	dir := correctDirection(c.originH, mgl32.Vec4{dirE.X(), dirE.Y(), dirE.Z(), 0})
	return c.originH, dir
}
