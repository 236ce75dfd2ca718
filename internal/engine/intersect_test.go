package engine

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// singleSphereScene builds a one-sphere world centered on the Z axis.
func singleSphereScene(z, radius float64) *scene.Scene {
	return &scene.Scene{
		Geometries: []scene.Geometry{{
			ID: "g",
			Spheres: []scene.Sphere{{
				ID:       "s",
				Position: scene.Vec3{Z: z},
				Radius:   radius,
				Albedo:   scene.Color{R: 0.5, G: 0.5, B: 0.5},
			}},
		}},
	}
}

func TestIntersectHitsSphereAhead(t *testing.T) {
	world := sceneToWorld(singleSphereScene(-2, 0.5))

	origin := constructHyperboloidPoint(mgl32.Vec3{0, 0, 0})
	dir := correctDirection(origin, mgl32.Vec4{0, 0, -1, 0})
	rng := newRandState(1)

	isect, ok := intersect(origin, dir, world, &rng)
	if !ok {
		t.Fatal("expected hit on sphere straight ahead")
	}

	// Точка попадания лежит в пределах hitDistance от поверхности.
	d := signedDistance(&world[0], isect.Point)
	if d >= hitDistance || d < -hitDistance {
		t.Fatalf("hit point surface distance = %.9g, want |d| < %g", d, hitDistance)
	}
	if !isH3Point(isect.Point) {
		t.Fatal("hit point left the hyperboloid")
	}
	if !isH3Dir(isect.Point, isect.Normal) {
		t.Fatal("normal is not a unit tangent at the hit point")
	}
	// Нормаль на передней стороне смотрит навстречу лучу.
	if minkowskiDot(isect.Normal, isect.Incident) >= 0 {
		t.Fatalf("normal does not oppose incident ray: dot = %.6g",
			minkowskiDot(isect.Normal, isect.Incident))
	}
	if isect.Albedo != (mgl32.Vec3{0.5, 0.5, 0.5}) {
		t.Fatalf("albedo snapshot = %v", isect.Albedo)
	}
}

func TestIntersectMissesSphereBehind(t *testing.T) {
	world := sceneToWorld(singleSphereScene(-2, 0.5))

	origin := constructHyperboloidPoint(mgl32.Vec3{0, 0, 0})
	// Смотрим в противоположную сторону.
	dir := correctDirection(origin, mgl32.Vec4{0, 0, 1, 0})
	rng := newRandState(1)

	if _, ok := intersect(origin, dir, world, &rng); ok {
		t.Fatal("expected miss when pointing away from the only sphere")
	}
}

func TestIntersectEmptyWorld(t *testing.T) {
	origin := constructHyperboloidPoint(mgl32.Vec3{0, 0, 0})
	dir := correctDirection(origin, mgl32.Vec4{1, 0, 0, 0})
	rng := newRandState(7)

	if _, ok := intersect(origin, dir, nil, &rng); ok {
		t.Fatal("expected miss in empty world")
	}
}

func TestClosestPrimitiveTieBreak(t *testing.T) {
	// Две совпадающие сферы: победить должна первая в порядке обхода.
	sc := &scene.Scene{
		Geometries: []scene.Geometry{{
			Spheres: []scene.Sphere{
				{ID: "first", Position: scene.Vec3{Z: -2}, Radius: 0.5},
				{ID: "second", Position: scene.Vec3{Z: -2}, Radius: 0.5},
			},
		}},
	}
	world := sceneToWorld(sc)

	p := constructHyperboloidPoint(mgl32.Vec3{0, 0, 0})
	_, prim := closestPrimitive(p, world)
	if prim != &world[0] {
		t.Fatal("tie did not keep the first primitive in flatten order")
	}
}

func TestComputeNormalPointsOutward(t *testing.T) {
	world := sceneToWorld(singleSphereScene(0, 0.5))

	// Точка на поверхности: на гиперболическом расстоянии 0.5 от центра.
	center := world[0].origin
	basis := tangentBasis(center)
	p, _ := geodesicFlow(center, basis[0], 0.5)
	p = correctH3Point(p)

	n := computeNormal(p, world)
	if !isH3Dir(p, n) {
		t.Fatal("normal is not a unit tangent direction")
	}

	// Градиент поля расстояний растёт наружу: шаг вдоль нормали должен
	// увеличивать расстояние до сферы.
	pOut, _ := geodesicFlow(p, n, 0.01)
	if closestDistance(correctH3Point(pOut), world) <= closestDistance(p, world) {
		t.Fatal("normal does not point along increasing distance")
	}
}

func TestScatterDirectionMirror(t *testing.T) {
	p := constructHyperboloidPoint(mgl32.Vec3{0, 0, 0})
	n := correctDirection(p, mgl32.Vec4{0, 1, 0, 0})
	incident := correctDirection(p, mgl32.Vec4{1, -1, 0, 0})
	rng := newRandState(3)

	// roughness 0 — чистое зеркало, без случайности.
	out := scatterDirection(p, incident, n, 0, &rng)
	want := correctDirection(p, reflectH3(incident, n))
	for i := 0; i < 4; i++ {
		if mgl32.Abs(out[i]-want[i]) > 1e-6 {
			t.Fatalf("mirror scatter = %v, want %v", out, want)
		}
	}
}

func TestScatterDirectionStaysAboveSurface(t *testing.T) {
	p := constructHyperboloidPoint(mgl32.Vec3{0.1, 0.2, 0.3})
	n := correctDirection(p, mgl32.Vec4{0, 1, 0, 0})
	incident := correctDirection(p, mgl32.Vec4{0.3, -1, 0.1, 0})
	rng := newRandState(11)

	for i := 0; i < 200; i++ {
		out := scatterDirection(p, incident, n, 0.8, &rng)
		if minkowskiDot(out, n) < 0 {
			t.Fatalf("scatter %d went under the surface", i)
		}
		if nn := minkowskiDot64(out, out); math.Abs(nn-1) > 1e-4 {
			t.Fatalf("scatter %d not unit: %.9g", i, nn)
		}
	}
}

func TestBounceRestartClearsHitBand(t *testing.T) {
	// После попадания старт следующего отрезка (как его строит traceRay)
	// обязан выйти из зоны попадания: повторный intersect не должен сразу
	// вернуть ту же точку той же поверхности.
	sc := singleSphereScene(-2, 0.5)
	sc.Geometries[0].Spheres[0].Roughness = 1
	world := sceneToWorld(sc)

	origin := constructHyperboloidPoint(mgl32.Vec3{0, 0, 0})
	dir := correctDirection(origin, mgl32.Vec4{0, 0, -1, 0})

	for seed := uint32(1); seed <= 200; seed++ {
		rng := newRandState(seed)
		isect, ok := intersect(origin, dir, world, &rng)
		if !ok {
			t.Fatalf("seed %d: primary ray missed", seed)
		}

		p, _ := geodesicFlow(isect.Point, isect.Normal, bounceOffset)
		p = correctH3Point(p)
		d := correctDirection(p, isect.Outgoing)

		if dist := closestDistance(p, world); dist < hitDistance {
			t.Fatalf("seed %d: restart origin still inside hit band: %.6g", seed, dist)
		}
		next, ok := intersect(p, d, world, &rng)
		if ok && hypDistance(next.Point, isect.Point) < 10*hitDistance {
			t.Fatalf("seed %d: immediate self re-hit %.6g from previous hit",
				seed, hypDistance(next.Point, isect.Point))
		}
	}
}

func TestBounceOffsetExceedsHitDistance(t *testing.T) {
	if bounceOffset <= hitDistance {
		t.Fatalf("bounceOffset %g must exceed hitDistance %g", bounceOffset, hitDistance)
	}
}

func TestSphereUVNormalizesSpatialPart(t *testing.T) {
	// Пространственная часть касательного 4-направления не единичная;
	// укороченный +Y всё равно должен дать полюс (v = 0).
	_, v := sphereUV(mgl32.Vec4{0, 0.5, 0, 0.3})
	if v != 0 {
		t.Fatalf("short +Y normal v = %g, want 0", v)
	}
	_, v = sphereUV(mgl32.Vec4{0, -0.25, 0, 0.9})
	if v != 1 {
		t.Fatalf("short -Y normal v = %g, want 1", v)
	}
	// Азимут инвариантен к масштабу: +X даёт u = 0.5 при любой длине.
	u, _ := sphereUV(mgl32.Vec4{0.3, 0, 0, 0.7})
	if u != 0.5 {
		t.Fatalf("+X normal u = %g, want 0.5", u)
	}
}

func TestFloat32UpperBound(t *testing.T) {
	// Старшие 24 бита: максимальное состояние отображается строго ниже 1.
	if got := f32FromBits(0xFFFFFFFF); got >= 1 {
		t.Fatalf("f32FromBits(max) = %g, want < 1", got)
	}
	if got, want := f32FromBits(0xFFFFFFFF), float32(16777215)/16777216; got != want {
		t.Fatalf("f32FromBits(max) = %g, want %g", got, want)
	}
	if got := f32FromBits(0); got != 0 {
		t.Fatalf("f32FromBits(0) = %g, want 0", got)
	}

	rng := newRandState(99)
	for i := 0; i < 10000; i++ {
		if v := rng.Float32(); v < 0 || v >= 1 {
			t.Fatalf("draw %d out of [0,1): %g", i, v)
		}
	}
}

func TestRandStateDeterministic(t *testing.T) {
	a := newRandState(42)
	b := newRandState(42)
	for i := 0; i < 100; i++ {
		if a.Float32() != b.Float32() {
			t.Fatalf("same seed diverged at draw %d", i)
		}
	}

	// Нулевое зерно не должно давать вырожденную последовательность.
	z := newRandState(0)
	v := z.Float32()
	if v == 0 && z.Float32() == 0 {
		t.Fatal("zero seed produced a stuck sequence")
	}
	if v < 0 || v >= 1 {
		t.Fatalf("Float32 out of [0,1): %g", v)
	}
}
