package engine

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

func TestEvaluatePathEmissiveFirstHit(t *testing.T) {
	sc := &scene.Scene{DayTime: 1}
	hits := []Intersection{
		{
			Albedo:           mgl32.Vec3{0.9, 0.8, 0.7},
			Emissive:         true,
			Emission:         mgl32.Vec3{5, 5, 5},
			EmissionStrength: 10,
		},
		// Второе попадание не должно учитываться вовсе.
		{Albedo: mgl32.Vec3{0, 0, 0}},
	}

	got := evaluatePath(mgl32.Vec4{0, 0, -1, 0}, hits, 2, sc, false)
	// Эмиссивное первое попадание возвращает свой albedo как есть,
	// без Emission и без свёртки.
	if got != (mgl32.Vec3{0.9, 0.8, 0.7}) {
		t.Fatalf("emissive first hit = %v, want albedo (0.9,0.8,0.7)", got)
	}
}

func TestEvaluatePathBackwardFold(t *testing.T) {
	sc := &scene.Scene{DayTime: 1}
	hits := []Intersection{
		{Albedo: mgl32.Vec3{0.5, 0.5, 0.5}},
		{
			Albedo:           mgl32.Vec3{1, 1, 1},
			Emissive:         true,
			Emission:         mgl32.Vec3{2, 2, 2},
			EmissionStrength: 1,
		},
	}

	// Путь исчерпал лимит отскоков: затравка чёрная.
	// Свёртка: дальний хит даёт 2*1 + 1*0 = 2, ближний 0 + 0.5*2 = 1.
	got := evaluatePath(mgl32.Vec4{0, 0, -1, 0}, hits, 2, sc, false)
	if got != (mgl32.Vec3{1, 1, 1}) {
		t.Fatalf("folded light = %v, want (1,1,1)", got)
	}
}

func TestEvaluatePathEscapedSeedsEnvironment(t *testing.T) {
	sc := &scene.Scene{DayTime: 1}
	dir := mgl32.Vec4{0, 1, 0, 0}

	// Путь без попаданий, ушедший в окружение: ровно environmentLight.
	got := evaluatePath(dir, nil, 0, sc, true)
	want := environmentLight(dir, sc)
	if got != want {
		t.Fatalf("escaped empty path = %v, want env %v", got, want)
	}

	// Тот же путь без флага escape — чёрный.
	if got := evaluatePath(dir, nil, 0, sc, false); got != (mgl32.Vec3{}) {
		t.Fatalf("exhausted empty path = %v, want black", got)
	}
}

func TestSkyColorDayNightBlend(t *testing.T) {
	up := mgl32.Vec4{0, 1, 0, 0}

	day := skyColor(up, 1)
	night := skyColor(up, 0)
	if day == night {
		t.Fatal("day and night sky must differ")
	}
	// Вертикаль вверх получает полный вес: base * (0.2 + 0.8*1).
	if day != skyDayColor {
		t.Fatalf("day zenith = %v, want %v", day, skyDayColor)
	}

	// Направление вниз темнее направления вверх.
	down := skyColor(mgl32.Vec4{0, -1, 0, 0}, 1)
	if down.X() >= day.X() {
		t.Fatalf("downward sky %v not darker than zenith %v", down, day)
	}
}

func TestEnvironmentLightAddsMap(t *testing.T) {
	tex := &scene.Texture{
		Width:  2,
		Height: 2,
		Pix: []float32{
			1, 0, 0, 1, 0, 0,
			1, 0, 0, 1, 0, 0,
		},
	}
	dir := mgl32.Vec4{0, 1, 0, 0}

	plain := &scene.Scene{DayTime: 0.5}
	withMap := &scene.Scene{DayTime: 0.5, EnvMap: tex}

	base := environmentLight(dir, plain)
	got := environmentLight(dir, withMap)
	want := base.Add(mgl32.Vec3{1, 0, 0})
	if got != want {
		t.Fatalf("env light with map = %v, want %v", got, want)
	}
}

func TestSpatialDirectionDegenerate(t *testing.T) {
	// Нулевая пространственная часть — детерминированный fallback.
	if got := spatialDirection(mgl32.Vec4{0, 0, 0, 1}); got != (mgl32.Vec3{0, 1, 0}) {
		t.Fatalf("degenerate direction = %v, want (0,1,0)", got)
	}
}
