package engine

import (
	"image"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

func testScene() *scene.Scene {
	return &scene.Scene{
		Name: "test",
		Camera: scene.Camera{
			Position: scene.Vec3{Z: 2},
			Target:   scene.Vec3{},
			Up:       scene.Vec3{Y: 1},
			FOV:      90,
		},
		Geometries: []scene.Geometry{{
			ID: "g",
			Spheres: []scene.Sphere{
				{
					ID:        "ball",
					Radius:    0.5,
					Albedo:    scene.Color{R: 0.7, G: 0.2, B: 0.2},
					Roughness: 1,
				},
				{
					ID:               "lamp",
					Position:         scene.Vec3{Y: 1.5},
					Radius:           0.3,
					Albedo:           scene.Color{R: 1, G: 1, B: 1},
					Roughness:        1,
					Emissive:         true,
					Emission:         scene.Color{R: 1, G: 1, B: 1},
					EmissionStrength: 3,
				},
			},
		}},
		DayTime: 0.8,
	}
}

func TestAverageColor(t *testing.T) {
	samples := []mgl32.Vec3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{0, 0, 0},
	}
	if got := averageColor(samples); got != (mgl32.Vec3{0.25, 0.25, 0.25}) {
		t.Fatalf("averageColor = %v, want (0.25,0.25,0.25)", got)
	}
}

func TestWritePixel(t *testing.T) {
	var px [4]byte

	writePixel(px[:], mgl32.Vec3{0, 0, 0})
	if px != [4]byte{0, 0, 0, 255} {
		t.Fatalf("black pixel = %v", px)
	}

	// NaN и отрицательные каналы гасятся в ноль, не протекают в кадр.
	writePixel(px[:], mgl32.Vec3{float32(math.NaN()), -1, 0.25})
	if px[0] != 0 || px[1] != 0 {
		t.Fatalf("degenerate channels leaked: %v", px)
	}
	// sqrt(0.25) * 255.999 = 127.9995 -> 127
	if px[2] != 127 {
		t.Fatalf("gamma channel = %d, want 127", px[2])
	}

	// Переполнение клэмпится в 255.
	writePixel(px[:], mgl32.Vec3{100, 100, 100})
	if px != [4]byte{255, 255, 255, 255} {
		t.Fatalf("overbright pixel = %v", px)
	}
}

func TestRenderIntoFillsFrame(t *testing.T) {
	sc := testScene()
	cfg := RenderConfig{Width: 32, Height: 24, SamplesPerPx: 2, MaxBounces: 3}
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))

	progressCalls := 0
	RenderInto(sc, cfg, img, func() { progressCalls++ })

	if progressCalls == 0 {
		t.Fatal("progress callback never fired")
	}
	// Каждый пиксель записан: альфа выставляется только writePixel.
	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			if a := img.Pix[y*img.Stride+x*4+3]; a != 255 {
				t.Fatalf("pixel (%d,%d) alpha = %d, not written", x, y, a)
			}
		}
	}
}

func TestRenderIntoClampsConfig(t *testing.T) {
	sc := testScene()
	cfg := RenderConfig{Width: 8, Height: 8, SamplesPerPx: 0, MaxBounces: 0}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	// Нулевые настройки поднимаются до минимума, рендер не падает.
	RenderInto(sc, cfg, img, nil)
	if img.Pix[3] != 255 {
		t.Fatal("frame not rendered with clamped config")
	}
}

func TestTraceRayFiniteRadiance(t *testing.T) {
	sc := testScene()
	world := sceneToWorld(sc)
	cfg := RenderConfig{Width: 16, Height: 16, SamplesPerPx: 1, MaxBounces: 4}
	cam := newCamera(sc.Camera, cfg)
	rng := newRandState(123)
	path := make([]Intersection, cfg.MaxBounces)

	for i := 0; i < 64; i++ {
		u := rng.Float64()
		v := rng.Float64()
		origin, dir := cam.ray(u, v)
		c := traceRay(origin, dir, cfg.MaxBounces, world, sc, &rng, path)
		for ch := 0; ch < 3; ch++ {
			if math.IsNaN(float64(c[ch])) || c[ch] < 0 {
				t.Fatalf("sample %d channel %d degenerate: %v", i, ch, c)
			}
		}
	}
}

func TestTraceRayDiffuseBouncePicksUpEnvironment(t *testing.T) {
	// Один диффузный неэмиссивный шар: путь камера -> шар -> окружение.
	// Отскок обязан продолжиться и принести свет неба: albedo * env > 0.
	sc := &scene.Scene{
		Camera: scene.Camera{
			Position: scene.Vec3{Z: 2},
			Up:       scene.Vec3{Y: 1},
			FOV:      90,
		},
		Geometries: []scene.Geometry{{
			Spheres: []scene.Sphere{{
				ID:        "grey",
				Radius:    0.5,
				Albedo:    scene.Color{R: 0.5, G: 0.5, B: 0.5},
				Roughness: 1,
			}},
		}},
		DayTime: 1,
	}
	world := sceneToWorld(sc)
	cfg := RenderConfig{Width: 16, Height: 16, SamplesPerPx: 1, MaxBounces: 3}
	cam := newCamera(sc.Camera, cfg)
	path := make([]Intersection, cfg.MaxBounces)

	for seed := uint32(1); seed <= 50; seed++ {
		rng := newRandState(seed)
		origin, dir := cam.ray(0.5, 0.5) // прямо в центр шара
		c := traceRay(origin, dir, cfg.MaxBounces, world, sc, &rng, path)
		for ch := 0; ch < 3; ch++ {
			if c[ch] <= 0.01 {
				t.Fatalf("seed %d: bounced radiance channel %d = %g, want > 0.01 (light never arrived)",
					seed, ch, c[ch])
			}
		}
	}
}

func TestRenderIntoLitSceneNotBlack(t *testing.T) {
	// Сцена с диффузным шаром и эмиссивной лампой: кадр в целом и пиксель
	// на шаре обязаны быть заметно не чёрными.
	sc := testScene()
	cfg := RenderConfig{Width: 32, Height: 32, SamplesPerPx: 4, MaxBounces: 3}
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	RenderInto(sc, cfg, img, nil)

	// Центральный пиксель смотрит прямо на диффузный шар.
	ci := (cfg.Height/2)*img.Stride + (cfg.Width/2)*4
	if img.Pix[ci] == 0 && img.Pix[ci+1] == 0 && img.Pix[ci+2] == 0 {
		t.Fatal("pixel on the diffuse sphere is black: bounce transport broken")
	}

	var sum int
	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			i := y*img.Stride + x*4
			sum += int(img.Pix[i]) + int(img.Pix[i+1]) + int(img.Pix[i+2])
		}
	}
	mean := float64(sum) / float64(cfg.Width*cfg.Height*3)
	if mean < 5 {
		t.Fatalf("frame mean brightness = %.2f, want >= 5", mean)
	}
}

func TestCameraRayConstraints(t *testing.T) {
	sc := testScene()
	cfg := RenderConfig{Width: 16, Height: 9, SamplesPerPx: 1, MaxBounces: 1}
	cam := newCamera(sc.Camera, cfg)

	for _, st := range [][2]float64{{0, 0}, {0.5, 0.5}, {1, 1}, {0.25, 0.9}} {
		origin, dir := cam.ray(st[0], st[1])
		if !isH3Point(origin) {
			t.Fatalf("ray(%v) origin off hyperboloid: %v", st, origin)
		}
		if !isH3Dir(origin, dir) {
			t.Fatalf("ray(%v) direction not unit tangent", st)
		}
	}
}

func TestSceneToWorldFlattensGroups(t *testing.T) {
	sc := &scene.Scene{
		Geometries: []scene.Geometry{
			{
				Position: scene.Vec3{X: 1},
				Spheres: []scene.Sphere{
					{Position: scene.Vec3{X: 0.5}, Radius: 0.25},
				},
			},
			{
				Spheres: []scene.Sphere{
					{Radius: 0.1}, {Radius: 0.2},
				},
			},
		},
	}
	world := sceneToWorld(sc)
	if len(world) != 3 {
		t.Fatalf("flattened %d primitives, want 3", len(world))
	}

	// Мировой центр = позиция группы + локальная позиция сферы.
	want := constructHyperboloidPoint(mgl32.Vec3{1.5, 0, 0})
	if world[0].origin != want {
		t.Fatalf("world origin = %v, want %v", world[0].origin, want)
	}
}
