package engine

import (
	"image"
	"math"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// RenderConfig defines internal render parameters.
type RenderConfig struct {
	Width        int
	Height       int
	SamplesPerPx int
	MaxBounces   int
}

// tileSize matches the GPU kernel's 16x16 work groups so both backends
// schedule pixels identically.
const tileSize = 16

// Render performs one frame render of the given scene and returns a new image.
func Render(sc *scene.Scene, cfg RenderConfig) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	RenderInto(sc, cfg, img, nil)
	return img
}

// RenderInto renders the scene into the provided image. One logical worker
// exists per pixel; workers are scheduled as 16x16 tiles over a goroutine
// pool. The call is synchronous: it returns after every tile completed.
// If progress is not nil it is called periodically from worker goroutines
// to allow interactive preview.
func RenderInto(sc *scene.Scene, cfg RenderConfig, img *image.RGBA, progress func()) {
	b := img.Bounds()
	if b.Dx() != cfg.Width || b.Dy() != cfg.Height {
		// basic safety: resize not supported, just return
		return
	}
	if cfg.SamplesPerPx < 1 {
		cfg.SamplesPerPx = 1
	}
	if cfg.MaxBounces < 1 {
		cfg.MaxBounces = 1
	}

	// Сцена и камера read-only на весь кадр; воркеры делят их без блокировок.
	world := sceneToWorld(sc)
	cam := newCamera(sc.Camera, cfg)

	pixelCount := cfg.Width * cfg.Height

	// Per-pixel RNG state: exclusively indexed by each pixel's worker.
	// This disjointness is the safety invariant that replaces locking.
	frameSeed := uint32(time.Now().UnixNano())
	rngs := make([]randState, pixelCount)
	for i := range rngs {
		rngs[i] = newRandState(hashU32(uint32(i)*1973 ^ frameSeed))
	}

	// Intersection scratch: pixels x samples x bounces records, consumed by
	// disjoint index ranges per pixel, never shared between workers.
	scratch := make([]Intersection, pixelCount*cfg.SamplesPerPx*cfg.MaxBounces)

	pix := img.Pix
	stride := img.Stride
	invW := 1.0 / float64(cfg.Width)
	invH := 1.0 / float64(cfg.Height)
	heightMinus1 := cfg.Height - 1

	workerCount := runtime.NumCPU()
	if workerCount < 1 {
		workerCount = 1
	}
	if env := os.Getenv("RODENT_WORKERS"); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 && n <= 128 {
			workerCount = n
		}
	}

	type tile struct {
		x0, y0, x1, y1 int
	}
	numTilesX := (cfg.Width + tileSize - 1) / tileSize
	numTilesY := (cfg.Height + tileSize - 1) / tileSize
	tiles := make(chan tile, numTilesX*numTilesY)
	for ty := 0; ty < cfg.Height; ty += tileSize {
		for tx := 0; tx < cfg.Width; tx += tileSize {
			x1 := tx + tileSize
			if x1 > cfg.Width {
				x1 = cfg.Width
			}
			y1 := ty + tileSize
			if y1 > cfg.Height {
				y1 = cfg.Height
			}
			tiles <- tile{x0: tx, y0: ty, x1: x1, y1: y1}
		}
	}
	close(tiles)

	totalTiles := numTilesX * numTilesY
	var processedTiles int
	var progressMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			samples := make([]mgl32.Vec3, cfg.SamplesPerPx)

			for t := range tiles {
				for y := t.y0; y < t.y1; y++ {
					rowIdx := y * stride
					// JSON-сцены считают Y вверх, изображение — вниз.
					flipY := float64(heightMinus1 - y)

					for x := t.x0; x < t.x1; x++ {
						pixIdx := y*cfg.Width + x
						rng := &rngs[pixIdx]
						scratchBase := pixIdx * cfg.SamplesPerPx * cfg.MaxBounces

						for s := 0; s < cfg.SamplesPerPx; s++ {
							// Джиттер внутри пикселя для анти-алиасинга.
							u := (float64(x) + rng.Float64()) * invW
							v := (flipY + rng.Float64()) * invH
							origin, dir := cam.ray(u, v)

							path := scratch[scratchBase+s*cfg.MaxBounces : scratchBase+(s+1)*cfg.MaxBounces]
							samples[s] = traceRay(origin, dir, cfg.MaxBounces, world, sc, rng, path)
						}

						writePixel(pix[rowIdx+x*4:], averageColor(samples))
					}
				}

				if progress != nil {
					progressMu.Lock()
					processedTiles++
					updateEvery := totalTiles / 20
					if updateEvery < 1 {
						updateEvery = 1
					}
					shouldUpdate := processedTiles%updateEvery == 0 || processedTiles == totalTiles
					progressMu.Unlock()
					if shouldUpdate {
						progress()
					}
				}
			}
		}()
	}

	wg.Wait()

	if progress != nil {
		progress()
	}
}

// averageColor averages the sub-ray radiance samples of one pixel.
func averageColor(samples []mgl32.Vec3) mgl32.Vec3 {
	var sum mgl32.Vec3
	for _, s := range samples {
		sum = sum.Add(s)
	}
	return sum.Mul(1 / float32(len(samples)))
}

// writePixel converts linear radiance to the output byte format: NaN and
// negative channels are dropped to zero so transient degenerate samples
// never leak into the frame buffer, then gamma 2.0 and clamp.
func writePixel(dst []byte, c mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		v := float64(c[i])
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		v = math.Sqrt(v) * 255.999
		if v > 255.999 {
			v = 255.999
		}
		dst[i] = uint8(v)
	}
	dst[3] = 255
}
