package engine

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/D7ry/Rodent-Raytracer/internal/engine/gpu"
	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// RenderScene renders one frame of the given scene with the provided
// settings on the currently selected backend.
func RenderScene(sc *scene.Scene, settings scene.RenderSettings) (image.Image, error) {
	cfg := RenderConfig{
		Width:        settings.Width,
		Height:       settings.Height,
		SamplesPerPx: settings.SamplesPerPx,
		MaxBounces:   settings.MaxBounces,
	}

	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	if GetBackend() == BackendGPU {
		gpuCfg := gpu.RenderConfig{
			Width:        cfg.Width,
			Height:       cfg.Height,
			SamplesPerPx: cfg.SamplesPerPx,
			MaxBounces:   cfg.MaxBounces,
		}
		if err := gpu.Render(sc, gpuCfg, img, nil); err != nil {
			return nil, fmt.Errorf("gpu render: %w", err)
		}
		return img, nil
	}

	RenderInto(sc, cfg, img, nil)
	return img, nil
}

// Shutdown releases backend resources. Only the GPU backend holds any;
// calling it without a prior GPU render is a no-op.
func Shutdown() {
	if GetBackend() == BackendGPU {
		gpu.Shutdown()
	}
}

// RenderSettingsForMode returns reasonable defaults for preview/final modes.
// Scene-provided settings override these.
func RenderSettingsForMode(mode string) scene.RenderSettings {
	switch mode {
	case "final":
		return scene.RenderSettings{
			Width:        1280,
			Height:       720,
			SamplesPerPx: 64,
			MaxBounces:   8,
		}
	default:
		return scene.RenderSettings{
			Width:        400,
			Height:       225,
			SamplesPerPx: 4,
			MaxBounces:   4,
		}
	}
}

// SavePNG writes an image to a PNG file.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
