package ui

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/D7ry/Rodent-Raytracer/internal/engine"
	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// logFilter фильтрует некритичные ошибки GLFW из логов
type logFilter struct {
	original io.Writer
}

func (f *logFilter) Write(p []byte) (n int, err error) {
	msg := string(p)
	// Пропускаем ошибки GLFW про Invalid scancode - это известная проблема
	// с нестандартными клавишами на Windows, не критична для работы
	if strings.Contains(msg, "Invalid scancode") {
		return len(p), nil
	}
	return f.original.Write(p)
}

// Run starts the interactive preview window for the given scene file.
func Run(scenePath, mode string) error {
	log.Printf("UI: starting with scene %q, mode=%s\n", scenePath, mode)

	originalLogWriter := log.Writer()
	log.SetOutput(&logFilter{original: originalLogWriter})
	defer log.SetOutput(originalLogWriter)

	a := app.New()
	w := a.NewWindow("Rodent Raytracer")

	sc, err := scene.Load(scenePath)
	if err != nil {
		return err
	}

	settings := engine.RenderSettingsForMode(mode)
	if sc.Settings.Width > 0 && sc.Settings.Height > 0 {
		settings.Width = sc.Settings.Width
		settings.Height = sc.Settings.Height
		if sc.Settings.SamplesPerPx > 0 {
			settings.SamplesPerPx = sc.Settings.SamplesPerPx
		}
		if sc.Settings.MaxBounces > 0 {
			settings.MaxBounces = sc.Settings.MaxBounces
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, settings.Width, settings.Height))
	for y := 0; y < settings.Height; y++ {
		for x := 0; x < settings.Width; x++ {
			img.Set(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	imgCanvas := canvas.NewImageFromImage(img)
	imgCanvas.FillMode = canvas.ImageFillContain
	// Ограничиваем размер предпросмотра, чтобы большое логическое
	// разрешение не ломало окно.
	aspect := float32(settings.Width) / float32(settings.Height)
	displayW := float32(1024)
	displayH := displayW / aspect
	if displayH > 768 {
		displayH = 768
		displayW = displayH * aspect
	}
	imgCanvas.SetMinSize(fyne.NewSize(displayW, displayH))

	status := widget.NewLabel("Idle")

	var mu sync.Mutex
	rendering := false

	backendLabel := widget.NewLabel("Backend: CPU")
	backendSlider := widget.NewSlider(0, 1)
	backendSlider.Step = 1
	backendSlider.OnChanged = func(v float64) {
		if v > 0.5 {
			engine.SetBackend(engine.BackendGPU)
		} else {
			engine.SetBackend(engine.BackendCPU)
		}
		backendLabel.SetText("Backend: " + strings.ToUpper(engine.GetBackend().String()))
	}

	startRender := func() {
		mu.Lock()
		if rendering {
			mu.Unlock()
			return
		}
		rendering = true
		mu.Unlock()

		status.SetText(fmt.Sprintf("Rendering %dx%d, %d spp, backend=%s...",
			settings.Width, settings.Height, settings.SamplesPerPx, engine.GetBackend()))

		go func() {
			start := time.Now()

			if engine.GetBackend() == engine.BackendGPU {
				out, err := engine.RenderScene(sc, settings)
				if err != nil {
					status.SetText("GPU render failed: " + err.Error())
					mu.Lock()
					rendering = false
					mu.Unlock()
					return
				}
				imgCanvas.Image = out
				imgCanvas.Refresh()
			} else {
				cfg := engine.RenderConfig{
					Width:        settings.Width,
					Height:       settings.Height,
					SamplesPerPx: settings.SamplesPerPx,
					MaxBounces:   settings.MaxBounces,
				}
				// progress-колбэк дёргается из воркеров; Refresh у fyne потокобезопасен
				engine.RenderInto(sc, cfg, img, func() {
					imgCanvas.Refresh()
				})
				imgCanvas.Image = img
				imgCanvas.Refresh()
			}

			status.SetText(fmt.Sprintf("Done in %.2fs", time.Since(start).Seconds()))
			mu.Lock()
			rendering = false
			mu.Unlock()
		}()
	}

	renderBtn := widget.NewButton("Render", startRender)
	saveBtn := widget.NewButton("Save PNG", func() {
		if imgCanvas.Image == nil {
			status.SetText("Nothing to save yet")
			return
		}
		out := "render.png"
		if err := engine.SavePNG(out, imgCanvas.Image); err != nil {
			status.SetText("Save failed: " + err.Error())
			return
		}
		status.SetText("Saved " + out)
	})

	controls := container.NewVBox(
		widget.NewLabel("Scene: "+sc.Name),
		renderBtn,
		saveBtn,
		backendLabel,
		backendSlider,
		status,
	)

	w.SetContent(container.NewBorder(nil, nil, nil, controls, imgCanvas))
	w.Resize(fyne.NewSize(displayW+260, displayH+40))
	w.ShowAndRun()
	return nil
}
