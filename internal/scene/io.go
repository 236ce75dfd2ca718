package scene

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a Scene from a JSON file and loads every referenced texture.
// Texture paths are resolved relative to the scene file's directory.
func Load(path string) (*Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scene: %w", err)
	}
	defer f.Close()

	var sc Scene
	if err := json.NewDecoder(f).Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scene: %w", err)
	}

	if err := sc.LoadAssets(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadAssets resolves and loads the environment map and all sphere
// textures. Any failure here is fatal at setup time: the renderer never
// starts a frame with half-loaded assets.
func (sc *Scene) LoadAssets(baseDir string) error {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	if sc.EnvironmentPath != "" {
		tex, err := LoadTexture(resolve(sc.EnvironmentPath))
		if err != nil {
			return fmt.Errorf("environment map: %w", err)
		}
		sc.EnvMap = tex
	}

	for gi := range sc.Geometries {
		g := &sc.Geometries[gi]
		for si := range g.Spheres {
			s := &g.Spheres[si]
			if s.TexturePath == "" {
				continue
			}
			tex, err := LoadTexture(resolve(s.TexturePath))
			if err != nil {
				return fmt.Errorf("sphere %q texture: %w", s.ID, err)
			}
			s.Tex = tex
		}
	}
	return nil
}

// Save writes a Scene to a JSON file.
func Save(path string, sc *Scene) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create scene: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sc); err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	return nil
}
