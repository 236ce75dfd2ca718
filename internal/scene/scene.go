package scene

// Vec3 represents a simple 3D vector or point.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Color is an RGB color in linear space.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Camera describes the viewpoint for the renderer.
// Position is Euclidean; the engine lifts it onto the hyperboloid model
// before tracing.
type Camera struct {
	Position Vec3    `json:"position"`
	Target   Vec3    `json:"target"`
	Up       Vec3    `json:"up"`
	FOV      float64 `json:"fov"`

	AspectRatio float64 `json:"aspect_ratio"`
}

// Sphere is the single primitive kind the renderer knows about.
// Material fields live directly on the primitive: every hit snapshots them
// into the intersection record, so a separate material table buys nothing.
type Sphere struct {
	ID string `json:"id"`

	// Position is relative to the owning geometry group.
	Position Vec3    `json:"position"`
	Radius   float64 `json:"radius"`

	Albedo    Color   `json:"albedo"`
	Roughness float64 `json:"roughness"` // 0 = mirror, 1 = diffuse

	Emissive         bool    `json:"emissive"`
	Emission         Color   `json:"emission"`
	EmissionStrength float64 `json:"emission_strength"`

	// TexturePath is an optional image file used for surface color lookup.
	// When set, the loaded texture overrides Albedo at hit time.
	TexturePath string   `json:"texture,omitempty"`
	Tex         *Texture `json:"-"`
}

// Geometry is a group of spheres sharing a world position.
// Sphere world position = group position + sphere local position.
type Geometry struct {
	ID       string   `json:"id"`
	Position Vec3     `json:"position"`
	Spheres  []Sphere `json:"spheres"`
}

// RenderSettings defines quality/performance parameters.
type RenderSettings struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	SamplesPerPx int `json:"samples_per_px"`
	MaxBounces   int `json:"max_bounces"`
}

// Scene holds everything needed to render an image.
// It is built on the host, flattened once per render call and treated as
// read-only for the duration of a frame, so all workers share it safely.
type Scene struct {
	Name       string         `json:"name"`
	Camera     Camera         `json:"camera"`
	Geometries []Geometry     `json:"geometries"`
	Settings   RenderSettings `json:"settings"`

	// DayTime in [0,1] drives the procedural sky blend (0 = night, 1 = day).
	DayTime float64 `json:"day_time"`

	// EnvironmentPath is an optional equirectangular environment map,
	// sampled when a ray escapes the scene.
	EnvironmentPath string   `json:"environment,omitempty"`
	EnvMap          *Texture `json:"-"`
}

// PrimitiveCount returns the total number of spheres across all groups.
func (sc *Scene) PrimitiveCount() int {
	n := 0
	for i := range sc.Geometries {
		n += len(sc.Geometries[i].Spheres)
	}
	return n
}
