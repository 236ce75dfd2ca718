package gpu

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/go-gl/gl/v4.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/D7ry/Rodent-Raytracer/internal/scene"
)

// RenderConfig is a minimal copy of engine.RenderConfig to avoid import cycles.
type RenderConfig struct {
	Width        int
	Height       int
	SamplesPerPx int
	MaxBounces   int
}

// Stride of one packed sphere record in the SSBO, in floats.
// Must stay in sync with SPHERE_STRIDE in the compute shader.
const sphereStride = 16

// Upper bound on bounce records the kernel keeps per ray.
// Must stay in sync with MAX_BOUNCES_CAP in the compute shader.
const maxBouncesCap = 8

// gpuRenderer owns a hidden GLFW window and the persistent GL resources
// used for compute rendering: the output texture, the readback PBO and
// the scene buffers. Allocated once at Initialize, reused across frames,
// released at Shutdown.
type gpuRenderer struct {
	initOnce sync.Once
	initErr  error
	window   *glfw.Window
	program  uint32

	imgTexture  uint32
	pbo         uint32
	sphereSSBO  uint32
	texHeadSSBO uint32
	texDataSSBO uint32
	camUBO      uint32

	width  int
	height int
}

type requestKind int

const (
	reqRender requestKind = iota
	reqShutdown
)

// request is sent from callers to the dedicated GL worker goroutine.
type request struct {
	kind     requestKind
	sc       *scene.Scene
	cfg      RenderConfig
	img      *image.RGBA
	progress func()
	done     chan error
}

// errShutdown is returned by Initialize/Render once Shutdown has run.
var errShutdown = errors.New("gpu: renderer is shut down")

var (
	renderer   gpuRenderer
	requestCh  chan request
	workerOnce sync.Once
	readyCh    chan error

	// stateMu guards stopped and serializes request submission against
	// shutdown, so a request can never be sent after the worker exited.
	stateMu sync.Mutex
	stopped bool
)

// Initialize allocates the persistent device resources: it starts the
// dedicated GL worker goroutine and blocks until the context, compute
// program and buffers exist. No compatible compute device is a fatal
// error surfaced here, once, rather than per frame.
func Initialize() error {
	stateMu.Lock()
	if stopped {
		stateMu.Unlock()
		return errShutdown
	}
	stateMu.Unlock()

	workerOnce.Do(func() {
		requestCh = make(chan request)
		readyCh = make(chan error, 1)
		go renderWorker()
	})
	if err, ok := <-readyCh; ok {
		// Первый вызов: забираем результат инициализации и запоминаем его.
		renderer.initErr = err
		close(readyCh)
		return err
	}
	return renderer.initErr
}

// Shutdown releases the persistent device resources. The worker exits;
// re-initialization is not supported within one process lifetime, and
// further Initialize/Render calls fail with an error.
func Shutdown() {
	stateMu.Lock()
	if stopped {
		stateMu.Unlock()
		return
	}
	stopped = true
	if requestCh == nil {
		stateMu.Unlock()
		return
	}
	done := make(chan error, 1)
	requestCh <- request{kind: reqShutdown, done: done}
	stateMu.Unlock()
	<-done
}

// Render schedules one synchronous frame on the GL worker and waits for
// completion. It initializes lazily so headless one-shot renders work
// without an explicit Initialize call.
func Render(sc *scene.Scene, cfg RenderConfig, img *image.RGBA, progress func()) error {
	if err := Initialize(); err != nil {
		return err
	}
	done := make(chan error, 1)
	req := request{
		kind:     reqRender,
		sc:       sc,
		cfg:      cfg,
		img:      img,
		progress: progress,
		done:     done,
	}

	stateMu.Lock()
	if stopped {
		stateMu.Unlock()
		return errShutdown
	}
	requestCh <- req
	stateMu.Unlock()
	return <-done
}

// renderWorker owns the GL context and processes all GPU requests.
// It always runs on a single locked OS thread, which is required by OpenGL.
func renderWorker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := renderer.initGL()
	readyCh <- err
	if err != nil {
		fmt.Fprintf(os.Stderr, "GPU initialization failed: %v\n", err)
		for req := range requestCh {
			req.done <- err
			if req.kind == reqShutdown {
				return
			}
		}
		return
	}

	fmt.Fprintf(os.Stderr, "GPU renderer initialized\n")

	for req := range requestCh {
		switch req.kind {
		case reqShutdown:
			renderer.releaseGL()
			req.done <- nil
			return
		case reqRender:
			err := renderer.renderOnce(req.sc, req.cfg, req.img, req.progress)
			if err != nil {
				fmt.Fprintf(os.Stderr, "GPU render error: %v\n", err)
			}
			req.done <- err
		}
	}
}

// initGL must be called from the GL worker goroutine (locked OS thread).
func (r *gpuRenderer) initGL() error {
	r.initOnce.Do(func() {
		if err := glfw.Init(); err != nil {
			r.initErr = fmt.Errorf("glfw init: %w", err)
			return
		}

		glfw.WindowHint(glfw.Visible, glfw.False)
		glfw.WindowHint(glfw.ContextVersionMajor, 4)
		glfw.WindowHint(glfw.ContextVersionMinor, 3)
		glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)

		w, err := glfw.CreateWindow(1, 1, "rodent-gpu-hidden", nil, nil)
		if err != nil {
			r.initErr = fmt.Errorf("glfw create window: %w", err)
			return
		}
		r.window = w
		w.MakeContextCurrent()

		if err := gl.Init(); err != nil {
			r.initErr = fmt.Errorf("gl init: %w", err)
			return
		}

		gl.GenTextures(1, &r.imgTexture)
		gl.BindTexture(gl.TEXTURE_2D, r.imgTexture)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)

		gl.GenBuffers(1, &r.pbo)
		gl.GenBuffers(1, &r.sphereSSBO)
		gl.GenBuffers(1, &r.texHeadSSBO)
		gl.GenBuffers(1, &r.texDataSSBO)
		gl.GenBuffers(1, &r.camUBO)

		cs, err := compileShader(computeSrc, gl.COMPUTE_SHADER)
		if err != nil {
			r.initErr = fmt.Errorf("compile compute shader: %w", err)
			return
		}
		r.program = gl.CreateProgram()
		gl.AttachShader(r.program, cs)
		gl.LinkProgram(r.program)

		var status int32
		gl.GetProgramiv(r.program, gl.LINK_STATUS, &status)
		if status == gl.FALSE {
			var logLen int32
			gl.GetProgramiv(r.program, gl.INFO_LOG_LENGTH, &logLen)
			logBuf := make([]byte, logLen+1)
			gl.GetProgramInfoLog(r.program, logLen, nil, &logBuf[0])
			r.initErr = fmt.Errorf("link compute program: %s", string(logBuf))
			return
		}
	})
	return r.initErr
}

// releaseGL frees the persistent resources. Worker thread only.
func (r *gpuRenderer) releaseGL() {
	if r.program != 0 {
		gl.DeleteProgram(r.program)
	}
	if r.imgTexture != 0 {
		gl.DeleteTextures(1, &r.imgTexture)
	}
	buffers := []uint32{r.pbo, r.sphereSSBO, r.texHeadSSBO, r.texDataSSBO, r.camUBO}
	for _, b := range buffers {
		if b != 0 {
			gl.DeleteBuffers(1, &b)
		}
	}
	if r.window != nil {
		r.window.Destroy()
	}
	glfw.Terminate()
}

func compileShader(src string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(src + "\x00")
	defer free()
	gl.ShaderSource(shader, 1, csources, nil)
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		logBuf := make([]byte, logLen+1)
		gl.GetShaderInfoLog(shader, logLen, nil, &logBuf[0])
		return 0, fmt.Errorf("shader compile: %s", string(logBuf))
	}
	return shader, nil
}

// liftToHyperboloid mirrors the engine's constructHyperboloidPoint.
// Duplicated here (like RenderConfig) to avoid an import cycle.
func liftToHyperboloid(x, y, z float64) [4]float32 {
	r := math.Sqrt(x*x + y*y + z*z)
	if r < 1e-12 {
		return [4]float32{0, 0, 0, 1}
	}
	s := math.Sinh(r) / r
	return [4]float32{
		float32(x * s),
		float32(y * s),
		float32(z * s),
		float32(math.Cosh(r)),
	}
}

// packScene flattens all geometry groups into the sphere SSBO layout and
// collects every referenced texture (plus the environment map) into one
// float atlas. Returns sphere data, texture headers, texel data and the
// environment map's texture index (-1 when absent).
func packScene(sc *scene.Scene) (sphereData []float32, texHead []float32, texData []float32, envIndex int32) {
	texIndex := make(map[*scene.Texture]int32)
	envIndex = -1

	addTexture := func(t *scene.Texture) int32 {
		if t == nil {
			return -1
		}
		if idx, ok := texIndex[t]; ok {
			return idx
		}
		idx := int32(len(texHead) / 4)
		texIndex[t] = idx
		texHead = append(texHead,
			float32(len(texData)),
			float32(t.Width),
			float32(t.Height),
			0,
		)
		texData = append(texData, t.Pix...)
		return idx
	}

	for gi := range sc.Geometries {
		g := &sc.Geometries[gi]
		for si := range g.Spheres {
			s := &g.Spheres[si]
			origin := liftToHyperboloid(
				g.Position.X+s.Position.X,
				g.Position.Y+s.Position.Y,
				g.Position.Z+s.Position.Z,
			)

			emissive := float32(0)
			if s.Emissive {
				emissive = 1
			}

			rec := [sphereStride]float32{
				origin[0], origin[1], origin[2], origin[3],
				float32(s.Albedo.R), float32(s.Albedo.G), float32(s.Albedo.B), float32(s.Radius),
				float32(s.Emission.R), float32(s.Emission.G), float32(s.Emission.B), float32(s.EmissionStrength),
				float32(s.Roughness), emissive, float32(addTexture(s.Tex)), 0,
			}
			sphereData = append(sphereData, rec[:]...)
		}
	}

	envIndex = addTexture(sc.EnvMap)
	return sphereData, texHead, texData, envIndex
}

// packCamera builds the camera UBO block: hyperboloid position, the
// Euclidean orientation basis and the view half-extents.
func packCamera(cam scene.Camera, cfg RenderConfig) [20]float32 {
	aspect := float64(cfg.Width) / float64(cfg.Height)
	if cam.AspectRatio != 0 {
		aspect = cam.AspectRatio
	}
	fov := cam.FOV
	if fov <= 0 {
		fov = 90
	}
	halfH := math.Tan(fov * math.Pi / 180 / 2)
	halfW := aspect * halfH

	// Ортонормальный базис камеры в евклидовом видовом пространстве.
	wx := cam.Position.X - cam.Target.X
	wy := cam.Position.Y - cam.Target.Y
	wz := cam.Position.Z - cam.Target.Z
	wl := math.Sqrt(wx*wx + wy*wy + wz*wz)
	if wl < 1e-9 {
		wx, wy, wz, wl = 0, 0, 1, 1
	}
	wx, wy, wz = wx/wl, wy/wl, wz/wl

	ux := cam.Up.Y*wz - cam.Up.Z*wy
	uy := cam.Up.Z*wx - cam.Up.X*wz
	uz := cam.Up.X*wy - cam.Up.Y*wx
	ul := math.Sqrt(ux*ux + uy*uy + uz*uz)
	if ul < 1e-9 {
		ux, uy, uz, ul = 1, 0, 0, 1
	}
	ux, uy, uz = ux/ul, uy/ul, uz/ul

	vx := wy*uz - wz*uy
	vy := wz*ux - wx*uz
	vz := wx*uy - wy*ux

	pos := liftToHyperboloid(cam.Position.X, cam.Position.Y, cam.Position.Z)

	return [20]float32{
		pos[0], pos[1], pos[2], pos[3],
		float32(ux), float32(uy), float32(uz), 0,
		float32(vx), float32(vy), float32(vz), 0,
		float32(wx), float32(wy), float32(wz), 0,
		float32(halfW), float32(halfH), 0, 0,
	}
}

// renderOnce executes one frame on the already initialized GL context
// owned by the worker goroutine: upload scene, one dispatch covering
// every pixel, synchronous wait, readback.
func (r *gpuRenderer) renderOnce(sc *scene.Scene, cfg RenderConfig, img *image.RGBA, progress func()) error {
	pixelCount := cfg.Width * cfg.Height
	if pixelCount <= 0 {
		return nil
	}
	if cfg.SamplesPerPx < 1 {
		cfg.SamplesPerPx = 1
	}
	if cfg.MaxBounces < 1 {
		cfg.MaxBounces = 1
	}
	if cfg.MaxBounces > maxBouncesCap {
		cfg.MaxBounces = maxBouncesCap
	}

	sphereData, texHead, texData, envIndex := packScene(sc)
	camBlock := packCamera(sc.Camera, cfg)

	// Persistent texture/PBO are resized lazily when the frame size changes.
	if r.width != cfg.Width || r.height != cfg.Height {
		r.width = cfg.Width
		r.height = cfg.Height

		gl.BindTexture(gl.TEXTURE_2D, r.imgTexture)
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA32F, int32(cfg.Width), int32(cfg.Height), 0, gl.RGBA, gl.FLOAT, nil)

		gl.BindBuffer(gl.PIXEL_PACK_BUFFER, r.pbo)
		gl.BufferData(gl.PIXEL_PACK_BUFFER, pixelCount*4*4, nil, gl.STREAM_READ)
		gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
	}

	uploadSSBO := func(binding uint32, ssbo uint32, data []float32) {
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, binding, ssbo)
		if len(data) == 0 {
			// Хотя бы минимальный буфер, чтобы не ловить GL-ошибки на пустой сцене.
			data = []float32{0}
		}
		gl.BufferData(gl.SHADER_STORAGE_BUFFER, len(data)*4, gl.Ptr(data), gl.DYNAMIC_DRAW)
	}
	uploadSSBO(3, r.sphereSSBO, sphereData)
	uploadSSBO(4, r.texHeadSSBO, texHead)
	uploadSSBO(5, r.texDataSSBO, texData)

	gl.BindBufferBase(gl.UNIFORM_BUFFER, 1, r.camUBO)
	gl.BufferData(gl.UNIFORM_BUFFER, len(camBlock)*4, gl.Ptr(camBlock[:]), gl.DYNAMIC_DRAW)

	gl.UseProgram(r.program)
	gl.BindImageTexture(0, r.imgTexture, 0, false, 0, gl.WRITE_ONLY, gl.RGBA32F)

	uniform1i := func(name string, v int32) {
		gl.Uniform1i(gl.GetUniformLocation(r.program, gl.Str(name+"\x00")), v)
	}
	uniform1i("uWidth", int32(cfg.Width))
	uniform1i("uHeight", int32(cfg.Height))
	uniform1i("uSamplesPerPx", int32(cfg.SamplesPerPx))
	uniform1i("uMaxBounces", int32(cfg.MaxBounces))
	uniform1i("uSphereCount", int32(len(sphereData)/sphereStride))
	uniform1i("uEnvTexIndex", envIndex)
	gl.Uniform1f(gl.GetUniformLocation(r.program, gl.Str("uDayTime\x00")), float32(sc.DayTime))
	gl.Uniform1ui(gl.GetUniformLocation(r.program, gl.Str("uFrameSeed\x00")), uint32(time.Now().UnixNano()))

	// Один запуск на кадр: все сэмплы и отскоки считаются за один проход.
	groupsX := (cfg.Width + 15) / 16
	groupsY := (cfg.Height + 15) / 16
	gl.DispatchCompute(uint32(groupsX), uint32(groupsY), 1)
	gl.MemoryBarrier(gl.SHADER_IMAGE_ACCESS_BARRIER_BIT | gl.TEXTURE_FETCH_BARRIER_BIT)
	gl.Finish()

	// Device errors are polled once per frame, logged, and do not fail
	// the frame: a degenerate launch yields a degenerate image, not an abort.
	if glErr := gl.GetError(); glErr != gl.NO_ERROR {
		fmt.Fprintf(os.Stderr, "GPU: GL error after dispatch: 0x%x\n", glErr)
	}

	// Readback через PBO.
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, r.pbo)
	gl.BindTexture(gl.TEXTURE_2D, r.imgTexture)
	gl.GetTexImage(gl.TEXTURE_2D, 0, gl.RGBA, gl.FLOAT, nil)

	tmp := make([]float32, pixelCount*4)
	ptr := gl.MapBuffer(gl.PIXEL_PACK_BUFFER, gl.READ_ONLY)
	if ptr != nil {
		src := ((*[1 << 28]float32)(ptr))[:len(tmp)]
		copy(tmp, src)
		gl.UnmapBuffer(gl.PIXEL_PACK_BUFFER)
	}
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)

	// Линейный цвет -> клэмп -> гамма 2.0, как в CPU-бэкенде.
	dst := img.Pix
	for i := 0; i < pixelCount; i++ {
		off := i * 4
		for c := 0; c < 3; c++ {
			v := float64(tmp[off+c])
			if math.IsNaN(v) || v < 0 {
				v = 0
			}
			v = math.Sqrt(v) * 255.999
			if v > 255.999 {
				v = 255.999
			}
			dst[off+c] = uint8(v)
		}
		dst[off+3] = 255
	}

	if progress != nil {
		progress()
	}
	return nil
}

// The compute kernel: the same hyperbolic marching and path integration
// the CPU backend implements, expressed over the packed flat buffers.
const computeSrc = `
#version 430
layout(local_size_x = 16, local_size_y = 16) in;

layout(binding = 0, rgba32f) uniform writeonly image2D destTex;

uniform int uWidth;
uniform int uHeight;
uniform int uSamplesPerPx;
uniform int uMaxBounces;
uniform int uSphereCount;
uniform int uEnvTexIndex;
uniform float uDayTime;
uniform uint uFrameSeed;

// Камера: позиция на гиперболоиде + евклидов базис ориентации.
layout(std140, binding = 1) uniform CameraBlock {
    vec4 camPosH;   // точка на гиперболоиде
    vec4 camRight;  // xyz = right
    vec4 camUp;     // xyz = up
    vec4 camBack;   // xyz = back (камера смотрит вдоль -back)
    vec4 camHalf;   // x = halfW, y = halfH
};

// Сфера: [originH(4), albedo(3)+radius, emission(3)+strength,
//         roughness, emissive, texIndex, pad] (16 float)
layout(std430, binding = 3) buffer Spheres {
    float sphereData[];
};

// Заголовок текстуры: [offset, width, height, pad] (4 float)
layout(std430, binding = 4) buffer TexHeaders {
    float texHead[];
};

// Все текстуры подряд, RGB float.
layout(std430, binding = 5) buffer TexData {
    float texData[];
};

const int SPHERE_STRIDE = 16;
const int MAX_BOUNCES_CAP = 8;
const int MAX_MARCH_STEPS = 16;
const float HIT_DIST = 0.005;
const float MAX_TRACE_DIST = 50.0;
const float NORMAL_EPS = 1e-4;
const float BOUNCE_OFFSET = 0.01; // must exceed HIT_DIST
const float H3_EPS = 1e-3;
const float PI = 3.14159265359;

uint hash_u(uint x) {
    x ^= x >> 17;
    x *= 0xed5ad4bbU;
    x ^= x >> 11;
    x *= 0xac4c1b51U;
    x ^= x >> 15;
    x *= 0x31848babU;
    x ^= x >> 14;
    return x;
}

// Старшие 24 бита: ровно мантисса float, результат строго < 1.
float rng(inout uint state) {
    state = hash_u(state);
    return float(state >> 8u) / 16777216.0;
}

// Лоренцево скалярное произведение, сигнатура (+,+,+,-).
float minkDot(vec4 u, vec4 v) {
    return u.x * v.x + u.y * v.y + u.z * v.z - u.w * v.w;
}

bool isH3Point(vec4 p) {
    float q = minkDot(p, p);
    return !isnan(q) && abs(q + 1.0) < H3_EPS && p.w > 0.0;
}

bool isH3Dir(vec4 p, vec4 d) {
    float n = minkDot(d, d);
    float t = minkDot(p, d);
    return !isnan(n) && !isnan(t) && abs(n - 1.0) < H3_EPS && abs(t) < H3_EPS;
}

vec4 correctH3Point(vec4 p) {
    float q = -minkDot(p, p);
    if (q <= 0.0 || isnan(q)) return p;
    return p * inversesqrt(q);
}

vec4 correctDirection(vec4 p, vec4 d) {
    d += p * minkDot(p, d);
    float n = minkDot(d, d);
    if (n <= 0.0 || isnan(n)) return d;
    return d * inversesqrt(n);
}

void geodesicFlow(inout vec4 p, inout vec4 d, float t) {
    float ch = cosh(t);
    float sh = sinh(t);
    vec4 np = p * ch + d * sh;
    vec4 nd = p * sh + d * ch;
    p = np;
    d = nd;
}

float hypDist(vec4 u, vec4 v) {
    float c = -minkDot(u, v);
    return acosh(max(c, 1.0));
}

vec4 reflectH3(vec4 d, vec4 n) {
    return d - 2.0 * minkDot(d, n) * n;
}

void readSphere(int idx, out vec4 origin, out vec3 albedo, out float radius,
                out vec3 emission, out float strength,
                out float roughness, out bool emissive, out int texIdx) {
    int base = idx * SPHERE_STRIDE;
    origin = vec4(sphereData[base + 0], sphereData[base + 1],
                  sphereData[base + 2], sphereData[base + 3]);
    albedo = vec3(sphereData[base + 4], sphereData[base + 5], sphereData[base + 6]);
    radius = sphereData[base + 7];
    emission = vec3(sphereData[base + 8], sphereData[base + 9], sphereData[base + 10]);
    strength = sphereData[base + 11];
    roughness = sphereData[base + 12];
    emissive = sphereData[base + 13] > 0.5;
    texIdx = int(sphereData[base + 14] + (sphereData[base + 14] < 0.0 ? -0.5 : 0.5));
}

float sphereDistance(int idx, vec4 p) {
    int base = idx * SPHERE_STRIDE;
    vec4 origin = vec4(sphereData[base + 0], sphereData[base + 1],
                       sphereData[base + 2], sphereData[base + 3]);
    return hypDist(p, origin) - sphereData[base + 7];
}

// Линейный проход по всем примитивам; индекс ближайшего в outIdx.
float closestPrimitive(vec4 p, out int outIdx) {
    float best = 1e30;
    outIdx = -1;
    for (int i = 0; i < uSphereCount; i++) {
        float d = sphereDistance(i, p);
        if (d < best) {
            best = d;
            outIdx = i;
        }
    }
    return best;
}

float closestDistance(vec4 p) {
    float best = 1e30;
    for (int i = 0; i < uSphereCount; i++) {
        best = min(best, sphereDistance(i, p));
    }
    return best;
}

// Ортонормальный базис касательного пространства в точке p
// (Грам-Шмидт по каноническим осям относительно формы Минковского).
void tangentBasis(vec4 p, out vec4 b0, out vec4 b1, out vec4 b2) {
    vec4 basis[3];
    int count = 0;
    for (int c = 0; c < 4 && count < 3; c++) {
        vec4 cand = vec4(0.0);
        cand[c] = 1.0;
        vec4 b = cand + p * minkDot(p, cand);
        for (int i = 0; i < count; i++) {
            b -= basis[i] * minkDot(b, basis[i]);
        }
        float n = minkDot(b, b);
        if (n < 1e-10) continue;
        basis[count] = b * inversesqrt(n);
        count++;
    }
    b0 = basis[0];
    b1 = basis[1];
    b2 = basis[2];
}

// Нормаль как центральная разность поля расстояний по базису.
vec4 computeNormal(vec4 p) {
    vec4 b0, b1, b2;
    tangentBasis(p, b0, b1, b2);

    vec4 grad = vec4(0.0);
    vec4 bs[3] = vec4[3](b0, b1, b2);
    for (int i = 0; i < 3; i++) {
        vec4 pp = p;
        vec4 dd = bs[i];
        geodesicFlow(pp, dd, NORMAL_EPS);
        vec4 pm = p;
        vec4 dm = bs[i];
        geodesicFlow(pm, dm, -NORMAL_EPS);
        float df = closestDistance(pp) - closestDistance(pm);
        grad += bs[i] * (df / (2.0 * NORMAL_EPS));
    }
    return correctDirection(p, grad);
}

vec4 randomHemisphereDirection(vec4 p, vec4 normal, inout uint state) {
    vec4 b0, b1, b2;
    tangentBasis(p, b0, b1, b2);
    for (int i = 0; i < 16; i++) {
        float x = rng(state) * 2.0 - 1.0;
        float y = rng(state) * 2.0 - 1.0;
        float z = rng(state) * 2.0 - 1.0;
        float lenSq = x * x + y * y + z * z;
        if (lenSq >= 1.0 || lenSq < 1e-8) continue;
        vec4 d = correctDirection(p, b0 * x + b1 * y + b2 * z);
        if (minkDot(d, normal) < 0.0) d = -d;
        return d;
    }
    return normal;
}

// Направление отскока: смесь зеркального отражения и диффузного
// направления по шероховатости (0 = зеркало, 1 = диффуз).
vec4 scatterDirection(vec4 p, vec4 incident, vec4 normal, float roughness, inout uint state) {
    vec4 reflected = reflectH3(incident, normal);
    if (roughness <= 0.0) return correctDirection(p, reflected);

    vec4 diffuse = randomHemisphereDirection(p, normal, state);
    vec4 outDir = correctDirection(p, mix(reflected, diffuse, roughness));
    if (minkDot(outDir, normal) < 0.0) return correctDirection(p, reflected);
    return outDir;
}

vec3 sampleTexture(int texIdx, vec4 normal) {
    int base = texIdx * 4;
    int offset = int(texHead[base + 0] + 0.5);
    int w = int(texHead[base + 1] + 0.5);
    int h = int(texHead[base + 2] + 0.5);
    if (w <= 0 || h <= 0) return vec3(0.0);

    vec3 n = normal.xyz;
    float l = length(n);
    if (l < 1e-9) return vec3(0.0);
    n /= l;

    float u = (atan(n.z, n.x) + PI) / (2.0 * PI);
    float v = acos(clamp(n.y, -1.0, 1.0)) / PI;
    u = clamp(u, 0.0, 1.0);
    v = clamp(v, 0.0, 1.0);

    int x = int(u * float(w - 1));
    int y = int(v * float(h - 1));
    int i = offset + (y * w + x) * 3;
    return vec3(texData[i], texData[i + 1], texData[i + 2]);
}

vec3 skyColor(vec4 dir) {
    vec3 day = vec3(0.52, 0.70, 0.92);
    vec3 night = vec3(0.01, 0.01, 0.03);
    vec3 base = mix(night, day, clamp(uDayTime, 0.0, 1.0));

    vec3 d = dir.xyz;
    float l = length(d);
    float up = l < 1e-9 ? 1.0 : d.y / l;
    float w = 0.5 + 0.5 * clamp(up, -1.0, 1.0);
    return base * (0.2 + 0.8 * w);
}

vec3 environmentLight(vec4 dir) {
    vec3 light = skyColor(dir);
    if (uEnvTexIndex >= 0) {
        vec3 d = dir.xyz;
        float l = length(d);
        if (l > 1e-9) {
            light += sampleTexture(uEnvTexIndex, vec4(d / l, 0.0));
        }
    }
    return light;
}

struct PathHit {
    vec3 albedo;
    vec3 emission; // уже умножено на силу
    bool emissive;
};

// Марш одного отрезка пути. Возвращает true при попадании.
bool march(inout vec4 p, inout vec4 d, inout uint state, out PathHit hit, out vec4 outDir, out vec4 hitNormal) {
    float travelled = 0.0;
    for (int step = 0; step < MAX_MARCH_STEPS; step++) {
        if (any(isnan(p)) || any(isnan(d))) return false;
        if (!isH3Point(p) || !isH3Dir(p, d)) return false;

        int idx;
        float dist = closestPrimitive(p, idx);
        if (idx < 0) return false;

        if (dist < HIT_DIST) {
            vec4 origin;
            vec3 albedo, emission;
            float radius, strength, roughness;
            bool emissive;
            int texIdx;
            readSphere(idx, origin, albedo, radius, emission, strength, roughness, emissive, texIdx);

            vec4 normal = computeNormal(p);
            hitNormal = normal;
            outDir = scatterDirection(p, d, normal, roughness, state);

            hit.albedo = texIdx >= 0 ? sampleTexture(texIdx, normal) : albedo;
            hit.emission = emissive ? emission * strength : vec3(0.0);
            hit.emissive = emissive;
            return true;
        }

        travelled += dist;
        if (travelled > MAX_TRACE_DIST) return false;

        geodesicFlow(p, d, dist);
        p = correctH3Point(p);
        d = correctDirection(p, d);
    }
    return false;
}

// Полный путь: цепочка отскоков, затем обратная свёртка яркости.
vec3 traceRay(vec4 origin, vec4 dir, inout uint state) {
    PathHit hits[MAX_BOUNCES_CAP];
    int numHits = 0;

    vec4 p = origin;
    vec4 d = dir;
    for (int bounce = 0; bounce < uMaxBounces; bounce++) {
        PathHit hit;
        vec4 outDir;
        vec4 hitNormal;
        if (!march(p, d, state, hit, outDir, hitNormal)) break;
        hits[numHits] = hit;
        numHits++;

        // Старт следующего отрезка поднимается вдоль нормали из зоны попадания.
        geodesicFlow(p, hitNormal, BOUNCE_OFFSET);
        p = correctH3Point(p);
        d = correctDirection(p, outDir);
    }

    // Эмиссивное первое попадание — единственный источник света пути.
    if (numHits > 0 && hits[0].emissive) {
        return hits[0].albedo;
    }

    vec3 light = vec3(0.0);
    if (numHits < uMaxBounces) {
        light = environmentLight(d);
    }
    for (int i = numHits - 1; i >= 0; i--) {
        light = hits[i].emission + hits[i].albedo * light;
    }
    return light;
}

void main() {
    ivec2 pix = ivec2(gl_GlobalInvocationID.xy);
    if (pix.x >= uWidth || pix.y >= uHeight) {
        return;
    }

    uint state = hash_u(uint(pix.x) * 1973u ^ uint(pix.y) * 9277u ^ uFrameSeed);

    vec3 col = vec3(0.0);
    for (int s = 0; s < uSamplesPerPx; s++) {
        float u = (float(pix.x) + rng(state)) / float(uWidth);
        float fy = float(uHeight - 1 - pix.y);
        float v = (fy + rng(state)) / float(uHeight);

        float px = (2.0 * u - 1.0) * camHalf.x;
        float py = (2.0 * v - 1.0) * camHalf.y;
        vec3 dirE = normalize(camRight.xyz * px + camUp.xyz * py - camBack.xyz);

        vec4 origin = camPosH;
        vec4 dir = correctDirection(origin, vec4(dirE, 0.0));
        col += traceRay(origin, dir, state);
    }
    col /= float(uSamplesPerPx);

    imageStore(destTex, pix, vec4(max(col, vec3(0.0)), 1.0));
}
`
