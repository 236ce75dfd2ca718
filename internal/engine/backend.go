package engine

// Backend selects where the per-pixel kernel executes: the tiled CPU
// worker pool or the OpenGL compute path.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
)

func (b Backend) String() string {
	switch b {
	case BackendGPU:
		return "gpu"
	default:
		return "cpu"
	}
}

var currentBackend = BackendCPU

// SetBackend selects the active render backend.
// If an unknown value is passed, the CPU backend will be used.
func SetBackend(b Backend) {
	switch b {
	case BackendCPU, BackendGPU:
		currentBackend = b
	default:
		currentBackend = BackendCPU
	}
}

// GetBackend returns the currently selected render backend.
func GetBackend() Backend {
	return currentBackend
}
