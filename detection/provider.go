package detection

import (
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Backend selection values accepted by ProviderManager.Initialize.
const (
	BackendAuto = "auto"
	BackendCPU  = "cpu"
	BackendCUDA = "cuda"
)

// InferenceProvider defines the interface for YOLO inference
type InferenceProvider interface {
	Detector
	Initialize(modelPath string, classNames []string, opts Options) error
	Close() error
	GetProviderInfo() ProviderInfo
}

// ProviderInfo contains information about the inference provider
type ProviderInfo struct {
	Type         string        // "GPU" or "CPU"
	Backend      string        // "CUDA", "OpenCV CPU"
	Device       string        // Device identifier
	EstimatedFPS int           // Estimated inference FPS
	InitTime     time.Duration // Time taken to initialize
}

// ProviderManager handles automatic provider selection and fallback
type ProviderManager struct {
	logger          *zap.SugaredLogger
	currentProvider InferenceProvider
	providerInfo    ProviderInfo

	// overridable in tests
	gpuAvailable func() bool
	newGPU       func() InferenceProvider
	newCPU       func() InferenceProvider
}

// NewProviderManager creates a new provider manager with auto-detection
func NewProviderManager(logger *zap.SugaredLogger) *ProviderManager {
	return &ProviderManager{
		logger:       logger.Named("provider"),
		gpuAvailable: hasGPUCapability,
		newGPU:       func() InferenceProvider { return &GPUProvider{} },
		newCPU:       func() InferenceProvider { return &CPUProvider{} },
	}
}

// Initialize selects and initializes a provider. With BackendAuto the GPU is
// tried first when the hardware looks usable and verified with a test
// inference; any GPU failure falls back to CPU.
func (pm *ProviderManager) Initialize(modelPath string, classNames []string, opts Options, backend string) error {
	switch backend {
	case BackendCPU:
		return pm.use(pm.newCPU(), modelPath, classNames, opts)
	case BackendCUDA:
		return pm.use(pm.newGPU(), modelPath, classNames, opts)
	case BackendAuto, "":
	default:
		return errors.Errorf("unknown inference backend %q", backend)
	}

	pm.logger.Info("auto-detecting best inference provider")

	if pm.gpuAvailable() {
		pm.logger.Info("GPU capability detected, attempting GPU initialization")
		gpu := pm.newGPU()
		startTime := time.Now()
		if err := gpu.Initialize(modelPath, classNames, opts); err != nil {
			pm.logger.Warnw("GPU initialization failed, falling back to CPU", "error", err)
		} else if !testProvider(gpu, opts.InputSize) {
			pm.logger.Warn("GPU test inference failed, falling back to CPU")
			gpu.Close()
		} else {
			pm.activate(gpu, time.Since(startTime))
			return nil
		}
	} else {
		pm.logger.Info("no GPU capability detected")
	}

	if err := pm.use(pm.newCPU(), modelPath, classNames, opts); err != nil {
		return errors.Wrap(err, "both GPU and CPU providers failed")
	}
	return nil
}

func (pm *ProviderManager) use(p InferenceProvider, modelPath string, classNames []string, opts Options) error {
	startTime := time.Now()
	if err := p.Initialize(modelPath, classNames, opts); err != nil {
		return errors.Wrapf(err, "%s provider", p.GetProviderInfo().Type)
	}
	pm.activate(p, time.Since(startTime))
	return nil
}

func (pm *ProviderManager) activate(p InferenceProvider, initTime time.Duration) {
	pm.currentProvider = p
	pm.providerInfo = p.GetProviderInfo()
	pm.providerInfo.InitTime = initTime
	pm.logger.Infow("inference provider ready",
		"type", pm.providerInfo.Type,
		"backend", pm.providerInfo.Backend,
		"init_time", initTime)
}

// Detect runs the active provider.
func (pm *ProviderManager) Detect(frame gocv.Mat) ([]Detection, error) {
	if pm.currentProvider == nil {
		return nil, ErrModelNotLoaded
	}
	return pm.currentProvider.Detect(frame)
}

// GetProvider returns the current active provider
func (pm *ProviderManager) GetProvider() InferenceProvider {
	return pm.currentProvider
}

// GetProviderInfo returns information about the current provider
func (pm *ProviderManager) GetProviderInfo() ProviderInfo {
	return pm.providerInfo
}

// Close closes the current provider
func (pm *ProviderManager) Close() error {
	if pm.currentProvider != nil {
		return pm.currentProvider.Close()
	}
	return nil
}

// hasGPUCapability checks if GPU inference is possible
func hasGPUCapability() bool {
	// CUDA itself is only proven by the test inference after initialization
	return hasNVIDIAGPU() && hasNVIDIADriver()
}

// hasNVIDIAGPU checks if NVIDIA GPU is present
func hasNVIDIAGPU() bool {
	output, err := exec.Command("lspci").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

// hasNVIDIADriver checks if NVIDIA drivers are loaded
func hasNVIDIADriver() bool {
	if err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Run(); err != nil {
		return false
	}
	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}

// testProvider performs a quick test inference to verify the provider works
func testProvider(provider InferenceProvider, inputSize int) bool {
	testFrame := gocv.NewMatWithSize(inputSize, inputSize, gocv.MatTypeCV8UC3)
	defer testFrame.Close()

	_, err := provider.Detect(testFrame)
	return err == nil
}
