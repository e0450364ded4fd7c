package detection

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"colortrack/logging"
)

type fakeProvider struct {
	kind      string
	initErr   error
	detectErr error
	closed    bool
}

func (f *fakeProvider) Initialize(string, []string, Options) error { return f.initErr }

func (f *fakeProvider) Detect(gocv.Mat) ([]Detection, error) {
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return []Detection{{ClassName: f.kind}}, nil
}

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

func (f *fakeProvider) GetProviderInfo() ProviderInfo { return ProviderInfo{Type: f.kind} }

func newTestManager(t *testing.T, gpu bool, gpuProv, cpuProv *fakeProvider) *ProviderManager {
	pm := NewProviderManager(logging.NewTestLogger(t))
	pm.gpuAvailable = func() bool { return gpu }
	pm.newGPU = func() InferenceProvider { return gpuProv }
	pm.newCPU = func() InferenceProvider { return cpuProv }
	return pm
}

func TestProviderManagerSelection(t *testing.T) {
	names := DefaultClassNames()
	opts := DefaultOptions()

	t.Run("gpu preferred", func(t *testing.T) {
		gpu, cpu := &fakeProvider{kind: "GPU"}, &fakeProvider{kind: "CPU"}
		pm := newTestManager(t, true, gpu, cpu)
		require.NoError(t, pm.Initialize("model.onnx", names, opts, BackendAuto))
		assert.Equal(t, "GPU", pm.GetProviderInfo().Type)
		assert.Same(t, gpu, pm.GetProvider())
	})

	t.Run("gpu init failure falls back", func(t *testing.T) {
		gpu := &fakeProvider{kind: "GPU", initErr: errors.New("no cuda")}
		cpu := &fakeProvider{kind: "CPU"}
		pm := newTestManager(t, true, gpu, cpu)
		require.NoError(t, pm.Initialize("model.onnx", names, opts, BackendAuto))
		assert.Equal(t, "CPU", pm.GetProviderInfo().Type)
	})

	t.Run("gpu test inference failure falls back", func(t *testing.T) {
		gpu := &fakeProvider{kind: "GPU", detectErr: errors.New("kernel missing")}
		cpu := &fakeProvider{kind: "CPU"}
		pm := newTestManager(t, true, gpu, cpu)
		require.NoError(t, pm.Initialize("model.onnx", names, opts, ""))
		assert.Equal(t, "CPU", pm.GetProviderInfo().Type)
		assert.True(t, gpu.closed)
	})

	t.Run("no gpu", func(t *testing.T) {
		gpu, cpu := &fakeProvider{kind: "GPU"}, &fakeProvider{kind: "CPU"}
		pm := newTestManager(t, false, gpu, cpu)
		require.NoError(t, pm.Initialize("model.onnx", names, opts, BackendAuto))
		assert.Same(t, cpu, pm.GetProvider())
	})

	t.Run("explicit cpu skips gpu", func(t *testing.T) {
		gpu, cpu := &fakeProvider{kind: "GPU"}, &fakeProvider{kind: "CPU"}
		pm := newTestManager(t, true, gpu, cpu)
		require.NoError(t, pm.Initialize("model.onnx", names, opts, BackendCPU))
		assert.Same(t, cpu, pm.GetProvider())
	})

	t.Run("explicit cuda does not fall back", func(t *testing.T) {
		gpu := &fakeProvider{kind: "GPU", initErr: errors.New("no cuda")}
		pm := newTestManager(t, true, gpu, &fakeProvider{kind: "CPU"})
		err := pm.Initialize("model.onnx", names, opts, BackendCUDA)
		assert.ErrorContains(t, err, "no cuda")
		assert.Nil(t, pm.GetProvider())
	})

	t.Run("both fail", func(t *testing.T) {
		gpu := &fakeProvider{kind: "GPU", initErr: errors.New("no cuda")}
		cpu := &fakeProvider{kind: "CPU", initErr: errors.New("bad model")}
		pm := newTestManager(t, true, gpu, cpu)
		err := pm.Initialize("model.onnx", names, opts, BackendAuto)
		assert.ErrorContains(t, err, "both GPU and CPU providers failed")
	})

	t.Run("unknown backend", func(t *testing.T) {
		pm := newTestManager(t, false, &fakeProvider{}, &fakeProvider{})
		assert.Error(t, pm.Initialize("model.onnx", names, opts, "tpu"))
	})
}

func TestProviderManagerDetect(t *testing.T) {
	pm := newTestManager(t, false, &fakeProvider{kind: "GPU"}, &fakeProvider{kind: "CPU"})

	frame := gocv.NewMat()
	defer frame.Close()

	_, err := pm.Detect(frame)
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	require.NoError(t, pm.Initialize("model.onnx", DefaultClassNames(), DefaultOptions(), BackendCPU))
	dets, err := pm.Detect(frame)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "CPU", dets[0].ClassName)

	require.NoError(t, pm.Close())
}

func TestYoloNetNotLoaded(t *testing.T) {
	var cp CPUProvider
	frame := gocv.NewMat()
	defer frame.Close()

	_, err := cp.Detect(frame)
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	assert.NoError(t, cp.Close())

	err = cp.Initialize("model.onnx", nil, DefaultOptions())
	assert.Error(t, err)
}
