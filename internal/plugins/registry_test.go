package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

type stubProcessor struct {
	name     string
	stage    Stage
	priority int
	initErr  error
	shutdown int
}

func (s *stubProcessor) Name() string  { return s.name }
func (s *stubProcessor) Stage() Stage  { return s.stage }
func (s *stubProcessor) Priority() int { return s.priority }
func (s *stubProcessor) Initialize() error {
	return s.initErr
}
func (s *stubProcessor) Shutdown() error {
	s.shutdown++
	return nil
}
func (s *stubProcessor) Process(context.Context, *types.ExtractionResult, *config.ExtractionConfig) error {
	return nil
}

type stubValidator struct {
	name     string
	priority int
}

func (s stubValidator) Name() string  { return s.name }
func (s stubValidator) Priority() int { return s.priority }
func (s stubValidator) Validate(context.Context, *types.ExtractionResult, *config.ExtractionConfig) error {
	return nil
}

type stubBackend struct{ name string }

func (s stubBackend) Name() string                 { return s.name }
func (s stubBackend) SupportedLanguages() []string { return []string{"eng"} }
func (s stubBackend) Process(context.Context, []byte, *config.OCRConfig) (*ocr.Result, error) {
	return &ocr.Result{}, nil
}

func TestPostProcessorOrdering(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "C", stage: StageMiddle, priority: 100}))
	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "B", stage: StageEarly, priority: 5}))
	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "A", stage: StageEarly, priority: 10}))
	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "D", stage: StageLate, priority: 1}))
	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "B2", stage: StageEarly, priority: 5}))

	assert.Equal(t, []string{"A", "B", "B2", "C", "D"}, r.PostProcessorNames())
}

func TestRegisterRejectsBadNames(t *testing.T) {
	r := New(nil)

	tests := []struct {
		name string
		kind apperrors.ErrorCode
	}{
		{name: "", kind: apperrors.ErrorValidation},
		{name: "has space", kind: apperrors.ErrorValidation},
		{name: "tab\tname", kind: apperrors.ErrorValidation},
	}
	for _, tt := range tests {
		err := r.RegisterPostProcessor(&stubProcessor{name: tt.name})
		assert.Equal(t, tt.kind, apperrors.KindOf(err), "name %q", tt.name)
	}

	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "dup"}))
	err := r.RegisterPostProcessor(&stubProcessor{name: "dup"})
	assert.Equal(t, apperrors.ErrorPlugin, apperrors.KindOf(err))

	require.NoError(t, r.RegisterValidator(stubValidator{name: "dup"}), "categories are independent")
	assert.Equal(t, apperrors.ErrorPlugin, apperrors.KindOf(r.RegisterValidator(stubValidator{name: "dup"})))
}

func TestLifecycleHooks(t *testing.T) {
	r := New(nil)

	failing := &stubProcessor{name: "broken", initErr: errors.New("no model")}
	err := r.RegisterPostProcessor(failing)
	assert.Equal(t, apperrors.ErrorPlugin, apperrors.KindOf(err))
	assert.Empty(t, r.PostProcessors())

	p := &stubProcessor{name: "ok"}
	require.NoError(t, r.RegisterPostProcessor(p))
	r.UnregisterPostProcessor("ok")
	r.UnregisterPostProcessor("never-registered")
	assert.Equal(t, 1, p.shutdown)

	q := &stubProcessor{name: "q"}
	require.NoError(t, r.RegisterPostProcessor(q))
	r.ClearPostProcessors()
	assert.Equal(t, 1, q.shutdown)
	assert.Empty(t, r.PostProcessors())
}

func TestValidatorOrdering(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterValidator(stubValidator{name: "low", priority: 1}))
	require.NoError(t, r.RegisterValidator(stubValidator{name: "high", priority: 9}))
	require.NoError(t, r.RegisterValidator(stubValidator{name: "low2", priority: 1}))

	assert.Equal(t, []string{"high", "low", "low2"}, r.ValidatorNames())

	r.UnregisterValidator("high")
	assert.Equal(t, []string{"low", "low2"}, r.ValidatorNames())
	r.ClearValidators()
	assert.Empty(t, r.Validators())
}

func TestOCRBackendResolution(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterOCRBackend(stubBackend{name: "tesseract"}))
	require.NoError(t, r.RegisterOCRBackend(stubBackend{name: "custom-x"}))

	b, err := r.OCRBackend("custom-x")
	require.NoError(t, err)
	assert.Equal(t, "custom-x", b.Name())

	_, err = r.OCRBackend("custom-y")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorMissingDependency, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "custom-y")
	assert.Contains(t, err.Error(), "custom-x, tesseract")

	r.UnregisterOCRBackend("custom-x")
	assert.Equal(t, []string{"tesseract"}, r.OCRBackends())
	r.ClearOCRBackends()
	assert.Empty(t, r.OCRBackends())
}

func TestNewDefaultRegistersTesseract(t *testing.T) {
	r := NewDefault("", nil)
	assert.Equal(t, []string{ocr.TesseractBackendName}, r.OCRBackends())
}

func TestSnapshotIsolation(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "first"}))

	snapshot := r.PostProcessors()
	require.NoError(t, r.RegisterPostProcessor(&stubProcessor{name: "second"}))

	assert.Len(t, snapshot, 1)
	assert.Len(t, r.PostProcessors(), 2)
}
