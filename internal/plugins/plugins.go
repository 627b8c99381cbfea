// Package plugins holds the injected registry of post-processors, validators
// and OCR backends that a pipeline run draws from.
package plugins

import (
	"context"
	"strings"
	"unicode"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// Stage orders post-processors coarsely; priority orders them within a stage.
type Stage int

const (
	StageEarly Stage = iota
	StageMiddle
	StageLate
)

func (s Stage) String() string {
	switch s {
	case StageEarly:
		return "early"
	case StageMiddle:
		return "middle"
	case StageLate:
		return "late"
	}
	return "unknown"
}

// Stages lists every stage in execution order.
var Stages = []Stage{StageEarly, StageMiddle, StageLate}

// PostProcessor mutates a result in place. Higher priority runs first.
type PostProcessor interface {
	Name() string
	Stage() Stage
	Priority() int
	Process(ctx context.Context, result *types.ExtractionResult, cfg *config.ExtractionConfig) error
}

// Conditional lets a post-processor opt out of individual results.
type Conditional interface {
	ShouldProcess(result *types.ExtractionResult, cfg *config.ExtractionConfig) bool
}

// Validator inspects a finished result. Returning an error rejects it.
type Validator interface {
	Name() string
	Priority() int
	Validate(ctx context.Context, result *types.ExtractionResult, cfg *config.ExtractionConfig) error
}

// Initializer is called once when a plugin is registered.
type Initializer interface {
	Initialize() error
}

// Shutdowner is called when a plugin is unregistered or cleared.
type Shutdowner interface {
	Shutdown() error
}

// ValidateName rejects empty names and names containing whitespace.
func ValidateName(name string) error {
	if name == "" {
		return apperrors.NewValidationError("plugin name cannot be empty")
	}
	if strings.ContainsFunc(name, unicode.IsSpace) {
		return apperrors.NewValidationErrorf("plugin name %q cannot contain whitespace", name)
	}
	return nil
}
