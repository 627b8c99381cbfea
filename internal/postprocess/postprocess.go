// Package postprocess holds the built-in post-processors and the text
// analyses the pipeline runs after them: quality scoring and language
// detection.
package postprocess

import (
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
)

// RegisterDefaults adds token_reduction and keywords to registry. Both are
// gated by their config sections, so registering them changes nothing for
// callers that leave those sections unset.
func RegisterDefaults(registry *plugins.Registry) error {
	for _, p := range []plugins.PostProcessor{NewTokenReducer(), NewKeywordExtractor()} {
		if err := registry.RegisterPostProcessor(p); err != nil {
			return err
		}
	}
	return nil
}
