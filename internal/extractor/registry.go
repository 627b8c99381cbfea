package extractor

import (
	"sort"
	"strings"
	"sync"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/plugins"
)

type registration struct {
	extractor Extractor
	seq       uint64
}

// Registry maps MIME types to extractors. Patterns ending in "/*" match any
// subtype and lose to exact registrations.
type Registry struct {
	mu       sync.RWMutex
	seq      uint64
	exact    map[string][]registration
	wildcard map[string][]registration
	logger   *logging.Logger
}

func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		exact:    make(map[string][]registration),
		wildcard: make(map[string][]registration),
		logger:   logging.OrDefault(logger).Named("extractors"),
	}
}

// Register claims mimeTypes for ex.
func (r *Registry) Register(mimeTypes []string, ex Extractor) error {
	if err := plugins.ValidateName(ex.Name()); err != nil {
		return err
	}
	if len(mimeTypes) == 0 {
		return apperrors.NewValidationErrorf("extractor %q claims no MIME types", ex.Name())
	}
	for _, mt := range mimeTypes {
		if !strings.Contains(mt, "/") {
			return apperrors.NewValidationErrorf("extractor %q: invalid MIME type %q", ex.Name(), mt)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	reg := registration{extractor: ex, seq: r.seq}
	for _, mt := range mimeTypes {
		mt = strings.ToLower(mt)
		if prefix, ok := strings.CutSuffix(mt, "*"); ok {
			r.wildcard[prefix] = append(r.wildcard[prefix], reg)
			continue
		}
		r.exact[mt] = append(r.exact[mt], reg)
	}
	r.logger.Debug("Registered extractor", "name", ex.Name(), "priority", ex.Priority(), "mime_types", mimeTypes)
	return nil
}

// Unregister removes every claim made by the named extractor. Unknown names
// are ignored.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := func(m map[string][]registration) {
		for key, regs := range m {
			kept := regs[:0]
			for _, reg := range regs {
				if reg.extractor.Name() != name {
					kept = append(kept, reg)
				}
			}
			if len(kept) == 0 {
				delete(m, key)
			} else {
				m[key] = kept
			}
		}
	}
	drop(r.exact)
	drop(r.wildcard)
	return nil
}

// Resolve returns the extractor for mimeType: highest priority first, the
// latest registration on ties.
func (r *Registry) Resolve(mimeType string) (Extractor, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ex := best(r.exact[mt]); ex != nil {
		return ex, nil
	}
	if i := strings.Index(mt, "/"); i >= 0 {
		if ex := best(r.wildcard[mt[:i+1]]); ex != nil {
			return ex, nil
		}
	}
	return nil, apperrors.NewUnsupportedFormatError(mimeType, r.supportedLocked())
}

func best(regs []registration) Extractor {
	var winner *registration
	for i := range regs {
		reg := &regs[i]
		if winner == nil ||
			reg.extractor.Priority() > winner.extractor.Priority() ||
			(reg.extractor.Priority() == winner.extractor.Priority() && reg.seq > winner.seq) {
			winner = reg
		}
	}
	if winner == nil {
		return nil
	}
	return winner.extractor
}

func (r *Registry) Supports(mimeType string) bool {
	_, err := r.Resolve(mimeType)
	return err == nil
}

// SupportedTypes lists claimed MIME types and patterns, sorted.
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supportedLocked()
}

func (r *Registry) supportedLocked() []string {
	out := make([]string, 0, len(r.exact)+len(r.wildcard))
	for mt := range r.exact {
		out = append(out, mt)
	}
	for prefix := range r.wildcard {
		out = append(out, prefix+"*")
	}
	sort.Strings(out)
	return out
}

// Names lists registered extractor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, m := range []map[string][]registration{r.exact, r.wildcard} {
		for _, regs := range m {
			for _, reg := range regs {
				seen[reg.extractor.Name()] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
