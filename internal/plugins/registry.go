package plugins

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/ocr"
)

type entry[T any] struct {
	plugin T
	seq    uint64
}

// Registry holds every plugin category. Readers get sorted snapshots, so a
// run is unaffected by registrations made while it executes.
type Registry struct {
	mu         sync.RWMutex
	seq        uint64
	processors map[string]entry[PostProcessor]
	validators map[string]entry[Validator]
	backends   map[string]ocr.Backend
	logger     *logging.Logger
}

// New creates an empty registry.
func New(logger *logging.Logger) *Registry {
	return &Registry{
		processors: make(map[string]entry[PostProcessor]),
		validators: make(map[string]entry[Validator]),
		backends:   make(map[string]ocr.Backend),
		logger:     logging.OrDefault(logger).Named("plugins"),
	}
}

// NewDefault creates a registry with the tesseract backend registered.
func NewDefault(tessdataPrefix string, logger *logging.Logger) *Registry {
	r := New(logger)
	if err := r.RegisterOCRBackend(ocr.NewTesseractBackend(tessdataPrefix, logger)); err != nil {
		r.logger.Error("Failed to register tesseract backend", "error", err)
	}
	return r
}

func (r *Registry) nextSeq() uint64 {
	r.seq++
	return r.seq
}

func initialize(kind, name string, p interface{}) error {
	if in, ok := p.(Initializer); ok {
		if err := in.Initialize(); err != nil {
			return apperrors.NewPluginError(name, fmt.Sprintf("%s failed to initialize", kind), err)
		}
	}
	return nil
}

func (r *Registry) shutdown(name string, p interface{}) {
	if sd, ok := p.(Shutdowner); ok {
		if err := sd.Shutdown(); err != nil {
			r.logger.Warn("Plugin shutdown failed", "plugin", name, "error", err)
		}
	}
}

func duplicate(kind, name string) error {
	return apperrors.NewPluginError(name, fmt.Sprintf("%s %q is already registered", kind, name), nil)
}

// Post-processors

func (r *Registry) RegisterPostProcessor(p PostProcessor) error {
	name := p.Name()
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[name]; exists {
		return duplicate("post-processor", name)
	}
	if err := initialize("post-processor", name, p); err != nil {
		return err
	}
	r.processors[name] = entry[PostProcessor]{plugin: p, seq: r.nextSeq()}
	r.logger.Debug("Registered post-processor", "name", name, "stage", p.Stage(), "priority", p.Priority())
	return nil
}

// UnregisterPostProcessor removes name; unknown names are ignored.
func (r *Registry) UnregisterPostProcessor(name string) {
	r.mu.Lock()
	e, ok := r.processors[name]
	delete(r.processors, name)
	r.mu.Unlock()
	if ok {
		r.shutdown(name, e.plugin)
	}
}

// PostProcessors returns a snapshot ordered by stage, then descending
// priority, then registration order.
func (r *Registry) PostProcessors() []PostProcessor {
	r.mu.RLock()
	entries := make([]entry[PostProcessor], 0, len(r.processors))
	for _, e := range r.processors {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].plugin, entries[j].plugin
		if a.Stage() != b.Stage() {
			return a.Stage() < b.Stage()
		}
		if a.Priority() != b.Priority() {
			return a.Priority() > b.Priority()
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]PostProcessor, len(entries))
	for i, e := range entries {
		out[i] = e.plugin
	}
	return out
}

func (r *Registry) ClearPostProcessors() {
	r.mu.Lock()
	old := r.processors
	r.processors = make(map[string]entry[PostProcessor])
	r.mu.Unlock()
	for name, e := range old {
		r.shutdown(name, e.plugin)
	}
}

// Validators

func (r *Registry) RegisterValidator(v Validator) error {
	name := v.Name()
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validators[name]; exists {
		return duplicate("validator", name)
	}
	if err := initialize("validator", name, v); err != nil {
		return err
	}
	r.validators[name] = entry[Validator]{plugin: v, seq: r.nextSeq()}
	r.logger.Debug("Registered validator", "name", name, "priority", v.Priority())
	return nil
}

func (r *Registry) UnregisterValidator(name string) {
	r.mu.Lock()
	e, ok := r.validators[name]
	delete(r.validators, name)
	r.mu.Unlock()
	if ok {
		r.shutdown(name, e.plugin)
	}
}

// Validators returns a snapshot ordered by descending priority, then
// registration order.
func (r *Registry) Validators() []Validator {
	r.mu.RLock()
	entries := make([]entry[Validator], 0, len(r.validators))
	for _, e := range r.validators {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if pi, pj := entries[i].plugin.Priority(), entries[j].plugin.Priority(); pi != pj {
			return pi > pj
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]Validator, len(entries))
	for i, e := range entries {
		out[i] = e.plugin
	}
	return out
}

func (r *Registry) ClearValidators() {
	r.mu.Lock()
	old := r.validators
	r.validators = make(map[string]entry[Validator])
	r.mu.Unlock()
	for name, e := range old {
		r.shutdown(name, e.plugin)
	}
}

// OCR backends

func (r *Registry) RegisterOCRBackend(b ocr.Backend) error {
	name := b.Name()
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; exists {
		return duplicate("OCR backend", name)
	}
	if err := initialize("OCR backend", name, b); err != nil {
		return err
	}
	r.backends[name] = b
	r.logger.Debug("Registered OCR backend", "name", name)
	return nil
}

func (r *Registry) UnregisterOCRBackend(name string) {
	r.mu.Lock()
	b, ok := r.backends[name]
	delete(r.backends, name)
	r.mu.Unlock()
	if ok {
		r.shutdown(name, b)
	}
}

// OCRBackend resolves a backend by name. An unknown name fails with a
// MissingDependency error naming it and the registered alternatives.
func (r *Registry) OCRBackend(name string) (ocr.Backend, error) {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}
	available := r.OCRBackends()
	hint := "no OCR backends are registered"
	if len(available) > 0 {
		hint = "available backends: " + strings.Join(available, ", ")
	}
	return nil, apperrors.NewMissingDependencyError(fmt.Sprintf("OCR backend %q", name), hint)
}

// OCRBackends lists registered backend names, sorted.
func (r *Registry) OCRBackends() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) ClearOCRBackends() {
	r.mu.Lock()
	old := r.backends
	r.backends = make(map[string]ocr.Backend)
	r.mu.Unlock()
	for name, b := range old {
		r.shutdown(name, b)
	}
}

// PostProcessorNames and ValidatorNames follow execution order.

func (r *Registry) PostProcessorNames() []string {
	ps := r.PostProcessors()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name()
	}
	return names
}

func (r *Registry) ValidatorNames() []string {
	vs := r.Validators()
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name()
	}
	return names
}
