package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pithecene-io/sluice/types"
)

// Opener builds a source from the part of a URI after the scheme.
type Opener func(rest string) (Source, error)

// SinkOpener builds a sink from the part of a URI after the scheme.
type SinkOpener func(rest string) (Sink, error)

// Registry maps URI schemes to source and sink constructors.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Opener
	sinks   map[string]SinkOpener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Opener),
		sinks:   make(map[string]SinkOpener),
	}
}

// RegisterSource binds scheme to a source constructor, replacing any previous binding.
func (r *Registry) RegisterSource(scheme string, open Opener) {
	r.mu.Lock()
	r.sources[scheme] = open
	r.mu.Unlock()
}

// RegisterSink binds scheme to a sink constructor, replacing any previous binding.
func (r *Registry) RegisterSink(scheme string, open SinkOpener) {
	r.mu.Lock()
	r.sinks[scheme] = open
	r.mu.Unlock()
}

// OpenSource resolves uri to a source. The source is not started.
func (r *Registry) OpenSource(uri string) (Source, error) {
	scheme, rest, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	open, ok := r.sources[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewTraceError(types.ErrCodeURI,
			fmt.Sprintf("no source registered for scheme %q (available: %s)", scheme, strings.Join(r.SourceSchemes(), ", ")), nil)
	}
	src, err := open(rest)
	if err != nil {
		return nil, types.NewTraceError(types.ErrCodeURI, fmt.Sprintf("cannot open %q", uri), err)
	}
	return src, nil
}

// OpenSink resolves uri to a sink. The sink is not started.
func (r *Registry) OpenSink(uri string) (Sink, error) {
	scheme, rest, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	open, ok := r.sinks[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewTraceError(types.ErrCodeURI,
			fmt.Sprintf("no sink registered for scheme %q (available: %s)", scheme, strings.Join(r.SinkSchemes(), ", ")), nil)
	}
	sink, err := open(rest)
	if err != nil {
		return nil, types.NewTraceError(types.ErrCodeURI, fmt.Sprintf("cannot open %q", uri), err)
	}
	return sink, nil
}

// SourceSchemes returns the registered source schemes, sorted.
func (r *Registry) SourceSchemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SinkSchemes returns the registered sink schemes, sorted.
func (r *Registry) SinkSchemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sinks))
	for s := range r.sinks {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ParseURI splits "scheme:rest". Both parts must be non-empty.
func ParseURI(uri string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok || scheme == "" || rest == "" {
		return "", "", types.NewTraceError(types.ErrCodeURI,
			fmt.Sprintf("malformed uri %q: expected scheme:location", uri), nil)
	}
	return scheme, rest, nil
}
