// Package composer reads installed module versions from composer.json manifests.
package composer

import (
	"context"
	"encoding/json"
	"html"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultVersion is reported for modules whose manifest is missing or unreadable.
const DefaultVersion = "0.0.0"

// CachePrefix namespaces manifest entries in the shared cache.
const CachePrefix = "composer:"

// Cache stores raw manifests across requests. Misses and failures are not errors.
type Cache interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool)
	SetBytes(ctx context.Context, key string, b []byte, ttl time.Duration)
}

// Manifest is the subset of composer.json we care about.
type Manifest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Type        string `json:"type"`
}

// Version is the rendered version of one module.
type Version struct {
	Module  string `json:"module"`
	Version string `json:"version"`
	Label   string `json:"label"`
	HTML    string `json:"html"`
}

// Reader resolves module names to directories and decodes their manifests.
// Each manifest is read at most once per Reader; build one per request.
type Reader struct {
	dirs      map[string]string
	cache     Cache
	ttl       time.Duration
	log       *zap.Logger
	manifests map[string]Manifest
}

// NewReader returns a Reader over dirs (module name -> directory). cache may be nil.
func NewReader(dirs map[string]string, cache Cache, ttl time.Duration, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{
		dirs:      dirs,
		cache:     cache,
		ttl:       ttl,
		log:       log,
		manifests: make(map[string]Manifest),
	}
}

// Manifest returns the decoded manifest of module. Failures yield an empty manifest,
// which is remembered so the file is not read again by this Reader.
func (r *Reader) Manifest(ctx context.Context, module string) Manifest {
	if m, ok := r.manifests[module]; ok {
		return m
	}
	var m Manifest
	if raw, ok := r.load(ctx, module); ok {
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Warn("decode composer.json", zap.String("module", module), zap.Error(err))
			m = Manifest{}
		}
	}
	r.manifests[module] = m
	return m
}

func (r *Reader) load(ctx context.Context, module string) ([]byte, bool) {
	if r.cache != nil {
		if b, ok := r.cache.GetBytes(ctx, CachePrefix+module); ok {
			return b, true
		}
	}
	dir, ok := r.dirs[module]
	if !ok || dir == "" {
		r.log.Debug("module not registered", zap.String("module", module))
		return nil, false
	}
	raw, err := os.ReadFile(filepath.Join(dir, "composer.json"))
	if err != nil {
		r.log.Debug("read composer.json", zap.String("module", module), zap.Error(err))
		return nil, false
	}
	if !json.Valid(raw) {
		r.log.Warn("invalid composer.json", zap.String("module", module))
		return nil, false
	}
	if r.cache != nil {
		r.cache.SetBytes(ctx, CachePrefix+module, raw, r.ttl)
	}
	return raw, true
}

// InstalledVersion returns the manifest version of module, or DefaultVersion.
func (r *Reader) InstalledVersion(ctx context.Context, module string) string {
	if v := r.Manifest(ctx, module).Version; v != "" {
		return v
	}
	return DefaultVersion
}

// Describe renders the installed version of module.
func (r *Reader) Describe(ctx context.Context, module string) Version {
	v := r.InstalledVersion(ctx, module)
	return Version{Module: module, Version: v, Label: Label(v), HTML: HTML(v)}
}

// Label formats a version for display, e.g. "v1.2.0".
func Label(version string) string { return "v" + version }

// HTML renders a version as it appears in the admin configuration page.
func HTML(version string) string {
	return "<strong>" + html.EscapeString(Label(version)) + "</strong>"
}
