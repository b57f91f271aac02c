package controllers

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/mediastage/composer"
	"github.com/cppla/mediastage/utils"
)

// ModuleController reports installed module versions.
type ModuleController struct {
	modules map[string]string
	cache   composer.Cache
	ttl     time.Duration
	log     *zap.Logger
}

func NewModuleController(modules map[string]string, cache composer.Cache, ttl time.Duration, log *zap.Logger) *ModuleController {
	return &ModuleController{modules: modules, cache: cache, ttl: ttl, log: log}
}

// GetVersion returns the version of one module. Unknown modules report 0.0.0.
func (m *ModuleController) GetVersion(ctx *gin.Context) {
	r := composer.NewReader(m.modules, m.cache, m.ttl, m.log)
	utils.Success(ctx, r.Describe(ctx.Request.Context(), ctx.Param("name")))
}

// ListVersions returns the versions of every configured module, sorted by name.
func (m *ModuleController) ListVersions(ctx *gin.Context) {
	names := make([]string, 0, len(m.modules))
	for name := range m.modules {
		names = append(names, name)
	}
	sort.Strings(names)

	r := composer.NewReader(m.modules, m.cache, m.ttl, m.log)
	items := make([]composer.Version, 0, len(names))
	for _, name := range names {
		items = append(items, r.Describe(ctx.Request.Context(), name))
	}
	utils.Success(ctx, gin.H{"items": items})
}
