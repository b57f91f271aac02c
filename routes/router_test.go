package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cppla/mediastage/config"
	"github.com/cppla/mediastage/controllers"
	"github.com/cppla/mediastage/middleware"
)

func testRouter() http.Handler {
	cfg := config.AppConfig{App: config.AppSection{
		GinMode:            "test",
		AllowedOrigins:     []string{"https://admin.test"},
		RateLimitPerMinute: 60,
	}}
	return SetupRouter(cfg, Handlers{
		Media:   &controllers.MediaController{},
		Banners: &controllers.BannerController{},
		Modules: controllers.NewModuleController(nil, nil, 0, nil),
	})
}

func TestHealthAndRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"status":"ok"}}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestNoRoute(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nothing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":40400`)
}

func TestCORSAllowedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/banners", nil)
	req.Header.Set("Origin", "https://admin.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, req)

	assert.Equal(t, "https://admin.test", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestModulesRoute(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/modules/Acme_Core/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"label":"v0.0.0"`)
}
