package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cppla/mediastage/config"
	"github.com/cppla/mediastage/media"
)

func init() { gin.SetMode(gin.TestMode) }

func TestMediaErrorEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"validation", &media.Error{Kind: media.ErrValidation, Message: "File type is not allowed."}, http.StatusBadRequest, media.CodeValidation},
		{"not found", &media.Error{Kind: media.ErrNotFound, Message: "gone"}, http.StatusNotFound, media.CodeNotFound},
		{"raw error", errors.New("dial tcp 10.1.1.1:3306"), http.StatusInternalServerError, media.CodeStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(w)
			MediaError(ctx, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body JSONResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Message, "10.1.1.1")
		})
	}
}

func TestGinzapLogsRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(func(ctx *gin.Context) { ctx.Set(RequestIDKey, "rid-1") })
	r.Use(Ginzap(zap.New(core), time.RFC3339, true))
	r.GET("/health", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health?x=1", nil))

	entries := logs.FilterMessage("/health").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.Equal(t, "x=1", fields["query"])
	assert.Equal(t, "rid-1", fields["request_id"])
}

func TestRecoveryWithZap(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := gin.New()
	r.Use(RecoveryWithZap(zap.New(core), true))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	entries := logs.FilterMessage("[Recovery from panic]").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kaboom", entries[0].ContextMap()["error"])
	assert.Contains(t, entries[0].ContextMap(), "stack")
}

func TestInitLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, err := InitLogger(config.LogSection{Level: "warn", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { Logger = zap.NewNop(); Sugar = Logger.Sugar() })

	log.Info("dropped")
	log.Warn("kept")
	_ = log.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "kept")
	assert.NotContains(t, string(b), "dropped")
}

func TestNewRollingFileLoggerWithoutPath(t *testing.T) {
	log, err := NewRollingFileLogger("", "info", 0, 0, 0, false)
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestRedisCacheDisabled(t *testing.T) {
	c := NewRedisCache(nil)
	c.SetBytes(context.Background(), "k", []byte("v"), 0)
	_, ok := c.GetBytes(context.Background(), "k")
	assert.False(t, ok)
	n, err := c.InvalidateByPrefix(context.Background(), "k")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, NewRedis(config.RedisSection{Enabled: false}))
}

func TestRedisCacheInvalidateUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: time.Second})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewRedisCache(client).InvalidateByPrefix(context.Background(), "composer:")
	assert.ErrorContains(t, err, "scan composer:*")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Summer <b>sale</b>", Sanitize("  Summer <b>sale</b><script>alert(1)</script> "))
}
