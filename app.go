package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/mediastage/composer"
	"github.com/cppla/mediastage/config"
	"github.com/cppla/mediastage/controllers"
	"github.com/cppla/mediastage/media"
	"github.com/cppla/mediastage/models"
	"github.com/cppla/mediastage/routes"
	"github.com/cppla/mediastage/storage"
	"github.com/cppla/mediastage/utils"
)

const moduleCacheTTL = time.Hour

// replica is a mirror that can also restore files to primary storage.
type replica interface {
	media.Mirror
	controllers.Restorer
}

type app struct {
	cfg      config.AppConfig
	log      *zap.Logger
	db       *gorm.DB
	uploader *media.Uploader
	sweeper  *utils.Sweeper
	handlers routes.Handlers
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, err
	}
	log, err := utils.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := config.OpenDatabase(cfg.Database, cfg.Log.Level, &models.Banner{}, &models.MediaFile{}, &models.StagedUpload{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store, err := newStorage(ctx, cfg.Media, cfg.S3)
	if err != nil {
		return nil, err
	}
	var mirror replica = storage.NopMirror{}
	if cfg.Media.MirrorEnabled {
		mirror = storage.NewDBMirror(db, store)
	}

	up, err := media.NewUploader(store, mirror, media.BaseURLResolver(cfg.Media.BaseURL), log.Named("media"), media.Options{
		BasePath:          cfg.Media.BasePath,
		BaseTmpPath:       cfg.Media.BaseTmpPath,
		AllowedExtensions: cfg.Media.AllowedExtensions,
		MaxUploadBytes:    int64(cfg.Media.MaxUploadMB) << 20,
		StagingTTL:        time.Duration(cfg.Media.StagingTTLMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	up.WithLedger(storage.NewDBLedger(db))

	cache := utils.NewRedisCache(utils.NewRedis(cfg.Redis))
	// a deploy may have changed composer.json files
	if n, err := cache.InvalidateByPrefix(ctx, composer.CachePrefix); err != nil {
		log.Warn("clear module version cache", zap.Error(err))
	} else if n > 0 {
		log.Info("cleared module version cache", zap.Int("keys", n))
	}

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		uploader: up,
		sweeper:  utils.NewSweeper(up, cfg.Media.SweepLockPath, log.Named("sweeper")),
		handlers: routes.Handlers{
			Media:   controllers.NewMediaController(up, store, mirror, log.Named("http"), int64(cfg.Media.MaxUploadMB)<<20),
			Banners: controllers.NewBannerController(db, up, log.Named("http")),
			Modules: controllers.NewModuleController(cfg.Modules, cache, moduleCacheTTL, log.Named("modules")),
		},
	}, nil
}

func newStorage(ctx context.Context, m config.MediaSection, s config.S3Section) (storage.Storage, error) {
	switch m.Storage {
	case "", "local":
		return storage.NewLocal(m.Root)
	case "s3":
		return storage.NewS3(ctx, storage.S3Options{
			Region:       s.Region,
			Bucket:       s.Bucket,
			Endpoint:     s.Endpoint,
			AccessKey:    s.AccessKey,
			SecretKey:    s.SecretKey,
			Prefix:       s.Prefix,
			UsePathStyle: s.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported media storage %q", m.Storage)
	}
}
