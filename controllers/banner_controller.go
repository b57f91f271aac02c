package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/mediastage/media"
	"github.com/cppla/mediastage/models"
	"github.com/cppla/mediastage/utils"
)

// BannerController manages banner records and keeps their image files in step.
type BannerController struct {
	db       *gorm.DB
	uploader *media.Uploader
	log      *zap.Logger
}

// NewBannerController creates a new BannerController instance.
func NewBannerController(db *gorm.DB, up *media.Uploader, log *zap.Logger) *BannerController {
	if log == nil {
		log = zap.NewNop()
	}
	return &BannerController{db: db, uploader: up, log: log}
}

type bannerRequest struct {
	Title  *string         `json:"title"`
	Status *string         `json:"status"`
	Image  json.RawMessage `json:"image"` // [{name, url}] | [{deleted: 1}] | absent
}

type bannerView struct {
	models.Banner
	ImageURL    string `json:"image_url"`
	StatusClass string `json:"status_class"`
}

func (b *BannerController) view(banner models.Banner) bannerView {
	return bannerView{
		Banner:      banner,
		ImageURL:    b.uploader.URL(banner.Image),
		StatusClass: models.StatusClass(banner.Status),
	}
}

// ListBanners returns banners newest first, optionally filtered by status.
func (b *BannerController) ListBanners(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))

	query := b.db.WithContext(ctx.Request.Context()).Model(&models.Banner{})
	if status := ctx.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		b.log.Error("count banners", zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to count banners")
		return
	}
	var banners []models.Banner
	if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&banners).Error; err != nil {
		b.log.Error("list banners", zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list banners")
		return
	}

	items := make([]bannerView, 0, len(banners))
	for _, banner := range banners {
		items = append(items, b.view(banner))
	}
	utils.Success(ctx, gin.H{
		"items": items,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	})
}

func (b *BannerController) GetBanner(ctx *gin.Context) {
	banner, ok := b.load(ctx)
	if !ok {
		return
	}
	utils.Success(ctx, b.view(banner))
}

// CreateBanner commits the submitted image and stores the record.
func (b *BannerController) CreateBanner(ctx *gin.Context) {
	req, payload, ok := bindBanner(ctx)
	if !ok {
		return
	}
	banner := models.Banner{Status: models.StatusEnabled}
	if !applyBanner(ctx, &banner, req) {
		return
	}
	if banner.Title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "title cannot be empty")
		return
	}

	image, err := b.uploader.ReconcileField(ctx.Request.Context(), "", payload)
	if err != nil {
		utils.MediaError(ctx, err)
		return
	}
	banner.Image = image

	if err := b.db.WithContext(ctx.Request.Context()).Create(&banner).Error; err != nil {
		b.log.Error("create banner", zap.Error(err))
		if derr := b.uploader.DeleteCommitted(ctx.Request.Context(), image); derr != nil {
			b.log.Warn("drop image of unsaved banner", zap.String("name", image), zap.Error(derr))
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to save banner")
		return
	}
	utils.Success(ctx, b.view(banner))
}

// UpdateBanner reconciles the image field against the stored value and saves the record.
func (b *BannerController) UpdateBanner(ctx *gin.Context) {
	banner, ok := b.load(ctx)
	if !ok {
		return
	}
	req, payload, ok := bindBanner(ctx)
	if !ok {
		return
	}
	if !applyBanner(ctx, &banner, req) {
		return
	}
	if req.Title != nil && banner.Title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "title cannot be empty")
		return
	}

	image, err := b.uploader.ReconcileField(ctx.Request.Context(), banner.Image, payload)
	if err != nil {
		utils.MediaError(ctx, err)
		return
	}
	banner.Image = image

	if err := b.db.WithContext(ctx.Request.Context()).Save(&banner).Error; err != nil {
		b.log.Error("update banner", zap.Uint("id", banner.ID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to save banner")
		return
	}
	utils.Success(ctx, b.view(banner))
}

// DeleteBanner removes the image first so a failure leaves the record pointing at it.
func (b *BannerController) DeleteBanner(ctx *gin.Context) {
	banner, ok := b.load(ctx)
	if !ok {
		return
	}
	if err := b.uploader.DeleteCommitted(ctx.Request.Context(), banner.Image); err != nil {
		utils.MediaError(ctx, err)
		return
	}
	if err := b.db.WithContext(ctx.Request.Context()).Delete(&banner).Error; err != nil {
		b.log.Error("delete banner", zap.Uint("id", banner.ID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50025, "failed to delete banner")
		return
	}
	utils.Success(ctx, gin.H{"message": "banner deleted"})
}

func (b *BannerController) load(ctx *gin.Context) (models.Banner, bool) {
	var banner models.Banner
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40404, "banner not found")
		return banner, false
	}
	if err := b.db.WithContext(ctx.Request.Context()).First(&banner, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40404, "banner not found")
			return banner, false
		}
		b.log.Error("load banner", zap.Uint64("id", id), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to load banner")
		return banner, false
	}
	return banner, true
}

func bindBanner(ctx *gin.Context) (bannerRequest, *media.FieldPayload, bool) {
	var req bannerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return req, nil, false
	}
	payload, err := media.ParseFieldPayload(req.Image)
	if err != nil {
		utils.MediaError(ctx, err)
		return req, nil, false
	}
	return req, payload, true
}

func applyBanner(ctx *gin.Context, banner *models.Banner, req bannerRequest) bool {
	if req.Title != nil {
		banner.Title = utils.Sanitize(*req.Title)
	}
	if req.Status != nil {
		switch *req.Status {
		case models.StatusEnabled, models.StatusDisabled:
			banner.Status = *req.Status
		default:
			utils.Error(ctx, http.StatusBadRequest, 40022, "invalid status")
			return false
		}
	}
	return true
}

func parsePagination(pageStr, sizeStr string) (int, int) {
	page := 1
	pageSize := 10
	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
		pageSize = s
	}
	return page, pageSize
}
