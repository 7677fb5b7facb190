// Package settings reads tenant-level knobs stored in app_settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keydrop-backend/internal/repo"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

const (
	KeyCashbackRatePercent = "cashback_rate_percent"
	KeyPointsEarnPercent   = "points_earn_percent"
)

// Reader is what the cashback and points flows need.
type Reader interface {
	CashbackRatePercent(ctx context.Context) int
	PointsEarnPercent(ctx context.Context) int
}

type Service struct {
	base            repo.Base
	logg            *logger.Logger
	defaultCashback int
}

func NewService(db *gorm.DB, defaultCashbackRate int, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{base: repo.NewBase(db), logg: logg, defaultCashback: defaultCashbackRate}
}

// CashbackRatePercent falls back to the configured default when unset or unreadable.
func (s *Service) CashbackRatePercent(ctx context.Context) int {
	return s.intSetting(ctx, KeyCashbackRatePercent, s.defaultCashback)
}

// PointsEarnPercent is 0, meaning disabled, unless configured.
func (s *Service) PointsEarnPercent(ctx context.Context) int {
	return s.intSetting(ctx, KeyPointsEarnPercent, 0)
}

// Set upserts a setting.
func (s *Service) Set(ctx context.Context, key, value string) error {
	row := models.AppSetting{Key: key, Value: value}
	return s.base.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *Service) intSetting(ctx context.Context, key string, fallback int) int {
	raw, err := s.get(ctx, key)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "setting", key), "failed to read setting", err)
		return fallback
	}
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"setting": key, "value": raw}), "ignoring malformed setting")
		return fallback
	}
	return value
}

func (s *Service) get(ctx context.Context, key string) (string, error) {
	var row models.AppSetting
	err := s.base.DB(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return row.Value, nil
}
