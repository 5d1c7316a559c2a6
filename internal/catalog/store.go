// Package catalog provides the security catalog store and the bounded,
// TTL-based read-through cache layer in front of it.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quantfolio/valuation/pkg/models"
)

// ErrNotFound is returned when a ticker has no catalog entry.
var ErrNotFound = errors.New("security not found")

// Store is the narrow interface the engine requires of the catalog backend.
type Store interface {
	FindAll(ctx context.Context) ([]models.Security, error)
	FindByTicker(ctx context.Context, ticker string) (*models.Security, error)
	FindByKind(ctx context.Context, kind models.SecurityKind) ([]models.Security, error)
	Save(ctx context.Context, sec *models.Security) (*models.Security, error)
	Delete(ctx context.Context, ticker string) error
	DeleteAll(ctx context.Context) error
}

// GormStore implements Store over a relational database.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenDB opens a gorm handle for the configured driver and DSN.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// NewGormStore creates a catalog store and runs migrations.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Security{}); err != nil {
		return nil, fmt.Errorf("failed to migrate securities table: %w", err)
	}
	return &GormStore{db: db, logger: logger}, nil
}

// FindAll returns every security in the catalog ordered by ticker.
func (s *GormStore) FindAll(ctx context.Context) ([]models.Security, error) {
	var secs []models.Security
	if err := s.db.WithContext(ctx).Order("ticker").Find(&secs).Error; err != nil {
		return nil, fmt.Errorf("failed to list securities: %w", err)
	}
	return secs, nil
}

// FindByTicker returns the security for a ticker, or ErrNotFound.
func (s *GormStore) FindByTicker(ctx context.Context, ticker string) (*models.Security, error) {
	var sec models.Security
	err := s.db.WithContext(ctx).First(&sec, "ticker = ?", models.NormalizeTicker(ticker)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find security %s: %w", ticker, err)
	}
	return &sec, nil
}

// FindByKind returns all securities of a kind ordered by ticker.
func (s *GormStore) FindByKind(ctx context.Context, kind models.SecurityKind) ([]models.Security, error) {
	var secs []models.Security
	if err := s.db.WithContext(ctx).Where("kind = ?", kind).Order("ticker").Find(&secs).Error; err != nil {
		return nil, fmt.Errorf("failed to list securities by kind %s: %w", kind, err)
	}
	return secs, nil
}

// Save upserts a security keyed by ticker.
func (s *GormStore) Save(ctx context.Context, sec *models.Security) (*models.Security, error) {
	if !sec.Kind.Valid() {
		return nil, fmt.Errorf("invalid security kind: %q", sec.Kind)
	}
	sec.Ticker = models.NormalizeTicker(sec.Ticker)
	if sec.Ticker == "" {
		return nil, fmt.Errorf("security ticker must not be empty")
	}
	if sec.Kind.IsOption() && (sec.Strike == nil || sec.Maturity == nil) {
		return nil, fmt.Errorf("option %s must carry strike and maturity", sec.Ticker)
	}
	if sec.Kind.IsOption() && !sec.Volatility.IsPositive() {
		// Pricing yields zero for sigma <= 0; surface the misconfiguration
		// here instead of letting valuation carry a silent zero.
		s.logger.Warn("option has non-positive volatility and will always price to zero",
			zap.String("ticker", sec.Ticker),
			zap.String("volatility", sec.Volatility.String()))
	}
	if err := s.db.WithContext(ctx).Save(sec).Error; err != nil {
		return nil, fmt.Errorf("failed to save security %s: %w", sec.Ticker, err)
	}
	return sec, nil
}

// Delete removes a security by ticker. Deleting an absent ticker is not an
// error.
func (s *GormStore) Delete(ctx context.Context, ticker string) error {
	err := s.db.WithContext(ctx).Delete(&models.Security{}, "ticker = ?", models.NormalizeTicker(ticker)).Error
	if err != nil {
		return fmt.Errorf("failed to delete security %s: %w", ticker, err)
	}
	return nil
}

// DeleteAll clears the catalog.
func (s *GormStore) DeleteAll(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&models.Security{}).Error; err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	return nil
}
