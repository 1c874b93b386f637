package database

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/catalog-dev/catalog-ingest/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type DB struct {
	*gorm.DB
}

func New(cfg *config.Config) (*DB, error) {
	var dialector gorm.Dialector

	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabasePath() + "?_busy_timeout=5000&_journal_mode=WAL")
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("CATALOG_INGEST_DB_DSN is required for postgres")
		}
		dialector = postgres.Open(cfg.DBDSN)
	case "mysql":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("CATALOG_INGEST_DB_DSN is required for mysql")
		}
		dialector = mysql.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.DBDriver)
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if cfg.DevMode {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY storms.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	result := db.Model(&IngestRun{}).
		Where("status = ?", RunStatusRunning).
		Updates(map[string]interface{}{
			"status":        RunStatusFailed,
			"error_message": "interrupted by restart",
		})
	if result.RowsAffected > 0 {
		slog.Info("Cleaned up stale runs", "count", result.RowsAffected)
	}

	slog.Info("Database connected", "driver", cfg.DBDriver)

	return &DB{DB: db}, nil
}

// Migrate creates or updates every table used by the pipeline.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&Product{}, "Performers", &ProductPerformer{}); err != nil {
		return err
	}
	if err := db.SetupJoinTable(&Product{}, "Categories", &ProductCategory{}); err != nil {
		return err
	}
	return db.AutoMigrate(
		&Source{},
		&RawResponse{},
		&RawResponseLink{},
		&Product{},
		&ProductSource{},
		&Performer{},
		&PerformerAlias{},
		&ProductPerformer{},
		&Category{},
		&ProductCategory{},
		&ProductImage{},
		&ProductVideo{},
		&SaleRecord{},
		&IngestRun{},
		&Webhook{},
		&Setting{},
	)
}

func (db *DB) GetSetting(key string) (string, error) {
	var setting Setting
	if err := db.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (db *DB) SetSetting(key, value string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Setting{Key: key, Value: value}).Error
}

func (db *DB) HasSetting(key string) bool {
	var count int64
	db.Model(&Setting{}).Where("key = ?", key).Count(&count)
	return count > 0
}

// LoadTotal returns the last persisted catalog size of a source.
func (db *DB) LoadTotal(sourceID string) (int, bool) {
	v, err := db.GetSetting(SettingTotalPrefix + sourceID)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SaveTotal persists the latest catalog size of a source.
func (db *DB) SaveTotal(sourceID string, count int) error {
	return db.SetSetting(SettingTotalPrefix+sourceID, strconv.Itoa(count))
}
