package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeRecordHashCase = "2026-08-31_normalize_record_hash_case"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeRecordHashCase, apply: normalizeRecordHashCase},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeRecordHashCase lowercases hashes written by early clients that
// hex-encoded with uppercase digits. Consent rows reference hashes by value,
// so both tables move together.
func normalizeRecordHashCase(db *gorm.DB) error {
	if err := db.Exec("UPDATE records SET record_hash = lower(record_hash) WHERE record_hash <> lower(record_hash);").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE consents SET record_hash = lower(record_hash) WHERE record_hash <> lower(record_hash);").Error
}
