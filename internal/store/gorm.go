package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

// BattleRecord is the battle_rooms row. State holds the full engine.State as JSON.
type BattleRecord struct {
	Code      string        `gorm:"primaryKey;size:16"`
	Version   int           `gorm:"not null"`
	Status    engine.Status `gorm:"size:32;not null"`
	State     string        `gorm:"type:jsonb;not null"`
	CreatedAt time.Time     `gorm:"index;not null"`
	UpdatedAt time.Time
}

func (BattleRecord) TableName() string { return "battle_rooms" }

type Gorm struct {
	db *gorm.DB
}

// OpenGorm connects to dsn and migrates the battle_rooms table.
func OpenGorm(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGorm(db)
}

func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&BattleRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate battle_rooms: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", rec.Code, err)
	}
	row := BattleRecord{
		Code:      rec.Code,
		Version:   rec.Version,
		Status:    rec.State.Status,
		State:     string(data),
		CreatedAt: rec.State.CreatedAt,
	}

	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "status", "state", "updated_at"}),
		// An out-of-order write never replaces a newer snapshot.
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "battle_rooms.version < excluded.version"},
		}},
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save room %s: %w", rec.Code, err)
	}
	return nil
}

func (g *Gorm) Delete(ctx context.Context, code string) error {
	if err := g.db.WithContext(ctx).Delete(&BattleRecord{}, "code = ?", code).Error; err != nil {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}

func (g *Gorm) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&BattleRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired rooms: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (g *Gorm) LoadActive(ctx context.Context, since time.Time) ([]Record, error) {
	var rows []BattleRecord
	err := g.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("code").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		var st engine.State
		if err := json.Unmarshal([]byte(row.State), &st); err != nil {
			return nil, fmt.Errorf("unmarshal room %s: %w", row.Code, err)
		}
		out = append(out, Record{Code: row.Code, Version: row.Version, State: st})
	}
	return out, nil
}
