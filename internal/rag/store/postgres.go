package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/nexus/internal/model"
)

// PostgresConfig PostgreSQL 父块存储配置。
type PostgresConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSLMode  string

	MaxIdleConnections    int
	MaxOpenConnections    int
	MaxConnectionLifeTime time.Duration
}

// DSN 构建 PostgreSQL 连接串。
func (c *PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
}

// ParentDocument 是父块的持久化模型。
type ParentDocument struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Team      string    `gorm:"size:128;index:idx_parent_team_file,priority:1"`
	FileName  string    `gorm:"size:512;index:idx_parent_team_file,priority:2"`
	Page      int       `gorm:""`
	Text      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:""`
}

// TableName 指定表名。
func (ParentDocument) TableName() string {
	return "parent_documents"
}

// PostgresParentStore 实现基于 PostgreSQL 的父块持久化存储。
type PostgresParentStore struct {
	db *gorm.DB
}

// NewPostgresParentStore 创建 PostgreSQL 父块存储并完成迁移。
func NewPostgresParentStore(ctx context.Context, config *PostgresConfig) (*PostgresParentStore, error) {
	if config == nil {
		return nil, fmt.Errorf("postgres config is nil")
	}

	db, err := gorm.Open(postgresdriver.Open(config.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(config.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(config.MaxConnectionLifeTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&ParentDocument{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate parent_documents: %w", err)
	}

	return &PostgresParentStore{db: db}, nil
}

// SaveParents 批量保存父块，按 ID 幂等覆盖。
func (s *PostgresParentStore) SaveParents(ctx context.Context, team string, parents []model.ParentChunk) error {
	if len(parents) == 0 {
		return nil
	}

	rows := make([]ParentDocument, len(parents))
	for i, p := range parents {
		rows[i] = ParentDocument{
			ID:       p.ID,
			Team:     team,
			FileName: p.FileName,
			Page:     p.Page,
			Text:     p.Text,
		}
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"team", "file_name", "page", "text"}),
		}).
		CreateInBatches(rows, 200).Error
	if err != nil {
		return fmt.Errorf("failed to save parents: %w", err)
	}
	return nil
}

// GetParent 按 ID 获取父块。
func (s *PostgresParentStore) GetParent(ctx context.Context, team, parentID string) (*model.ParentChunk, error) {
	var row ParentDocument
	err := s.db.WithContext(ctx).
		Where("id = ? AND team = ?", parentID, team).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParentNotFound
		}
		return nil, fmt.Errorf("failed to get parent %s: %w", parentID, err)
	}

	return &model.ParentChunk{
		ID:       row.ID,
		Text:     row.Text,
		FileName: row.FileName,
		Page:     row.Page,
	}, nil
}

// ListParentIDs 列出指定文件的全部父块 ID。
func (s *PostgresParentStore) ListParentIDs(ctx context.Context, team, fileName string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&ParentDocument{}).
		Where("team = ? AND file_name = ?", team, fileName).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list parent ids for %s: %w", fileName, err)
	}
	return ids, nil
}

// DeleteByFile 删除指定文件的全部父块。
func (s *PostgresParentStore) DeleteByFile(ctx context.Context, team, fileName string) error {
	err := s.db.WithContext(ctx).
		Where("team = ? AND file_name = ?", team, fileName).
		Delete(&ParentDocument{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete parents for %s: %w", fileName, err)
	}
	return nil
}

// ListFiles 列出团队内的文档及其父块数量。
func (s *PostgresParentStore) ListFiles(ctx context.Context, team string) ([]model.DocumentInfo, error) {
	var docs []model.DocumentInfo
	err := s.db.WithContext(ctx).
		Model(&ParentDocument{}).
		Select("file_name, COUNT(*) AS parent_chunks").
		Where("team = ?", team).
		Group("file_name").
		Order("file_name").
		Scan(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return docs, nil
}

// DeleteTeam 删除团队的全部父块。
func (s *PostgresParentStore) DeleteTeam(ctx context.Context, team string) error {
	err := s.db.WithContext(ctx).
		Where("team = ?", team).
		Delete(&ParentDocument{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete team parents: %w", err)
	}
	return nil
}

// Ping 检查 PostgreSQL 是否可用。
func (s *PostgresParentStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Close 关闭数据库连接。
func (s *PostgresParentStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for closing: %w", err)
	}
	return sqlDB.Close()
}

// 确保 PostgresParentStore 实现了 ParentStore 接口。
var _ ParentStore = (*PostgresParentStore)(nil)
