package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobRecord 一次推理提交的持久化索引（每次提交一条记录）
type JobRecord struct {
	ID                uint   `gorm:"primaryKey"`
	JobID             string `gorm:"uniqueIndex;not null"` // 提交的作业标识
	ClientID          string // 提交方标识（可选）
	Status            string // 可选值：pending/running/complete/failed
	ObjectCount       int
	RelationshipCount int
	AnnotatedImageRef string         // 标注图引用（URL或本地产物路径）
	GraphImageRef     string         // 关系图引用
	ResultJSON        datatypes.JSON // 规范化后的完整结果
	ErrorMessage      string         `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
