package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"scenegraph-server-go/src/core/orchestrator"
	"scenegraph-server-go/src/core/utils"
	"scenegraph-server-go/src/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordStore 作业记录持久化索引（可选，配置了数据库才启用）
// 内存结果随进程消失，这里保留每次提交的归一化结果作为二级查询路径
type RecordStore struct {
	db     *gorm.DB
	logger *utils.Logger
}

// NewRecordStore 创建作业记录索引并迁移表结构
func NewRecordStore(db *gorm.DB, logger *utils.Logger) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("数据库连接为空")
	}
	if err := db.AutoMigrate(&models.JobRecord{}); err != nil {
		return nil, fmt.Errorf("迁移作业记录表失败: %w", err)
	}
	return &RecordStore{db: db, logger: logger}, nil
}

// Save 持久化一次提交的归一化结果
func (s *RecordStore) Save(clientID string, result *orchestrator.SceneGraphResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	record := models.JobRecord{
		JobID:             result.JobID,
		ClientID:          clientID,
		Status:            "complete",
		ObjectCount:       len(result.Objects),
		RelationshipCount: len(result.Relationships),
		AnnotatedImageRef: refString(result.AnnotatedImage),
		GraphImageRef:     refString(result.GraphImage),
		ResultJSON:        datatypes.JSON(raw),
	}

	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("写入作业记录失败: %w", err)
	}
	return nil
}

// SaveFailure 记录失败的提交，便于排查
func (s *RecordStore) SaveFailure(clientID, jobID, message string) error {
	record := models.JobRecord{
		JobID:        jobID,
		ClientID:     clientID,
		Status:       "failed",
		ErrorMessage: message,
	}
	return s.db.Create(&record).Error
}

// Load 按作业ID取回归一化结果，记录不存在时返回(nil, nil)
func (s *RecordStore) Load(jobID string) (*orchestrator.SceneGraphResult, error) {
	var record models.JobRecord
	err := s.db.Where("job_id = ?", jobID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询作业记录失败: %w", err)
	}

	if record.Status != "complete" || len(record.ResultJSON) == 0 {
		return nil, nil
	}

	var result orchestrator.SceneGraphResult
	if err := json.Unmarshal(record.ResultJSON, &result); err != nil {
		s.logger.Warn("作业记录反序列化失败", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return nil, nil
	}
	return &result, nil
}

func refString(ref orchestrator.ImageRef) string {
	if ref.URL != "" {
		return ref.URL
	}
	return ref.Path
}
