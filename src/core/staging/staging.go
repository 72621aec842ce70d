package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/utils"

	"github.com/google/uuid"
)

// Stager 上传暂存组件，同一时刻最多持有一张待提交图片
type Stager struct {
	config    *configs.UploadConfig
	validator *ImageValidator
	logger    *utils.Logger

	mu      sync.Mutex
	current *StagedFile
}

// NewStager 创建新的上传暂存组件
func NewStager(config *configs.UploadConfig, logger *utils.Logger) (*Stager, error) {
	// 创建预览临时目录
	if err := os.MkdirAll(config.PreviewDir, 0755); err != nil {
		return nil, fmt.Errorf("创建预览目录失败: %v", err)
	}

	return &Stager{
		config:    config,
		validator: NewImageValidator(config, logger),
		logger:    logger,
	}, nil
}

// Select 验证并暂存一张图片，成功时整体替换之前暂存的文件
// 验证失败时之前暂存的文件保持不变
func (s *Stager) Select(data []byte, mediaType string, name string) (*StagedFile, error) {
	result := s.validator.Validate(data, mediaType)
	if !result.IsValid {
		return nil, result.Error
	}

	// 先落盘新预览，成功后再替换旧文件，避免失败时丢失已有暂存
	previewPath, err := s.writePreview(data, result.Format)
	if err != nil {
		return nil, fmt.Errorf("生成预览文件失败: %v", err)
	}

	staged := &StagedFile{
		Data:        data,
		MediaType:   mediaType,
		Format:      result.Format,
		Size:        result.FileSize,
		Name:        name,
		Width:       result.Width,
		Height:      result.Height,
		PreviewPath: previewPath,
	}

	s.mu.Lock()
	old := s.current
	s.current = staged
	s.mu.Unlock()

	s.releasePreview(old)

	s.logger.Info(fmt.Sprintf("图片已暂存: %s (%d bytes, %s)", name, staged.Size, staged.Format))
	return staged, nil
}

// Current 返回当前暂存的文件，没有时返回nil
func (s *Stager) Current() *StagedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Clear 释放当前暂存文件及其预览资源，可重复调用
func (s *Stager) Clear() {
	s.mu.Lock()
	old := s.current
	s.current = nil
	s.mu.Unlock()

	s.releasePreview(old)
}

// Close 组件销毁时释放全部资源
func (s *Stager) Close() error {
	s.Clear()
	return nil
}

// writePreview 将图片内容写入预览临时文件
func (s *Stager) writePreview(data []byte, format string) (string, error) {
	filename := fmt.Sprintf("preview_%d_%s.%s", time.Now().UnixNano(), uuid.New().String(), format)
	path := filepath.Join(s.config.PreviewDir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// releasePreview 删除预览临时文件
func (s *Stager) releasePreview(staged *StagedFile) {
	if staged == nil || staged.PreviewPath == "" {
		return
	}
	if err := os.Remove(staged.PreviewPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("删除预览文件失败", map[string]interface{}{
			"path":  staged.PreviewPath,
			"error": err.Error(),
		})
	}
}
