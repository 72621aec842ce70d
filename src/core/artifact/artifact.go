package artifact

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/utils"

	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/webp" // 注册WEBP解码器

	"github.com/google/uuid"
)

// Store 推理结果图片的本地产物仓库
// 内联base64图片解码后落盘一次，下游只持有稳定的文件引用
type Store struct {
	dir    string
	maxAge time.Duration
	logger *utils.Logger
}

// NewStore 创建产物仓库
func NewStore(config *configs.ArtifactConfig, logger *utils.Logger) (*Store, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("创建产物目录失败: %v", err)
	}

	maxAge := time.Hour
	if config.MaxAge != "" {
		if d, err := time.ParseDuration(config.MaxAge); err == nil {
			maxAge = d
		}
	}

	return &Store{
		dir:    config.Dir,
		maxAge: maxAge,
		logger: logger,
	}, nil
}

// Materialize 校验图片数据可解码并写入产物文件，返回稳定引用路径
func (s *Store) Materialize(jobID string, kind string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("图片数据为空")
	}

	// 必须能解码为图片，损坏的数据直接拒绝
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("图片解码失败: %v", err)
	}

	filename := fmt.Sprintf("%s_%s_%s.%s", jobID, kind, uuid.New().String()[:8], format)
	path := filepath.Join(s.dir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入产物文件失败: %v", err)
	}

	s.logger.Debug("图片产物已落盘 %v", map[string]interface{}{
		"job_id": jobID,
		"kind":   kind,
		"path":   path,
		"size":   len(data),
	})

	return path, nil
}

// Resolve 按作业ID和文件名取回产物路径，防止目录穿越
func (s *Store) Resolve(filename string) (string, error) {
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("非法的产物文件名: %s", filename)
	}
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("产物文件不存在: %s", filename)
	}
	return path, nil
}

// Cleanup 清理过期产物文件
func (s *Store) Cleanup() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("读取产物目录失败: %v", err)
	}

	now := time.Now()
	cleanedCount := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filePath := filepath.Join(s.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) > s.maxAge {
			if err := os.Remove(filePath); err != nil {
				s.logger.Warn("删除过期产物文件失败", map[string]interface{}{
					"path":  filePath,
					"error": err.Error(),
				})
			} else {
				cleanedCount++
			}
		}
	}

	if cleanedCount > 0 {
		s.logger.Info("清理产物文件完成", map[string]interface{}{
			"cleaned_count": cleanedCount,
		})
	}

	return nil
}
