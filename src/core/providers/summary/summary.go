package summary

import (
	"context"
	"fmt"
	"strings"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/providers/summary/openai"
	"scenegraph-server-go/src/core/utils"
)

// Provider 场景描述生成器接口
type Provider interface {
	Summarize(ctx context.Context, objectLabels []string, relationLabels []string) (string, error)
}

// NewProvider 根据配置创建场景描述生成器
func NewProvider(config *configs.SummaryConfig, logger *utils.Logger) (Provider, error) {
	switch strings.ToLower(config.Type) {
	case "openai":
		return openai.NewProvider(config, logger)
	default:
		return nil, fmt.Errorf("不支持的场景描述生成器类型: %s", config.Type)
	}
}
