package openai

import (
	"context"
	"fmt"
	"strings"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "你是一个图像场景分析助手。根据给出的检测对象和对象间关系，用一到两句话概括这张图片的场景内容。直接给出描述，不要解释。"

// Provider 基于OpenAI兼容接口的场景描述生成器
type Provider struct {
	config *configs.SummaryConfig
	client *openai.Client
	logger *utils.Logger
}

// NewProvider 创建OpenAI场景描述生成器
func NewProvider(config *configs.SummaryConfig, logger *utils.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Provider{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Summarize 根据检测对象和关系标签生成自然语言场景描述
func (p *Provider) Summarize(ctx context.Context, objectLabels []string, relationLabels []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("检测到的对象: ")
	if len(objectLabels) == 0 {
		sb.WriteString("无")
	} else {
		sb.WriteString(strings.Join(objectLabels, ", "))
	}
	sb.WriteString("\n对象间关系: ")
	if len(relationLabels) == 0 {
		sb.WriteString("无")
	} else {
		sb.WriteString(strings.Join(relationLabels, "; "))
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		Temperature: float32(p.config.Temperature),
		MaxTokens:   p.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("调用场景描述API失败: %v", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("场景描述API返回空结果")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
