package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/artifact"
	"scenegraph-server-go/src/core/staging"
	"scenegraph-server-go/src/core/utils"

	"github.com/google/uuid"
)

const genericSubmitError = "处理请求时出现错误，请重试"

// Summarizer 可选的场景描述生成器
type Summarizer interface {
	Summarize(ctx context.Context, objectLabels []string, relationLabels []string) (string, error)
}

// Orchestrator 推理请求编排器
// 每次Submit自包含，不在调用之间保留请求状态，可安全并发调用
type Orchestrator struct {
	config     *configs.InferenceConfig
	artifacts  *artifact.Store
	summarizer Summarizer
	logger     *utils.Logger
	httpClient *http.Client
}

// NewOrchestrator 创建新的推理请求编排器
func NewOrchestrator(config *configs.InferenceConfig, artifacts *artifact.Store, logger *utils.Logger) *Orchestrator {
	timeout := 60 * time.Second
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}

	return &Orchestrator{
		config:    config,
		artifacts: artifacts,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetSummarizer 挂载可选的场景描述生成器
func (o *Orchestrator) SetSummarizer(s Summarizer) {
	o.summarizer = s
}

// rawResponse 推理服务的原始响应
// 不同部署的字段命名不统一，图片既可能是URL也可能是内联base64，全部兼容
type rawResponse struct {
	JobID         string                  `json:"job_id"`
	Objects       *[]DetectedObject       `json:"objects"`
	Relationships *[]DetectedRelationship `json:"relationships"`

	AnnotatedImage       string `json:"annotated_image"`
	AnnotatedImageBase64 string `json:"annotated_image_base64"`
	AnnotatedImageURL    string `json:"annotated_image_url"`

	GraphImage       string `json:"graph_image"`
	GraphImageBase64 string `json:"graph_image_base64"`
	GraphURL         string `json:"graph_url"`
}

// errorBody 推理服务失败响应体
type errorBody struct {
	Detail string `json:"detail"`
}

// Submit 将暂存图片提交给推理服务并返回归一化结果
// 失败时返回 ErrNoFile 或 *SubmissionError，绝不返回残缺的结果
func (o *Orchestrator) Submit(ctx context.Context, staged *staging.StagedFile, params RequestParams) (*SceneGraphResult, error) {
	if staged == nil || len(staged.Data) == 0 {
		return nil, ErrNoFile
	}

	params.Clamp()

	body, contentType, err := o.buildMultipart(staged, params)
	if err != nil {
		return nil, &SubmissionError{Cause: genericSubmitError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL, body)
	if err != nil {
		return nil, &SubmissionError{Cause: genericSubmitError, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	o.logger.Info("提交推理请求", map[string]interface{}{
		"url":                  o.config.BaseURL,
		"file":                 staged.Name,
		"size":                 staged.Size,
		"confidence_threshold": params.ConfidenceThreshold,
		"use_fixed_boxes":      params.UseFixedBoxes,
	})

	resp, err := o.httpClient.Do(req)
	if err != nil {
		// 超时和网络错误都转换为提交错误，不能无限挂起
		return nil, &SubmissionError{Cause: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SubmissionError{Cause: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SubmissionError{Cause: o.failureCause(resp.StatusCode, respData)}
	}

	return o.normalize(respData)
}

// buildMultipart 构建multipart/form-data请求体
func (o *Orchestrator) buildMultipart(staged *staging.StagedFile, params RequestParams) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", staged.Name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(staged.Data)); err != nil {
		return nil, "", fmt.Errorf("copy image data: %w", err)
	}

	if err := writer.WriteField("confidence_threshold", strconv.FormatFloat(params.ConfidenceThreshold, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("use_fixed_boxes", strconv.FormatBool(params.UseFixedBoxes)); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}

// failureCause 从失败响应中提取面向用户的原因
func (o *Orchestrator) failureCause(statusCode int, respData []byte) string {
	var eb errorBody
	if err := json.Unmarshal(respData, &eb); err == nil && eb.Detail != "" {
		return eb.Detail
	}
	if text := http.StatusText(statusCode); text != "" {
		return fmt.Sprintf("推理服务返回错误: %d %s", statusCode, text)
	}
	return genericSubmitError
}

// normalize 将不同形状的响应归一化为SceneGraphResult
func (o *Orchestrator) normalize(respData []byte) (*SceneGraphResult, error) {
	var raw rawResponse
	if err := json.Unmarshal(respData, &raw); err != nil {
		return nil, &SubmissionError{Cause: "推理服务响应格式错误", Err: err}
	}

	// objects与relationships字段缺失视为残缺响应；空数组是合法的成功结果
	if raw.Objects == nil && raw.Relationships == nil {
		return nil, &SubmissionError{Cause: "推理服务响应缺少检测结果字段"}
	}

	jobID := raw.JobID
	if jobID == "" {
		// 无状态远端不返回作业ID，客户端生成会话内唯一的临时ID
		jobID = "temp-" + uuid.New().String()
	}

	result := &SceneGraphResult{
		JobID:         jobID,
		Objects:       []DetectedObject{},
		Relationships: []DetectedRelationship{},
	}
	if raw.Objects != nil {
		result.Objects = *raw.Objects
	}
	if raw.Relationships != nil {
		result.Relationships = *raw.Relationships
	}

	annotated, err := o.normalizeImage(jobID, "annotated",
		raw.AnnotatedImageURL, raw.AnnotatedImageBase64, raw.AnnotatedImage)
	if err != nil {
		return nil, err
	}
	result.AnnotatedImage = annotated

	graph, err := o.normalizeImage(jobID, "graph",
		raw.GraphURL, raw.GraphImageBase64, raw.GraphImage)
	if err != nil {
		return nil, err
	}
	result.GraphImage = graph

	o.attachSummary(result)

	o.logger.Info("推理结果归一化完成", map[string]interface{}{
		"job_id":        result.JobID,
		"objects":       len(result.Objects),
		"relationships": len(result.Relationships),
	})

	return result, nil
}

// normalizeImage 将单张图片的多种表示归一化为一个引用
// 候选顺序：显式URL字段 → 显式base64字段 → 形状不定的兼容字段
func (o *Orchestrator) normalizeImage(jobID, kind, urlField, base64Field, ambiguous string) (ImageRef, error) {
	if urlField != "" {
		return ImageRef{URL: urlField}, nil
	}

	inline := base64Field
	if inline == "" && ambiguous != "" {
		if isURLLike(ambiguous) {
			return ImageRef{URL: ambiguous}, nil
		}
		inline = ambiguous
	}

	if inline == "" {
		return ImageRef{}, nil
	}

	data, err := decodeInlineImage(inline)
	if err != nil {
		return ImageRef{}, &SubmissionError{Cause: "推理服务返回的图片数据无法解码", Err: err}
	}

	// 落盘一次，之后不再保留base64文本，避免内存翻倍
	path, err := o.artifacts.Materialize(jobID, kind, data)
	if err != nil {
		return ImageRef{}, &SubmissionError{Cause: "推理服务返回的图片数据无法解码", Err: err}
	}

	return ImageRef{Path: path}, nil
}

// attachSummary 生成可选的场景描述，失败不影响提交结果
func (o *Orchestrator) attachSummary(result *SceneGraphResult) {
	if o.summarizer == nil {
		return
	}

	objectLabels := make([]string, 0, len(result.Objects))
	for _, obj := range result.Objects {
		objectLabels = append(objectLabels, obj.Label)
	}
	relationLabels := make([]string, 0, len(result.Relationships))
	for _, rel := range result.Relationships {
		relationLabels = append(relationLabels, fmt.Sprintf("%s %s %s", rel.Subject, rel.Predicate, rel.Object))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := o.summarizer.Summarize(ctx, objectLabels, relationLabels)
	if err != nil {
		o.logger.Warn(fmt.Sprintf("场景描述生成失败: %v", err))
		return
	}
	result.Summary = summary
}

// isURLLike 判断字符串是图片地址而不是base64数据
func isURLLike(s string) bool {
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "/")
}

// decodeInlineImage 解码内联base64图片，兼容data URL前缀
func decodeInlineImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, "base64,")
		if idx < 0 {
			return nil, fmt.Errorf("无效的data URL")
		}
		s = s[idx+len("base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64解码失败: %v", err)
	}
	return data, nil
}
