package scenegraph

import "scenegraph-server-go/src/core/orchestrator"

// SubmitRequest 场景图生成请求（从multipart表单解析）
type SubmitRequest struct {
	Image     []byte                     // 图片数据（从文件字段获取）
	MediaType string                     // 声明的媒体类型
	Filename  string                     // 原始文件名
	Params    orchestrator.RequestParams // 推理参数
	ClientID  string                     // 客户端ID（从请求头获取）
}

// SubmitResponse 同步提交的标准响应结构（兼容Python版本）
type SubmitResponse struct {
	Success bool                           `json:"success"`
	Message string                         `json:"message,omitempty"` // 错误信息（失败时）
	Result  *orchestrator.SceneGraphResult `json:"result,omitempty"`  // 归一化结果（成功时）
}

// AsyncSubmitResponse 异步提交响应结构
type AsyncSubmitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// RankedResponse 排序视图响应结构
type RankedResponse struct {
	Success                       bool        `json:"success"`
	JobID                         string      `json:"job_id"`
	RankedObjects                 interface{} `json:"ranked_objects"`
	RankedRelationships           interface{} `json:"ranked_relationships"`
	AverageObjectConfidence       float64     `json:"average_object_confidence"`
	AverageRelationshipConfidence float64     `json:"average_relationship_confidence"`
}

// AuthVerifyResult 认证验证结果
type AuthVerifyResult struct {
	IsValid  bool
	ClientID string
}
