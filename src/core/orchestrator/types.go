package orchestrator

import "errors"

// RequestParams 一次推理提交的配置参数
type RequestParams struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"` // 置信度阈值，[0,1]
	UseFixedBoxes       bool    `json:"use_fixed_boxes"`      // 使用固定检测框还是动态检测
}

// Clamp 将阈值收敛到[0,1]区间
func (p *RequestParams) Clamp() {
	if p.ConfidenceThreshold < 0 {
		p.ConfidenceThreshold = 0
	}
	if p.ConfidenceThreshold > 1 {
		p.ConfidenceThreshold = 1
	}
}

// DetectedObject 推理服务返回的检测对象
type DetectedObject struct {
	Label   string     `json:"label"`    // 对象标签
	Score   float64    `json:"score"`    // 置信度分数，[0,1]
	LabelID int        `json:"label_id"` // 标签数字标识
	BBox    [4]float64 `json:"bbox"`     // 归一化检测框：x, y, w, h
}

// DetectedRelationship 推理服务返回的对象间关系
type DetectedRelationship struct {
	Subject     string  `json:"subject"`
	Predicate   string  `json:"predicate"`
	Object      string  `json:"object"`
	Score       float64 `json:"score"`
	SubjectID   int     `json:"subject_id"`
	ObjectID    int     `json:"object_id"`
	PredicateID int     `json:"predicate_id"`
}

// ImageRef 归一化后的图片引用
// 推理服务可能返回URL也可能返回内联base64，归一化后下游只看到这一种形式：
// 远端图片保留URL，内联图片解码落盘后持有本地产物路径
type ImageRef struct {
	URL  string `json:"url,omitempty"`  // 远端图片地址
	Path string `json:"path,omitempty"` // 本地产物路径
}

// IsZero 是否为空引用
func (r ImageRef) IsZero() bool {
	return r.URL == "" && r.Path == ""
}

// SceneGraphResult 一次提交归一化后的完整结果
type SceneGraphResult struct {
	JobID          string                 `json:"job_id"`
	Objects        []DetectedObject       `json:"objects"`
	Relationships  []DetectedRelationship `json:"relationships"`
	AnnotatedImage ImageRef               `json:"annotated_image_ref"`
	GraphImage     ImageRef               `json:"graph_image_ref"`
	Summary        string                 `json:"summary,omitempty"`
}

// ErrNoFile 没有暂存文件时提交
var ErrNoFile = errors.New("没有已暂存的图片，无法提交推理")

// SubmissionError 提交失败，Cause为面向用户的失败原因
// 原因优先级：服务端detail → 传输层错误 → 通用兜底消息
type SubmissionError struct {
	Cause string
	Err   error
}

func (e *SubmissionError) Error() string {
	return e.Cause
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
