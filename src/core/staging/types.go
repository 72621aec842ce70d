package staging

import "fmt"

// StagedFile 已暂存待提交的单张图片
type StagedFile struct {
	Data        []byte // 原始文件内容
	MediaType   string // 声明的媒体类型，如 image/jpeg
	Format      string // 识别出的实际格式：jpeg, png, webp
	Size        int64  // 文件大小（字节）
	Name        string // 用户可读的文件名
	Width       int    // 图片宽度
	Height      int    // 图片高度
	PreviewPath string // 本地预览文件路径（临时资源）
}

// ValidationResult 图片验证结果
type ValidationResult struct {
	IsValid  bool   // 是否有效
	Format   string // 实际格式
	Width    int    // 图片宽度
	Height   int    // 图片高度
	FileSize int64  // 文件大小
	Error    error  // 错误信息
}

// OversizeError 文件大小超限
type OversizeError struct {
	Size int64
	Max  int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("文件大小超限: %d bytes，最大允许: %d bytes", e.Size, e.Max)
}

// UnsupportedTypeError 媒体类型不在允许集合内
type UnsupportedTypeError struct {
	MediaType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("不支持的文件类型: %s，请上传有效的图片文件（支持JPEG、PNG、WEBP格式）", e.MediaType)
}
