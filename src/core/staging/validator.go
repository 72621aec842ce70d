package staging

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/utils"

	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// ImageValidator 上传图片验证器
type ImageValidator struct {
	config *configs.UploadConfig
	logger *utils.Logger
}

// NewImageValidator 创建新的上传图片验证器
func NewImageValidator(config *configs.UploadConfig, logger *utils.Logger) *ImageValidator {
	return &ImageValidator{
		config: config,
		logger: logger,
	}
}

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8}, // JPEG文件只需要前两个字节
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需要进一步检查WEBP标识
}

// Validate 验证一张待暂存的图片
// 验证顺序：大小 → 声明类型 → 实际解码，失败时返回对应的类型化错误
func (v *ImageValidator) Validate(data []byte, mediaType string) ValidationResult {
	result := ValidationResult{IsValid: false}

	// 1. 基础大小检查
	if int64(len(data)) > v.config.MaxFileSize {
		result.Error = &OversizeError{Size: int64(len(data)), Max: v.config.MaxFileSize}
		v.logger.Warn("检测到超大文件", map[string]interface{}{
			"size":     len(data),
			"max_size": v.config.MaxFileSize,
		})
		return result
	}

	// 2. 声明类型检查
	declaredFormat := FormatFromMediaType(mediaType)
	if !v.isFormatAllowed(declaredFormat) {
		result.Error = &UnsupportedTypeError{MediaType: mediaType}
		return result
	}

	// 3. 尝试解码图片获取详细信息（这是最可靠的验证方式）
	decodeResult := v.validateImageDecoding(data, declaredFormat)
	if !decodeResult.IsValid {
		// 图片解码失败，再检查文件头是否匹配
		if !v.validateFileSignature(data, declaredFormat) {
			result.Error = &UnsupportedTypeError{MediaType: mediaType}
			return result
		}
		return decodeResult
	}

	// 解码出的实际格式也必须在允许集合内，防止改扩展名绕过
	if !v.isFormatAllowed(decodeResult.Format) {
		decodeResult.IsValid = false
		decodeResult.Error = &UnsupportedTypeError{MediaType: "image/" + decodeResult.Format}
		return decodeResult
	}

	return decodeResult
}

// validateFileSignature 验证文件头签名
func (v *ImageValidator) validateFileSignature(data []byte, format string) bool {
	signature, exists := imageSignatures[strings.ToLower(format)]
	if !exists {
		return false
	}

	if len(data) < len(signature) {
		return false
	}

	for i, b := range signature {
		if data[i] != b {
			return false
		}
	}

	// WEBP需要额外验证
	if strings.ToLower(format) == "webp" && len(data) >= 12 {
		webpSignature := data[8:12]
		return bytes.Equal(webpSignature, []byte("WEBP"))
	}

	return true
}

// isFormatAllowed 检查格式是否被允许
func (v *ImageValidator) isFormatAllowed(format string) bool {
	formatLower := strings.ToLower(format)
	if formatLower == "jpg" {
		formatLower = "jpeg"
	}
	for _, allowedFormat := range v.config.AllowedFormats {
		if strings.ToLower(allowedFormat) == formatLower {
			return true
		}
	}
	return false
}

// validateImageDecoding 验证图片解码
func (v *ImageValidator) validateImageDecoding(data []byte, format string) ValidationResult {
	result := ValidationResult{Format: format}
	reader := bytes.NewReader(data)

	// 使用标准库解码验证
	config, actualFormat, err := image.DecodeConfig(reader)
	if err != nil {
		result.Error = fmt.Errorf("图片解码失败: %v", err)
		return result
	}

	// 更新实际格式
	if actualFormat != "" {
		result.Format = actualFormat
	}

	// 检查尺寸限制
	if v.config.MaxWidth > 0 && config.Width > v.config.MaxWidth ||
		v.config.MaxHeight > 0 && config.Height > v.config.MaxHeight {
		result.Error = fmt.Errorf("图片尺寸超限: %dx%d，最大允许: %dx%d",
			config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight)
		return result
	}

	// 检查像素总数
	totalPixels := int64(config.Width) * int64(config.Height)
	if v.config.MaxPixels > 0 && totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("像素总数超限: %d，最大允许: %d", totalPixels, v.config.MaxPixels)
		return result
	}

	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(data))

	v.logger.Debug("图片验证成功 %v", map[string]interface{}{
		"format": result.Format,
		"width":  result.Width,
		"height": result.Height,
		"size":   result.FileSize,
	})

	return result
}

// FormatFromMediaType 从媒体类型提取图片格式，如 image/jpeg -> jpeg
func FormatFromMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = mt[:idx]
	}
	format := strings.TrimPrefix(mt, "image/")
	if format == "jpg" {
		format = "jpeg"
	}
	return format
}

// DetectImageFormat 根据文件头检测图片格式
func DetectImageFormat(data []byte) string {
	for _, format := range []string{"png", "webp", "jpeg"} {
		signature := imageSignatures[format]
		if len(data) < len(signature) {
			continue
		}
		match := true
		for i, b := range signature {
			if data[i] != b {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if format == "webp" {
			if len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")) {
				return "webp"
			}
			continue
		}
		return format
	}
	return ""
}
