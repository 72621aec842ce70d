package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// TokenConfig Token配置
type TokenConfig struct {
	Token string `yaml:"token"`
}

// Config 主配置结构
type Config struct {
	Server struct {
		IP    string `yaml:"ip"`
		Port  int    `yaml:"port"`
		Token string `yaml:"token"`
		Auth  struct {
			Enabled bool          `yaml:"enabled"`
			Tokens  []TokenConfig `yaml:"tokens"`
		} `yaml:"auth"`
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Upload   UploadConfig   `yaml:"upload"`
	Artifact ArtifactConfig `yaml:"artifact"`

	SelectedModule map[string]string `yaml:"selected_module"`

	Inference map[string]InferenceConfig `yaml:"Inference"`
	Summary   map[string]SummaryConfig   `yaml:"Summary"`

	Task struct {
		MaxWorkers        int `yaml:"max_workers"`
		MaxTasksPerClient int `yaml:"max_tasks_per_client"`
	} `yaml:"task"`
}

// UploadConfig 上传暂存配置结构
type UploadConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`   // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`      // 最大像素数量
	MaxWidth       int      `yaml:"max_width"`       // 最大宽度
	MaxHeight      int      `yaml:"max_height"`      // 最大高度
	AllowedFormats []string `yaml:"allowed_formats"` // 允许的图片格式
	PreviewDir     string   `yaml:"preview_dir"`     // 预览临时目录
}

// ArtifactConfig 结果图片产物配置结构
type ArtifactConfig struct {
	Dir    string `yaml:"dir"`     // 图片产物目录
	MaxAge string `yaml:"max_age"` // 过期清理时间
}

// InferenceConfig 场景图推理服务配置结构
type InferenceConfig struct {
	Type                string                 `yaml:"type"`                 // 服务类型，目前只有http
	BaseURL             string                 `yaml:"url"`                  // 推理接口地址
	StatusURL           string                 `yaml:"status_url"`           // 任务状态查询地址（可选）
	Timeout             int                    `yaml:"timeout"`              // 请求超时（秒）
	ConfidenceThreshold float64                `yaml:"confidence_threshold"` // 默认置信度阈值
	UseFixedBoxes       bool                   `yaml:"use_fixed_boxes"`      // 默认是否使用固定检测框
	Extra               map[string]interface{} `yaml:",inline"`              // 额外配置
}

// SummaryConfig 场景描述生成配置结构（可选功能）
type SummaryConfig struct {
	Type        string                 `yaml:"type"`        // API类型
	ModelName   string                 `yaml:"model_name"`  // 模型名称
	BaseURL     string                 `yaml:"url"`         // API地址
	APIKey      string                 `yaml:"api_key"`     // API密钥
	Temperature float64                `yaml:"temperature"` // 温度参数
	MaxTokens   int                    `yaml:"max_tokens"`  // 最大令牌数
	Extra       map[string]interface{} `yaml:",inline"`     // 额外配置
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	config.ApplyDefaults()
	return config, path, nil
}

// ApplyDefaults 填充缺省配置
func (c *Config) ApplyDefaults() {
	if c.Upload.MaxFileSize == 0 {
		c.Upload.MaxFileSize = 10 * 1024 * 1024
	}
	if len(c.Upload.AllowedFormats) == 0 {
		c.Upload.AllowedFormats = []string{"jpeg", "png", "webp"}
	}
	if c.Upload.PreviewDir == "" {
		c.Upload.PreviewDir = "tmp/previews"
	}
	if c.Artifact.Dir == "" {
		c.Artifact.Dir = "tmp/artifacts"
	}
	if c.Task.MaxWorkers == 0 {
		c.Task.MaxWorkers = 4
	}
	if c.Task.MaxTasksPerClient == 0 {
		c.Task.MaxTasksPerClient = 10
	}
}
