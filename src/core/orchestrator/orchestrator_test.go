package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/artifact"
	"scenegraph-server-go/src/core/staging"
	"scenegraph-server-go/src/core/utils"
)

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	config := &configs.Config{}
	config.Log.LogDir = t.TempDir()
	config.Log.LogFile = "test.log"
	logger, err := utils.NewLogger(config)
	if err != nil {
		t.Fatalf("创建日志记录器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func newTestOrchestrator(t *testing.T, baseURL string) *Orchestrator {
	t.Helper()
	logger := newTestLogger(t)
	artifacts, err := artifact.NewStore(&configs.ArtifactConfig{Dir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("创建产物仓库失败: %v", err)
	}
	return NewOrchestrator(&configs.InferenceConfig{
		Type:    "http",
		BaseURL: baseURL,
		Timeout: 5,
	}, artifacts, logger)
}

func makePNGBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("生成PNG测试图片失败: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func testStagedFile() *staging.StagedFile {
	return &staging.StagedFile{
		Data:      []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02},
		MediaType: "image/jpeg",
		Format:    "jpeg",
		Size:      6,
		Name:      "street.jpg",
	}
}

func TestSubmit_Success(t *testing.T) {
	pngB64 := makePNGBase64(t)
	var gotThreshold, gotFixedBoxes, gotFilename string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("解析multipart请求失败: %v", err)
		}
		gotThreshold = r.FormValue("confidence_threshold")
		gotFixedBoxes = r.FormValue("use_fixed_boxes")
		if _, header, err := r.FormFile("image"); err != nil {
			t.Errorf("获取image字段失败: %v", err)
		} else {
			gotFilename = header.Filename
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"objects": []map[string]interface{}{
				{"label": "person", "score": 0.91},
				{"label": "bicycle", "score": 0.87},
			},
			"relationships": []map[string]interface{}{
				{"subject": "person", "predicate": "riding", "object": "bicycle", "score": 0.82},
			},
			"annotated_image": pngB64,
			"graph_image":     pngB64,
		})
	}))
	defer server.Close()

	orch := newTestOrchestrator(t, server.URL)
	result, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{
		ConfidenceThreshold: 0.5,
		UseFixedBoxes:       true,
	})
	if err != nil {
		t.Fatalf("Submit() 返回错误: %v", err)
	}

	if gotThreshold != "0.5" {
		t.Errorf("confidence_threshold = %q, want %q", gotThreshold, "0.5")
	}
	if gotFixedBoxes != "true" {
		t.Errorf("use_fixed_boxes = %q, want %q", gotFixedBoxes, "true")
	}
	if gotFilename != "street.jpg" {
		t.Errorf("上传文件名 = %q, want %q", gotFilename, "street.jpg")
	}

	if len(result.Objects) != 2 {
		t.Fatalf("Objects 数量 = %d, want 2", len(result.Objects))
	}
	if result.Objects[0].Label != "person" || result.Objects[0].Score != 0.91 {
		t.Errorf("Objects[0] = %+v", result.Objects[0])
	}
	if len(result.Relationships) != 1 {
		t.Fatalf("Relationships 数量 = %d, want 1", len(result.Relationships))
	}
	rel := result.Relationships[0]
	if rel.Subject != "person" || rel.Predicate != "riding" || rel.Object != "bicycle" {
		t.Errorf("Relationships[0] = %+v", rel)
	}

	// 远端未返回job_id时生成会话内唯一的临时ID
	if !strings.HasPrefix(result.JobID, "temp-") {
		t.Errorf("JobID = %q, want temp-前缀", result.JobID)
	}

	// 内联base64图片解码后落盘，结果里只保留文件引用
	for _, ref := range []ImageRef{result.AnnotatedImage, result.GraphImage} {
		if ref.Path == "" {
			t.Fatal("图片引用为空")
		}
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			t.Fatalf("读取产物文件失败: %v", err)
		}
		if len(data) == 0 {
			t.Error("产物文件内容为空")
		}
	}
}

func TestSubmit_URLShapedImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":              "job-42",
			"objects":             []map[string]interface{}{{"label": "dog", "score": 0.9}},
			"relationships":       []map[string]interface{}{},
			"annotated_image_url": "http://example.com/annotated/job-42.png",
			"graph_url":           "/static/graphs/job-42.png",
		})
	}))
	defer server.Close()

	orch := newTestOrchestrator(t, server.URL)
	result, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{ConfidenceThreshold: 0.5})
	if err != nil {
		t.Fatalf("Submit() 返回错误: %v", err)
	}

	if result.JobID != "job-42" {
		t.Errorf("JobID = %q, want %q", result.JobID, "job-42")
	}
	if result.AnnotatedImage.URL != "http://example.com/annotated/job-42.png" {
		t.Errorf("AnnotatedImage = %+v", result.AnnotatedImage)
	}
	if result.GraphImage.URL != "/static/graphs/job-42.png" {
		t.Errorf("GraphImage = %+v", result.GraphImage)
	}
	// URL形状的图片不落盘
	if result.AnnotatedImage.Path != "" || result.GraphImage.Path != "" {
		t.Error("URL图片不应产生本地产物")
	}
}

func TestSubmit_AmbiguousImageField(t *testing.T) {
	// 兼容字段既可能是URL也可能是base64，按前缀判断
	pngB64 := makePNGBase64(t)
	tests := []struct {
		name     string
		value    string
		wantURL  bool
		wantPath bool
	}{
		{name: "http地址", value: "http://example.com/a.png", wantURL: true},
		{name: "绝对路径地址", value: "/static/a.png", wantURL: true},
		{name: "裸base64", value: pngB64, wantPath: true},
		{name: "dataURL前缀", value: "data:image/png;base64," + pngB64, wantPath: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"objects":         []map[string]interface{}{},
					"relationships":   []map[string]interface{}{},
					"annotated_image": tt.value,
				})
			}))
			defer server.Close()

			orch := newTestOrchestrator(t, server.URL)
			result, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{})
			if err != nil {
				t.Fatalf("Submit() 返回错误: %v", err)
			}
			if tt.wantURL && result.AnnotatedImage.URL != tt.value {
				t.Errorf("URL = %q, want %q", result.AnnotatedImage.URL, tt.value)
			}
			if tt.wantPath && result.AnnotatedImage.Path == "" {
				t.Error("base64图片未落盘")
			}
		})
	}
}

func TestSubmit_EmptyArraysAreSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"objects":       []map[string]interface{}{},
			"relationships": []map[string]interface{}{},
		})
	}))
	defer server.Close()

	orch := newTestOrchestrator(t, server.URL)
	result, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{})
	if err != nil {
		t.Fatalf("空检测结果应视为成功, 实际返回错误: %v", err)
	}
	if result.Objects == nil || result.Relationships == nil {
		t.Error("归一化结果的切片不应为nil")
	}
	if len(result.Objects) != 0 || len(result.Relationships) != 0 {
		t.Errorf("Objects=%d Relationships=%d, want 0/0", len(result.Objects), len(result.Relationships))
	}
}

func TestSubmit_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "缺少检测结果字段", body: `{"job_id": "x"}`},
		{name: "非JSON响应", body: `<html>oops</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			orch := newTestOrchestrator(t, server.URL)
			_, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{})
			var se *SubmissionError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *SubmissionError", err)
			}
		})
	}
}

func TestSubmit_ErrorDetailPriority(t *testing.T) {
	t.Run("detail字段优先", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail": "model unavailable"}`))
		}))
		defer server.Close()

		orch := newTestOrchestrator(t, server.URL)
		_, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{})
		var se *SubmissionError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *SubmissionError", err)
		}
		if se.Error() != "model unavailable" {
			t.Errorf("错误消息 = %q, want %q", se.Error(), "model unavailable")
		}
	})

	t.Run("无detail时使用状态码文本", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("plain text error"))
		}))
		defer server.Close()

		orch := newTestOrchestrator(t, server.URL)
		_, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{})
		var se *SubmissionError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *SubmissionError", err)
		}
		if !strings.Contains(se.Error(), "503") {
			t.Errorf("错误消息 = %q, 应包含状态码", se.Error())
		}
	})

	t.Run("网络错误转换为提交错误", func(t *testing.T) {
		orch := newTestOrchestrator(t, "http://127.0.0.1:1")
		_, err := orch.Submit(context.Background(), testStagedFile(), RequestParams{})
		var se *SubmissionError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *SubmissionError", err)
		}
		if se.Error() == "" {
			t.Error("网络错误消息为空")
		}
	})
}

func TestSubmit_NoFile(t *testing.T) {
	orch := newTestOrchestrator(t, "http://127.0.0.1:1")

	tests := []struct {
		name   string
		staged *staging.StagedFile
	}{
		{name: "nil暂存文件", staged: nil},
		{name: "空数据", staged: &staging.StagedFile{Name: "empty.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.Submit(context.Background(), tt.staged, RequestParams{})
			if !errors.Is(err, ErrNoFile) {
				t.Errorf("err = %v, want ErrNoFile", err)
			}
		})
	}
}

func TestRequestParamsClamp(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{name: "低于下限", input: -0.5, expected: 0},
		{name: "高于上限", input: 1.5, expected: 1},
		{name: "正常值", input: 0.5, expected: 0.5},
		{name: "边界0", input: 0, expected: 0},
		{name: "边界1", input: 1, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := RequestParams{ConfidenceThreshold: tt.input}
			p.Clamp()
			if p.ConfidenceThreshold != tt.expected {
				t.Errorf("Clamp(%v) = %v, want %v", tt.input, p.ConfidenceThreshold, tt.expected)
			}
		})
	}
}

func TestDecodeInlineImage(t *testing.T) {
	raw := []byte("hello image bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	t.Run("裸base64", func(t *testing.T) {
		data, err := decodeInlineImage(encoded)
		if err != nil {
			t.Fatalf("decodeInlineImage() 返回错误: %v", err)
		}
		if !bytes.Equal(data, raw) {
			t.Errorf("解码结果 = %q, want %q", data, raw)
		}
	})

	t.Run("dataURL前缀", func(t *testing.T) {
		data, err := decodeInlineImage("data:image/png;base64," + encoded)
		if err != nil {
			t.Fatalf("decodeInlineImage() 返回错误: %v", err)
		}
		if !bytes.Equal(data, raw) {
			t.Errorf("解码结果 = %q, want %q", data, raw)
		}
	})

	t.Run("非法base64", func(t *testing.T) {
		if _, err := decodeInlineImage("!!!not-base64!!!"); err == nil {
			t.Error("非法base64未返回错误")
		}
	})

	t.Run("无base64标记的dataURL", func(t *testing.T) {
		if _, err := decodeInlineImage("data:image/png;charset=utf8,abc"); err == nil {
			t.Error("无效data URL未返回错误")
		}
	})
}
