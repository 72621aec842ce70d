package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/artifact"
	"scenegraph-server-go/src/core/orchestrator"
	"scenegraph-server-go/src/core/staging"
	"scenegraph-server-go/src/core/utils"
)

// 推理服务连通性检查工具：生成一张测试图片直接提交给配置的推理服务，
// 用于在不启动完整HTTP服务的情况下验证配置和远端可用性
func main() {
	fmt.Println("=== 推理服务连通性检查 ===")

	// 加载配置
	config, path, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("使用配置文件: %s", path)

	logger, err := utils.NewLogger(config)
	if err != nil {
		log.Fatalf("创建日志记录器失败: %v", err)
	}
	defer logger.Close()

	selected := config.SelectedModule["Inference"]
	inferenceConfig, ok := config.Inference[selected]
	if !ok {
		log.Fatalf("未找到Inference配置: %s", selected)
	}

	fmt.Printf("推理服务配置:\n")
	fmt.Printf("  模块: %s\n", selected)
	fmt.Printf("  地址: %s\n", inferenceConfig.BaseURL)
	fmt.Printf("  超时: %d秒\n", inferenceConfig.Timeout)
	fmt.Printf("  置信度阈值: %.2f\n", inferenceConfig.ConfidenceThreshold)

	// 1. 基础HTTP可达性
	fmt.Printf("\n开始执行基础可达性检查...\n")
	if err := checkReachable(inferenceConfig.BaseURL); err != nil {
		fmt.Printf("❌ 基础可达性检查失败: %v\n", err)
	} else {
		fmt.Printf("✅ 基础可达性检查通过\n")
	}

	// 2. 完整提交链路
	fmt.Printf("\n开始执行完整提交检查...\n")
	if err := checkSubmit(config, &inferenceConfig, logger); err != nil {
		fmt.Printf("❌ 完整提交检查失败: %v\n", err)
		return
	}
	fmt.Printf("✅ 完整提交检查通过\n")
}

// checkReachable 只验证端点在HTTP层可达，不关心状态码
func checkReachable(url string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	fmt.Printf("  端点响应状态: %d\n", resp.StatusCode)
	return nil
}

// checkSubmit 走一遍暂存+提交的完整链路
func checkSubmit(config *configs.Config, inferenceConfig *configs.InferenceConfig, logger *utils.Logger) error {
	artifacts, err := artifact.NewStore(&config.Artifact, logger)
	if err != nil {
		return fmt.Errorf("初始化产物仓库失败: %v", err)
	}

	stager, err := staging.NewStager(&config.Upload, logger)
	if err != nil {
		return fmt.Errorf("初始化暂存组件失败: %v", err)
	}
	defer stager.Close()

	staged, err := stager.Select(makeTestImage(), "image/png", "connectivity_check.png")
	if err != nil {
		return fmt.Errorf("暂存测试图片失败: %v", err)
	}

	orch := orchestrator.NewOrchestrator(inferenceConfig, artifacts, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := orch.Submit(ctx, staged, orchestrator.RequestParams{
		ConfidenceThreshold: inferenceConfig.ConfidenceThreshold,
		UseFixedBoxes:       inferenceConfig.UseFixedBoxes,
	})
	if err != nil {
		return err
	}

	data, _ := json.MarshalIndent(map[string]interface{}{
		"job_id":        result.JobID,
		"objects":       len(result.Objects),
		"relationships": len(result.Relationships),
		"annotated":     !result.AnnotatedImage.IsZero(),
		"graph":         !result.GraphImage.IsZero(),
	}, "  ", "  ")
	fmt.Printf("  提交结果摘要: %s\n", data)
	return nil
}

// makeTestImage 生成一张64x64的渐变测试图片
func makeTestImage() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}
