package scenegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/artifact"
	"scenegraph-server-go/src/core/auth"
	"scenegraph-server-go/src/core/orchestrator"
	"scenegraph-server-go/src/core/presenter"
	"scenegraph-server-go/src/core/staging"
	"scenegraph-server-go/src/core/store"
	"scenegraph-server-go/src/core/utils"
	"scenegraph-server-go/src/task"

	"github.com/gin-gonic/gin"
)

// DefaultSceneGraphService 场景图生成HTTP服务
type DefaultSceneGraphService struct {
	logger    *utils.Logger
	config    *configs.Config
	inference *configs.InferenceConfig

	orch      *orchestrator.Orchestrator
	artifacts *artifact.Store
	memory    *store.MemoryStore
	records   *store.RecordStore // 可选
	present   *presenter.Presenter
	tasks     *task.TaskManager
	hub       *EventHub
	authToken *auth.AuthToken
}

// NewDefaultSceneGraphService 构造函数
func NewDefaultSceneGraphService(
	config *configs.Config,
	orch *orchestrator.Orchestrator,
	artifacts *artifact.Store,
	memory *store.MemoryStore,
	records *store.RecordStore,
	present *presenter.Presenter,
	tasks *task.TaskManager,
	logger *utils.Logger,
) (*DefaultSceneGraphService, error) {
	selected := config.SelectedModule["Inference"]
	if selected == "" {
		return nil, fmt.Errorf("请设置好Inference服务配置")
	}
	inference, ok := config.Inference[selected]
	if !ok {
		return nil, fmt.Errorf("未找到Inference配置: %s", selected)
	}

	service := &DefaultSceneGraphService{
		logger:    logger,
		config:    config,
		inference: &inference,
		orch:      orch,
		artifacts: artifacts,
		memory:    memory,
		records:   records,
		present:   present,
		tasks:     tasks,
		hub:       NewEventHub(logger),
	}

	service.authToken = auth.NewAuthToken(config.Server.Token)

	// 注册异步提交的任务执行器
	task.RegisterTaskExecutor(task.TaskTypeSceneGraphSubmit, service.executeSubmitTask)

	return service, nil
}

// Start 实现 SceneGraphService 接口，注册所有场景图相关路由
func (s *DefaultSceneGraphService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.POST("/scene-graph", s.handleSubmit)
	apiGroup.POST("/scene-graph/async", s.handleAsyncSubmit)
	apiGroup.OPTIONS("/scene-graph", s.handleOptions)
	apiGroup.GET("/scene-graph/:job_id", s.handleGetResult)
	apiGroup.GET("/scene-graph/:job_id/ranked", s.handleGetRanked)
	apiGroup.GET("/scene-graph/:job_id/status", s.handleGetStatus)
	apiGroup.GET("/scene-graph/:job_id/events", s.handleEvents)
	apiGroup.GET("/artifacts/:filename", s.handleArtifact)
	apiGroup.GET("/health", s.handleHealth)

	s.logger.Info("场景图HTTP服务路由注册完成")
	return nil
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *DefaultSceneGraphService) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleHealth 健康检查
func (s *DefaultSceneGraphService) handleHealth(c *gin.Context) {
	s.addCORSHeaders(c)
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleSubmit 处理同步提交：暂存验证 → 推理 → 存储 → 返回结果
func (s *DefaultSceneGraphService) handleSubmit(c *gin.Context) {
	s.addCORSHeaders(c)

	if !s.checkAuth(c) {
		return
	}

	req, err := s.parseMultipartRequest(c)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	result, status, err := s.runSubmission(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, status, err.Error())
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{Success: true, Result: result})
}

// handleAsyncSubmit 处理异步提交：排队后立即返回作业ID
func (s *DefaultSceneGraphService) handleAsyncSubmit(c *gin.Context) {
	s.addCORSHeaders(c)

	if !s.checkAuth(c) {
		return
	}

	req, err := s.parseMultipartRequest(c)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	// 任务随连接取消没有意义，用独立context执行
	t, jobID := task.NewTask(context.Background(), task.TaskTypeSceneGraphSubmit, req)

	// 先发布pending再入队，工作者先完成也不会被pending覆盖
	s.hub.Publish(jobID, string(task.TaskStatusPending), "")

	if err := s.tasks.SubmitTask(req.ClientID, t); err != nil {
		s.hub.Publish(jobID, string(task.TaskStatusFailed), err.Error())
		s.respondError(c, http.StatusTooManyRequests, err.Error())
		return
	}
	s.logger.Info("异步提交已排队", map[string]interface{}{
		"job_id":    jobID,
		"client_id": req.ClientID,
	})

	c.JSON(http.StatusAccepted, AsyncSubmitResponse{
		Success: true,
		JobID:   jobID,
		Status:  string(task.TaskStatusPending),
	})
}

// executeSubmitTask 异步提交的任务执行器
// 任务ID即作业ID，结果重新挂到该ID下，前端用同一个ID订阅状态和取结果
func (s *DefaultSceneGraphService) executeSubmitTask(t *task.Task) error {
	req, ok := t.Params.(*SubmitRequest)
	if !ok {
		return fmt.Errorf("任务参数类型错误")
	}

	s.hub.Publish(t.ID, string(task.TaskStatusRunning), "")

	result, _, err := s.runSubmissionAs(t.Context, req, t.ID)
	if err != nil {
		s.hub.Publish(t.ID, string(task.TaskStatusFailed), err.Error())
		if s.records != nil {
			if recErr := s.records.SaveFailure(req.ClientID, t.ID, err.Error()); recErr != nil {
				s.logger.Warn(fmt.Sprintf("记录失败作业失败: %v", recErr))
			}
		}
		return err
	}

	t.Result = result
	s.hub.Publish(t.ID, string(task.TaskStatusComplete), "")
	return nil
}

// runSubmission 完整执行一次提交流水线
func (s *DefaultSceneGraphService) runSubmission(ctx context.Context, req *SubmitRequest) (*orchestrator.SceneGraphResult, int, error) {
	return s.runSubmissionAs(ctx, req, "")
}

// runSubmissionAs 执行提交流水线，jobID非空时结果重新挂到该ID下
func (s *DefaultSceneGraphService) runSubmissionAs(ctx context.Context, req *SubmitRequest, jobID string) (*orchestrator.SceneGraphResult, int, error) {
	// 暂存组件随本次提交创建和销毁，预览资源在所有退出路径上释放
	stager, err := staging.NewStager(&s.config.Upload, s.logger)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	defer stager.Close()

	staged, err := stager.Select(req.Image, req.MediaType, req.Filename)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	result, err := s.orch.Submit(ctx, staged, req.Params)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoFile) {
			return nil, http.StatusBadRequest, err
		}
		return nil, http.StatusBadGateway, err
	}

	if jobID != "" {
		result.JobID = jobID
	}

	// 完整构建后一次性发布，读端不会看到半成品
	s.memory.Put(result.JobID, result)

	if s.records != nil {
		if err := s.records.Save(req.ClientID, result); err != nil {
			s.logger.Warn(fmt.Sprintf("持久化作业记录失败: %v", err))
		}
	}

	return result, http.StatusOK, nil
}

// handleGetResult 按作业ID取回结果
func (s *DefaultSceneGraphService) handleGetResult(c *gin.Context) {
	s.addCORSHeaders(c)

	jobID := c.Param("job_id")
	result, err := s.present.Load(c.Request.Context(), jobID)
	if err != nil {
		s.respondError(c, http.StatusNotFound, fmt.Sprintf("未找到作业 %s 的结果", jobID))
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{Success: true, Result: result})
}

// handleGetRanked 返回按置信度排序的展示视图
func (s *DefaultSceneGraphService) handleGetRanked(c *gin.Context) {
	s.addCORSHeaders(c)

	jobID := c.Param("job_id")
	result, err := s.present.Load(c.Request.Context(), jobID)
	if err != nil {
		s.respondError(c, http.StatusNotFound, fmt.Sprintf("未找到作业 %s 的结果", jobID))
		return
	}

	c.JSON(http.StatusOK, RankedResponse{
		Success:                       true,
		JobID:                         result.JobID,
		RankedObjects:                 presenter.RankedObjects(result),
		RankedRelationships:           presenter.RankedRelationships(result),
		AverageObjectConfidence:       presenter.AverageObjectConfidence(result),
		AverageRelationshipConfidence: presenter.AverageRelationshipConfidence(result),
	})
}

// handleGetStatus 查询作业状态（主要用于异步提交的轮询）
func (s *DefaultSceneGraphService) handleGetStatus(c *gin.Context) {
	s.addCORSHeaders(c)

	jobID := c.Param("job_id")
	if event, ok := s.hub.Latest(jobID); ok {
		c.JSON(http.StatusOK, event)
		return
	}

	// 没有状态记录但结果在，说明是同步提交的作业
	if _, ok := s.memory.Get(jobID); ok {
		c.JSON(http.StatusOK, StatusEvent{JobID: jobID, Status: string(task.TaskStatusComplete)})
		return
	}

	s.respondError(c, http.StatusNotFound, fmt.Sprintf("未找到作业 %s", jobID))
}

// handleEvents 作业状态websocket订阅
func (s *DefaultSceneGraphService) handleEvents(c *gin.Context) {
	s.hub.HandleWS(c, c.Param("job_id"))
}

// handleArtifact 下载本地图片产物
func (s *DefaultSceneGraphService) handleArtifact(c *gin.Context) {
	s.addCORSHeaders(c)

	path, err := s.artifacts.Resolve(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "file not found"})
		return
	}
	c.File(path)
}

// parseMultipartRequest 解析multipart表单请求
func (s *DefaultSceneGraphService) parseMultipartRequest(c *gin.Context) (*SubmitRequest, error) {
	if err := c.Request.ParseMultipartForm(s.config.Upload.MaxFileSize); err != nil {
		return nil, fmt.Errorf("解析multipart表单失败: %v", err)
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("缺少图片文件: %v", err)
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取图片数据失败: %v", err)
	}
	if len(imageData) == 0 {
		return nil, fmt.Errorf("图片数据为空")
	}

	// 多数客户端对文件字段默认填 application/octet-stream，
	// 非image/*的声明一律视为未声明，按文件头推断实际格式
	mediaType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mediaType, "image/") {
		if format := staging.DetectImageFormat(imageData); format != "" {
			mediaType = "image/" + format
		}
	}

	params := orchestrator.RequestParams{
		ConfidenceThreshold: s.inference.ConfidenceThreshold,
		UseFixedBoxes:       s.inference.UseFixedBoxes,
	}
	if v := c.Request.FormValue("confidence_threshold"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("confidence_threshold 格式错误: %v", err)
		}
		params.ConfidenceThreshold = threshold
	}
	if v := c.Request.FormValue("use_fixed_boxes"); v != "" {
		useFixed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("use_fixed_boxes 格式错误: %v", err)
		}
		params.UseFixedBoxes = useFixed
	}

	return &SubmitRequest{
		Image:     imageData,
		MediaType: mediaType,
		Filename:  header.Filename,
		Params:    params,
		ClientID:  c.GetHeader("Client-Id"),
	}, nil
}

// checkAuth 验证认证token，未启用认证时直接放行
func (s *DefaultSceneGraphService) checkAuth(c *gin.Context) bool {
	if !s.config.Server.Auth.Enabled {
		return true
	}

	result, err := s.verifyAuth(c)
	if err != nil || !result.IsValid {
		s.respondError(c, http.StatusUnauthorized, "无效的认证token或token已过期")
		s.logger.Warn(fmt.Sprintf("场景图服务认证失败: %v", err))
		return false
	}
	return true
}

// verifyAuth 验证认证token
func (s *DefaultSceneGraphService) verifyAuth(c *gin.Context) (*AuthVerifyResult, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, fmt.Errorf("缺少Bearer token")
	}

	token := authHeader[7:] // 移除"Bearer "前缀

	isValid, clientID, err := s.authToken.VerifyToken(token)
	if err != nil || !isValid {
		return nil, fmt.Errorf("token验证失败: %v", err)
	}

	return &AuthVerifyResult{
		IsValid:  true,
		ClientID: clientID,
	}, nil
}

// addCORSHeaders 添加CORS头
func (s *DefaultSceneGraphService) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Headers", "client-id, content-type, authorization")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// respondError 返回错误响应
func (s *DefaultSceneGraphService) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, SubmitResponse{
		Success: false,
		Message: message,
	})
}
