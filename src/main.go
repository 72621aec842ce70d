package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/configs/database"
	"scenegraph-server-go/src/core/artifact"
	"scenegraph-server-go/src/core/orchestrator"
	"scenegraph-server-go/src/core/presenter"
	"scenegraph-server-go/src/core/providers/summary"
	"scenegraph-server-go/src/core/store"
	"scenegraph-server-go/src/core/utils"
	"scenegraph-server-go/src/scenegraph"
	"scenegraph-server-go/src/task"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

// BuildPipeline 组装提交流水线的全部组件
func BuildPipeline(config *configs.Config, logger *utils.Logger) (*scenegraph.DefaultSceneGraphService, *task.TaskManager, error) {
	selected := config.SelectedModule["Inference"]
	inferenceConfig, ok := config.Inference[selected]
	if !ok {
		return nil, nil, fmt.Errorf("请设置好Inference服务配置")
	}

	artifacts, err := artifact.NewStore(&config.Artifact, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化产物仓库失败: %w", err)
	}

	orch := orchestrator.NewOrchestrator(&inferenceConfig, artifacts, logger)

	// 可选的场景描述生成器
	if selectedSummary := config.SelectedModule["Summary"]; selectedSummary != "" {
		summaryConfig, ok := config.Summary[selectedSummary]
		if !ok {
			return nil, nil, fmt.Errorf("未找到Summary配置: %s", selectedSummary)
		}
		provider, err := summary.NewProvider(&summaryConfig, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("创建场景描述生成器失败: %v", err))
		} else {
			orch.SetSummarizer(provider)
			logger.Info(fmt.Sprintf("场景描述生成器 %s 初始化成功", selectedSummary))
		}
	}

	memory := store.NewMemoryStore()

	// 数据库可选，未配置DATABASE_URL时只用内存存储
	var records *store.RecordStore
	db, dbType, err := database.InitDB()
	if err != nil {
		return nil, nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	if db != nil {
		records, err = store.NewRecordStore(db, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化作业记录索引失败: %w", err)
		}
		logger.Info(fmt.Sprintf("作业记录索引已启用 (%s)", dbType))
	}

	present := presenter.NewPresenter(memory, records, inferenceConfig.StatusURL, logger)

	taskManager := task.NewTaskManager(task.ResourceConfig{
		MaxWorkers:        config.Task.MaxWorkers,
		MaxTasksPerClient: config.Task.MaxTasksPerClient,
	})
	taskManager.SetJanitor(func() {
		if err := artifacts.Cleanup(); err != nil {
			logger.Warn(fmt.Sprintf("产物清理失败: %v", err))
		}
	})

	service, err := scenegraph.NewDefaultSceneGraphService(
		config, orch, artifacts, memory, records, present, taskManager, logger)
	if err != nil {
		return nil, nil, err
	}

	return service, taskManager, nil
}

func StartHttpServer(config *configs.Config, service *scenegraph.DefaultSceneGraphService, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies([]string{"0.0.0.0"})

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")
	if err := service.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("场景图服务启动失败", err)
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://0.0.0.0:%d", config.Server.Port))

		// 在单独的 goroutine 中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP服务关闭失败", err)
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务启动失败", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group) {
	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// 等待信号
	sig := <-sigChan
	logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))

	// 取消上下文，通知所有服务开始关闭
	cancel()

	// 等待所有服务关闭，设置超时保护
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("服务关闭过程中出现错误", err)
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

func main() {
	// 加载配置和初始化日志系统
	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}

	// 加载 .env 文件
	err = godotenv.Load()
	if err != nil {
		logger.Warn("未找到 .env 文件，使用系统环境变量")
	}

	// 组装提交流水线
	service, taskManager, err := BuildPipeline(config, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("组装流水线失败: %v", err))
		os.Exit(1)
	}

	// 启动异步任务组件
	taskManager.Start()
	defer taskManager.Stop()

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 用 errgroup 管理服务
	g, groupCtx := errgroup.WithContext(ctx)

	if _, err := StartHttpServer(config, service, logger, g, groupCtx); err != nil {
		logger.Error("启动服务失败:", err)
		cancel()
		os.Exit(1)
	}

	// 启动优雅关机处理
	GracefulShutdown(cancel, logger, g)

	logger.Info("程序已成功退出")
}
