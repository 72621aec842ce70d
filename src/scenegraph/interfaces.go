package scenegraph

import (
	"context"

	"github.com/gin-gonic/gin"
)

// SceneGraphService 定义场景图服务接口
type SceneGraphService interface {
	// 将场景图相关路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}
