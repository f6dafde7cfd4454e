package app

import (
	"homework_eval_backend/docs"
	"homework_eval_backend/internal/config"
	"homework_eval_backend/internal/middleware"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/monitoring"
	"homework_eval_backend/pkg/security"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// 单个学生每分钟最多发起的提交次数
const submitPerMinute = 10

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	if cfg.Server.Mode != "release" {
		docs.SwaggerInfo.BasePath = "/api"
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))
	}

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		a.registerHomeworkRoutes(authGroup, c)
	}
}

func (a *App) registerHomeworkRoutes(rg *gin.RouterGroup, c *controllers) {
	homework := rg.Group("/homework/:id")
	{
		homework.GET("", c.homework.GetHomework)

		submissions := homework.Group("/submissions")
		{
			submissions.POST("",
				middleware.RoleMiddleware(util.RoleStudent),
				security.RateLimiter(submitPerMinute, time.Minute, middleware.UserKey),
				c.submission.Submit)
			submissions.GET("/me", c.submission.GetMine)
			submissions.GET("/me/status", c.submission.Status)
		}
	}
}
