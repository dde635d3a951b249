package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsvc "rfi-copilot/internal/app"
	"rfi-copilot/internal/bootstrap"
	"rfi-copilot/internal/transport/http/handler"
	"rfi-copilot/internal/transport/http/middleware"
)

// RouterOptions is everything the router needs; NewRouter fills it from the
// bootstrapped application.
type RouterOptions struct {
	GinMode      string
	AuthEnabled  bool
	JWTSecret    string
	MaxFileBytes int64
	MaxFiles     int
	Documents    *appsvc.DocumentService
	Contexts     *appsvc.ContextService
	Questions    *appsvc.QuestionService
	Health       *handler.HealthHandler
	Logger       *zap.Logger
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	return NewRouterWith(RouterOptions{
		GinMode:      app.Config.App.GinMode,
		AuthEnabled:  app.Config.Auth.Enabled,
		JWTSecret:    app.Config.Auth.JWTSecret,
		MaxFileBytes: app.Config.Upload.MaxFileBytes,
		MaxFiles:     app.Config.Upload.MaxFiles,
		Documents:    app.Documents,
		Contexts:     app.Contexts,
		Questions:    app.Questions,
		Health:       handler.NewHealthHandler(handler.HealthInfo{App: app.Config.App.Name, Env: app.Config.App.Env, StartedAt: app.StartedAt}, probes(app)...),
		Logger:       app.Logger,
	})
}

func probes(app *bootstrap.App) []handler.Probe {
	out := []handler.Probe{{Name: "database", Check: app.PingDatabase}}
	if app.Redis != nil {
		out = append(out, handler.Probe{Name: "redis", Check: app.PingRedis})
	}
	if app.MQConn != nil {
		out = append(out, handler.Probe{Name: "rabbitmq", Check: app.PingRabbitMQ})
	}
	return out
}

func NewRouterWith(opts RouterOptions) *gin.Engine {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(opts.Logger), middleware.Recovery(opts.Logger))
	if opts.MaxFileBytes > 0 && opts.MaxFiles > 0 {
		router.MaxMultipartMemory = opts.MaxFileBytes * int64(opts.MaxFiles)
	}

	if opts.Health != nil {
		router.GET("/healthz", opts.Health.Check)
	}

	documentHandler := handler.NewDocumentHandler(opts.Documents, opts.Questions, opts.MaxFileBytes)
	questionHandler := handler.NewQuestionHandler(opts.Questions)
	contextHandler := handler.NewContextHandler(opts.Contexts, opts.MaxFileBytes)

	v1 := router.Group("/api/v1")
	if opts.AuthEnabled {
		v1.Use(middleware.AuthJWT(opts.JWTSecret))
	}

	documentGroup := v1.Group("/documents")
	documentGroup.POST("", documentHandler.Upload)
	documentGroup.GET("", documentHandler.List)
	documentGroup.GET("/:id", documentHandler.Get)
	documentGroup.DELETE("/:id", documentHandler.Delete)
	documentGroup.GET("/:id/status", documentHandler.Status)
	documentGroup.POST("/:id/reprocess", documentHandler.Reprocess)
	documentGroup.GET("/:id/questions", documentHandler.Questions)
	documentGroup.GET("/:id/export", documentHandler.Export)

	questionGroup := v1.Group("/questions")
	questionGroup.GET("", questionHandler.List)
	questionGroup.GET("/export", questionHandler.Export)
	questionGroup.GET("/:id", questionHandler.Get)
	questionGroup.PUT("/:id", questionHandler.Update)
	questionGroup.DELETE("/:id", questionHandler.Delete)

	contextGroup := v1.Group("/contexts")
	contextGroup.POST("", contextHandler.Create)
	contextGroup.POST("/document", contextHandler.CreateFromDocument)
	contextGroup.POST("/url", contextHandler.CreateFromURL)
	contextGroup.GET("", contextHandler.List)
	contextGroup.GET("/:id", contextHandler.Get)
	contextGroup.DELETE("/:id", contextHandler.Delete)
	contextGroup.POST("/:id/reindex", contextHandler.Reindex)

	v1.POST("/search", contextHandler.Search)

	return router
}
