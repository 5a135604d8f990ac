package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Qrinee/m2backend/internal/api/handlers"
	"github.com/Qrinee/m2backend/internal/api/middleware"
	"github.com/Qrinee/m2backend/internal/captcha"
	"github.com/Qrinee/m2backend/internal/config"
	"github.com/Qrinee/m2backend/internal/db"
	"github.com/Qrinee/m2backend/internal/email"
	"github.com/Qrinee/m2backend/internal/metrics"
	"github.com/Qrinee/m2backend/internal/models"
	"github.com/Qrinee/m2backend/internal/services"
	"github.com/Qrinee/m2backend/internal/storage"
)

// Services bundles the domain services shared by the API and the task processor.
type Services struct {
	Users         services.IUserService
	Listings      services.IListingService
	Inquiries     services.IInquiryService
	Reels         services.IReelService
	Blogs         services.IBlogService
	Resets        services.IPasswordResetService
	Notifications services.INotificationService
}

// NewServices wires the services against one database and email sender.
func NewServices(database *mongo.Database, cfg *config.Config, sender email.Sender) *Services {
	users := services.NewUserService(database, cfg)
	listings := services.NewListingService(database, cfg)
	notifications := services.NewNotificationService(cfg, sender, services.NewEmailTemplateService(database))
	return &Services{
		Users:         users,
		Listings:      listings,
		Inquiries:     services.NewInquiryService(database, cfg, listings, users, notifications),
		Reels:         services.NewReelService(database, cfg),
		Blogs:         services.NewBlogService(database, cfg),
		Resets:        services.NewPasswordResetService(database, cfg, users, notifications),
		Notifications: notifications,
	}
}

// SetupRouter configures and returns the main Gin engine. mediaQueue may be nil.
// The rate limiter's cleanup goroutine stops when ctx is done.
func SetupRouter(ctx context.Context, cfg *config.Config, database *mongo.Database, svc *Services, local storage.ILocalStorage, mediaQueue handlers.MediaQueue) *gin.Engine {
	captchaVerifier := captcha.NewTurnstileVerifier(cfg)
	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg)
	authn := middleware.NewAuthenticator(cfg.JwtSecret, svc.Users)
	media := handlers.NewMedia(local, storage.DefaultPolicies(cfg), mediaQueue)

	r := gin.Default()

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigin))
	r.Use(metrics.GinMiddleware())
	r.Use(middleware.CaptchaMiddleware(cfg, captchaVerifier, captcha.ScopeBrowse))
	r.Use(rateLimiter.Limit())

	r.Static("/"+storage.PublicPrefix, local.Root())
	r.NoRoute(handlers.NotFound)

	healthHandler := handlers.NewHealthHandler(func(ctx context.Context) error { return db.Ping(ctx, database) })
	authHandler := handlers.NewAuthHandler(cfg, svc.Users, svc.Resets, media)
	listingHandler := handlers.NewListingHandler(cfg, svc.Listings, media)
	inquiryHandler := handlers.NewInquiryHandler(svc.Inquiries, media)
	reelHandler := handlers.NewReelHandler(svc.Reels, media)
	blogHandler := handlers.NewBlogHandler(svc.Blogs, media)
	userHandler := handlers.NewUserHandler(svc.Users, media)

	// Public forms need an intake-scoped human token to get past the soft limit.
	intakeHuman := middleware.CaptchaMiddleware(cfg, captchaVerifier, captcha.ScopeIntake)
	intake := rateLimiter.LimitIntake()
	requireAuth := authn.Required()
	optionalAuth := authn.Optional()
	adminOnly := authn.Admin()

	apiGroup := r.Group("/api")
	apiGroup.GET("/health", healthHandler.Health)

	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/register", intakeHuman, intake, authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/logout", requireAuth, authHandler.Logout)
		authGroup.GET("/me", requireAuth, authHandler.Me)
		authGroup.PUT("/profile", requireAuth, authHandler.UpdateProfile)
		authGroup.DELETE("/profile/picture", requireAuth, authHandler.DeleteProfilePicture)
		authGroup.PUT("/change-password", requireAuth, authHandler.ChangePassword)
		authGroup.POST("/reset-password-request", intakeHuman, intake, authHandler.RequestPasswordReset)
		authGroup.POST("/reset-password", intakeHuman, intake, authHandler.ResetPassword)
	}

	properties := apiGroup.Group("/properties")
	{
		properties.GET("", optionalAuth, listingHandler.List)
		properties.GET("/filters/options", listingHandler.FilterOptions)
		properties.GET("/search/advanced", listingHandler.AdvancedSearch)
		properties.GET("/search/popular", listingHandler.Popular)
		properties.GET("/user/:userId", listingHandler.ListByOwner)
		properties.GET("/admin/all", adminOnly, listingHandler.AdminList)
		properties.GET("/admin/stats", adminOnly, listingHandler.AdminStats)
		properties.PUT("/admin/:id/status", adminOnly, listingHandler.AdminSetStatus)
		properties.GET("/:id", optionalAuth, listingHandler.Get)
		properties.POST("", requireAuth, listingHandler.Create)
		properties.PUT("/:id", requireAuth, listingHandler.Update)
		properties.DELETE("/:id", requireAuth, listingHandler.Delete)
		properties.PATCH("/:id/cover", requireAuth, listingHandler.SetCover)
	}

	inquiry := apiGroup.Group("/inquiry")
	{
		inquiry.POST("", intakeHuman, intake, inquiryHandler.Submit(models.FormTypeProperty))
		inquiry.POST("/contact", intakeHuman, intake, inquiryHandler.Submit(models.FormTypeContact))
		inquiry.POST("/partner", intakeHuman, intake, inquiryHandler.Submit(models.FormTypePartner))
		inquiry.POST("/employee", intakeHuman, intake, inquiryHandler.Submit(models.FormTypeEmployee))
		inquiry.POST("/loan-inquiry", intakeHuman, intake, inquiryHandler.Submit(models.FormTypeLoan))
		inquiry.POST("/property-submission", intakeHuman, intake, inquiryHandler.Submit(models.FormTypePropertySubmission))
		registerSubmissionRoutes(inquiry.Group("/submissions", adminOnly), inquiryHandler)
	}

	// /api/emails predates /api/inquiry and is kept for existing clients.
	emails := apiGroup.Group("/emails")
	{
		emails.POST("/loan-inquiry", intakeHuman, intake, inquiryHandler.Submit(models.FormTypeLoan))
		emails.POST("/property-submission", intakeHuman, intake, inquiryHandler.Submit(models.FormTypePropertySubmission))
		registerSubmissionRoutes(emails.Group("/submissions", adminOnly), inquiryHandler)
	}

	blog := apiGroup.Group("/blog")
	{
		blog.GET("", blogHandler.List)
		blog.GET("/archive/years", blogHandler.Archive)
		blog.GET("/:id", blogHandler.Get)
		blog.POST("", adminOnly, blogHandler.Create)
		blog.PUT("/:id", adminOnly, blogHandler.Update)
		blog.DELETE("/:id", adminOnly, blogHandler.Delete)
	}

	reels := apiGroup.Group("/reels")
	{
		reels.GET("", requireAuth, reelHandler.List)
		reels.GET("/public/all", reelHandler.ListPublic)
		reels.GET("/user/moje", requireAuth, reelHandler.ListMine)
		reels.GET("/admin/stats", adminOnly, reelHandler.Stats)
		reels.GET("/:id", optionalAuth, reelHandler.Get)
		reels.POST("", requireAuth, reelHandler.Create)
		reels.PUT("/:id", requireAuth, reelHandler.Update)
		reels.PATCH("/:id/status", requireAuth, reelHandler.SetStatus)
		reels.DELETE("/:id", requireAuth, reelHandler.Delete)
	}

	users := apiGroup.Group("/users")
	{
		users.GET("", adminOnly, userHandler.List)
		users.GET("/team/admins", userHandler.Team)
		users.GET("/:id", requireAuth, userHandler.Get)
		users.PUT("/:id", requireAuth, userHandler.Update)
		users.DELETE("/:id", adminOnly, userHandler.Delete)
		users.POST("/:id/upload", requireAuth, userHandler.UploadPicture)
	}

	return r
}

func registerSubmissionRoutes(g *gin.RouterGroup, h *handlers.InquiryHandler) {
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.PATCH("/:id/status", h.SetStatus)
	g.POST("/:id/contacted", h.MarkContacted)
	g.PATCH("/:id/priority", h.SetPriority)
	g.PATCH("/:id/assign", h.Assign)
	g.POST("/:id/tags", h.AddTags)
	g.POST("/:id/notes", h.AddNote)
}

// SetupServiceRouter configures and returns the service Gin engine.
// It serves the Prometheus metrics and the internal control API.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled.")
			}
		case "getTestEmail":
			getTestEmail(c, rdb, req.Arguments)
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// getTestEmail polls Redis briefly for an email captured by the mock sender.
// Arguments are ["templateId", "email"].
func getTestEmail(c *gin.Context, rdb *redis.Client, rawArgs json.RawMessage) {
	var args []string
	if err := json.Unmarshal(rawArgs, &args); err != nil || len(args) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [templateId, email]"})
		return
	}
	redisKey := email.MockEmailKey(args[1], args[0])

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var emailJSON string
	found := false
	for i := 0; i < 10; i++ {
		var err error
		emailJSON, err = rdb.Get(ctx, redisKey).Result()
		if err == nil {
			found = true
			rdb.Del(ctx, redisKey)
			break
		}
		if err != redis.Nil {
			log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
		return
	}

	var emailData map[string]interface{}
	if err := json.Unmarshal([]byte(emailJSON), &emailData); err != nil {
		log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})
}
