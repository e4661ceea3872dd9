package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/accessgrant"
	"github.com/carebridge/consent-api/internal/consentrequest"
	"github.com/carebridge/consent-api/internal/notification"
	"github.com/carebridge/consent-api/internal/scope"
	"github.com/carebridge/consent-api/internal/sweeper"
	"github.com/carebridge/consent-api/internal/system/config"
	"github.com/carebridge/consent-api/internal/system/constants"
	"github.com/carebridge/consent-api/internal/system/database"
	"github.com/carebridge/consent-api/internal/system/database/provider"
	"github.com/carebridge/consent-api/internal/system/log"
	"github.com/carebridge/consent-api/internal/system/middleware"
	"github.com/carebridge/consent-api/internal/system/stores"
)

// services groups the module services wired by registerServices.
type services struct {
	consentRequest consentrequest.ConsentRequestService
	accessGrant    accessgrant.AccessGrantService
	notification   notification.NotificationService
}

// newStoreRegistry builds every store on the shared client.
func newStoreRegistry(dbClient provider.DBClientInterface) *stores.StoreRegistry {
	return stores.NewStoreRegistry(
		dbClient,
		consentrequest.NewStore(dbClient),
		accessgrant.NewStore(dbClient),
		notification.NewStore(dbClient),
	)
}

// newServices builds the module services without registering routes.
func newServices(registry *stores.StoreRegistry) *services {
	notificationService := notification.NewNotificationService(registry, nil)
	return &services{
		consentRequest: consentrequest.NewConsentRequestService(registry, notificationService, nil),
		accessGrant:    accessgrant.NewAccessGrantService(registry, nil),
		notification:   notificationService,
	}
}

// newEngine creates the gin engine with the shared middleware chain.
func newEngine(cfg *config.Config) *gin.Engine {
	if log.GetLogger().Level() != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationIDMiddleware())
	engine.Use(middleware.RequestLogger())
	if cfg.CORS.Enabled {
		engine.Use(middleware.CORSMiddleware(middleware.CORSOptionsFromConfig(cfg.CORS)))
	}
	return engine
}

// registerServices initializes every module and registers its routes.
func registerServices(
	engine *gin.Engine,
	cfg *config.Config,
	db *database.DB,
	registry *stores.StoreRegistry,
) *services {
	logger := log.GetLogger()

	public := engine.Group(constants.APIBasePath)
	public.GET("/health", healthHandler(db))
	scope.RegisterRoutes(public)

	api := engine.Group(constants.APIBasePath)
	api.Use(middleware.Authenticate(cfg.Security))

	svc := &services{}

	svc.notification = notification.Initialize(api, registry, nil)
	logger.Info("Notification module initialized")

	svc.accessGrant = accessgrant.Initialize(api, registry, nil)
	logger.Info("AccessGrant module initialized")

	// Consent requests notify through the notification module.
	svc.consentRequest = consentrequest.Initialize(api, registry, svc.notification, nil)
	logger.Info("ConsentRequest module initialized")

	return svc
}

// newSweeper builds the expiration sweeper on top of the module services.
func newSweeper(cfg *config.Config, svc *services) *sweeper.Sweeper {
	return sweeper.New(svc.consentRequest, svc.accessGrant, sweeper.Config{
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
	}, nil)
}

func healthHandler(db *database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}
