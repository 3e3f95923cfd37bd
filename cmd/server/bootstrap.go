package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/idbridge/internal/api"
	"github.com/charlesng35/idbridge/internal/app"
	"github.com/charlesng35/idbridge/internal/app/maintenance"
	"github.com/charlesng35/idbridge/internal/database"
	"github.com/charlesng35/idbridge/internal/provider"
	"github.com/charlesng35/idbridge/internal/services"
	"github.com/charlesng35/idbridge/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Provider provider.Client
	Sweeper  *maintenance.Sweeper
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, provider client, background jobs,
// and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Provider, err = provider.NewHTTPClient(provider.Config{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		ReturnURL: cfg.Provider.ReturnURL,
		Timeout:   cfg.Provider.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise provider client: %w", err)
	}

	if cfg.Maintenance.Resync.Enabled {
		audit, auditErr := services.NewAuditService(stack.DB)
		if auditErr != nil {
			return nil, fmt.Errorf("initialise audit service: %w", auditErr)
		}
		store, storeErr := services.NewSessionStore(stack.DB, audit)
		if storeErr != nil {
			return nil, fmt.Errorf("initialise session store: %w", storeErr)
		}

		stack.Sweeper, err = maintenance.NewSweeper(store, stack.Provider,
			maintenance.WithSchedule(cfg.Maintenance.Resync.Schedule),
			maintenance.WithStaleAfter(cfg.Maintenance.Resync.StaleAfter),
			maintenance.WithBatchSize(cfg.Maintenance.Resync.BatchSize),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise resync sweeper: %w", err)
		}
		if err = stack.Sweeper.Start(); err != nil {
			return nil, fmt.Errorf("start resync sweeper: %w", err)
		}
		log.Info("resync sweeper started",
			zap.String("schedule", cfg.Maintenance.Resync.Schedule),
			zap.Duration("stale_after", cfg.Maintenance.Resync.StaleAfter))
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, stack.Provider)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases runtime resources in reverse dependency order.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s.Sweeper != nil {
		<-s.Sweeper.Stop().Done()
	}
	closeDatabase(s.DB, log)
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
