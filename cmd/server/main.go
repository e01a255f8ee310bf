package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"github.com/rl1809/resource-allocator/internal/adapter/auth"
	"github.com/rl1809/resource-allocator/internal/adapter/handler"
	"github.com/rl1809/resource-allocator/internal/adapter/storage"
	"github.com/rl1809/resource-allocator/internal/config"
	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/core/service"
	"github.com/rl1809/resource-allocator/internal/logger"
	"github.com/rl1809/resource-allocator/internal/port"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	root := &cli.Command{
		Name:  "resource-allocator",
		Usage: "Company resource request workflow",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			tokenCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and gRPC servers",
		Flags: config.Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.FromCommand(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, log)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mysql-dsn", Required: true, Sources: cli.EnvVars("MYSQL_DSN")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			db, err := openMySQL(ctx, cmd.String("mysql-dsn"))
			if err != nil {
				return err
			}
			defer db.Close()
			return storage.RunMigrations(ctx, db)
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for local use",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "jwt-secret", Required: true, Sources: cli.EnvVars("JWT_SECRET")},
			&cli.StringFlag{Name: "identity", Required: true, Usage: "caller identity, usually an email"},
			&cli.StringFlag{Name: "role", Required: true, Usage: "employee, manager or store"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			role, err := domain.ParseRole(cmd.String("role"))
			if err != nil {
				return err
			}
			token, err := auth.NewTokenVerifier(cmd.String("jwt-secret")).
				Sign(domain.Identity{ID: cmd.String("identity"), Role: role}, cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Initialize storage
	var store port.Store
	switch cfg.StoreBackend {
	case config.BackendMySQL:
		db, err := openMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := storage.RunMigrations(ctx, db); err != nil {
			return err
		}
		store = storage.NewMySQLAdapter(db)
		log.Info("connected to mysql")
	default:
		store = storage.NewMemoryStore()
		log.Info("using in-memory store")
	}

	// Initialize locks and idempotency keys
	var locker port.Locker
	var cache port.CacheRepository
	switch cfg.LockBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker = storage.NewRedisLocker(rdb, cfg.LockTimeout, cfg.LockTTL, log)
		cache = storage.NewRedisAdapter(rdb)
		log.Info("connected to redis")
	default:
		locker = storage.NewMemoryLocker(cfg.LockTimeout)
		cache = storage.NewMemoryCache()
	}

	// Start audit workers
	audit := service.NewAuditTrail(store, cfg.AuditQueueSize, log)
	audit.Start(cfg.AuditWorkers)

	workflow := service.NewWorkflow(store, locker,
		service.WithCache(cache),
		service.WithRecorder(audit),
		service.WithLogger(log),
	)
	verifier := auth.NewTokenVerifier(cfg.JWTSecret)

	// Initialize gRPC server
	grpcHandler := handler.NewGRPCHandler(workflow, verifier, log)
	grpcServer := grpc.NewServer(grpcHandler.ServerOptions()...)
	handler.RegisterAllocatorServer(grpcServer, grpcHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// Initialize HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpHandler := handler.NewHTTPHandler(workflow, verifier, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Drain pending audit events before the store goes away
	audit.Close()
	return nil
}

func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
