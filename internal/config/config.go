package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/urfave/cli/v3"
)

const (
	BackendMemory = "memory"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	StoreBackend   string
	MySQLDSN       string
	LockBackend    string
	RedisAddr      string
	JWTSecret      string
	LockTimeout    time.Duration
	LockTTL        time.Duration
	AuditWorkers   int
	AuditQueueSize int
	LogLevel       string
}

// Flags lists the server flags. Every flag can also be set from the
// environment variable named in its Sources.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "http-addr", Value: ":8080", Usage: "HTTP listen address", Sources: cli.EnvVars("HTTP_ADDR")},
		&cli.StringFlag{Name: "grpc-addr", Value: ":50051", Usage: "gRPC listen address", Sources: cli.EnvVars("GRPC_ADDR")},
		&cli.StringFlag{Name: "store-backend", Value: BackendMemory, Usage: "memory or mysql", Sources: cli.EnvVars("STORE_BACKEND")},
		&cli.StringFlag{Name: "mysql-dsn", Usage: "MySQL DSN, parseTime=true is required", Sources: cli.EnvVars("MYSQL_DSN")},
		&cli.StringFlag{Name: "lock-backend", Value: BackendMemory, Usage: "memory or redis", Sources: cli.EnvVars("LOCK_BACKEND")},
		&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", Usage: "Redis address for locks and idempotency keys", Sources: cli.EnvVars("REDIS_ADDR")},
		&cli.StringFlag{Name: "jwt-secret", Usage: "HS256 secret for bearer tokens", Sources: cli.EnvVars("JWT_SECRET")},
		&cli.DurationFlag{Name: "lock-timeout", Value: 2 * time.Second, Usage: "max wait for an entity lock", Sources: cli.EnvVars("LOCK_TIMEOUT")},
		&cli.DurationFlag{Name: "lock-ttl", Value: 10 * time.Second, Usage: "expiry of a held redis lock", Sources: cli.EnvVars("LOCK_TTL")},
		&cli.IntFlag{Name: "audit-workers", Value: 4, Usage: "audit trail writers", Sources: cli.EnvVars("AUDIT_WORKERS")},
		&cli.IntFlag{Name: "audit-queue-size", Value: 1024, Usage: "audit events buffered before dropping", Sources: cli.EnvVars("AUDIT_QUEUE_SIZE")},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "logrus level", Sources: cli.EnvVars("LOG_LEVEL")},
	}
}

func FromCommand(cmd *cli.Command) Config {
	return Config{
		HTTPAddr:       cmd.String("http-addr"),
		GRPCAddr:       cmd.String("grpc-addr"),
		StoreBackend:   cmd.String("store-backend"),
		MySQLDSN:       cmd.String("mysql-dsn"),
		LockBackend:    cmd.String("lock-backend"),
		RedisAddr:      cmd.String("redis-addr"),
		JWTSecret:      cmd.String("jwt-secret"),
		LockTimeout:    cmd.Duration("lock-timeout"),
		LockTTL:        cmd.Duration("lock-ttl"),
		AuditWorkers:   cmd.Int("audit-workers"),
		AuditQueueSize: cmd.Int("audit-queue-size"),
		LogLevel:       cmd.String("log-level"),
	}
}

func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory:
	case BackendMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("mysql-dsn is required for the mysql store"))
		} else if dsn, err := mysql.ParseDSN(c.MySQLDSN); err != nil {
			errs = append(errs, fmt.Errorf("mysql-dsn: %w", err))
		} else if !dsn.ParseTime {
			errs = append(errs, errors.New("mysql-dsn must set parseTime=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}

	switch c.LockBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis-addr is required for redis locks"))
		}
		if c.LockTTL <= c.LockTimeout {
			errs = append(errs, errors.New("lock-ttl must exceed lock-timeout"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock backend %q", c.LockBackend))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt-secret is required"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock-timeout must be positive"))
	}
	if c.AuditWorkers < 1 {
		errs = append(errs, errors.New("audit-workers must be at least 1"))
	}
	if c.AuditQueueSize < 1 {
		errs = append(errs, errors.New("audit-queue-size must be at least 1"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
