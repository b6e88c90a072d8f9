// Package db opens the PostgreSQL connection backing the checkout journal
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

// Options contains the configuration of the database connection
type Options struct {
	URI    string
	Logger *zap.Logger

	MaxIdleConns  int
	MaxOpenConns  int
	SlowThreshold time.Duration
}

type quietLogger struct {
	zapgorm2.Logger
}

// Trace skips ErrRecordNotFound: managers treat it as "no record", not a failure worth reporting
func (l *quietLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// New returns a gorm handle over PostgreSQL with a bounded pool
func New(option Options) (*gorm.DB, error) {
	if option.URI == "" {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.MaxIdleConns == 0 {
		option.MaxIdleConns = 1
	}
	if option.MaxOpenConns == 0 {
		option.MaxOpenConns = 20
	}
	if option.SlowThreshold == 0 {
		option.SlowThreshold = time.Second
	}

	conn, err := gorm.Open(postgres.Open(option.URI), &gorm.Config{
		Logger: &quietLogger{
			Logger: zapgorm2.Logger{
				ZapLogger:     option.Logger.With(zap.String("Component", "db")),
				LogLevel:      gormlogger.Warn,
				SlowThreshold: option.SlowThreshold,
			},
		},
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to database")
	}
	pool, err := conn.DB()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(option.MaxIdleConns)
	pool.SetMaxOpenConns(option.MaxOpenConns)

	return conn, nil
}

// Ping checks the database answers within ctx
func Ping(ctx context.Context, conn *gorm.DB) error {
	pool, err := conn.DB()
	if err != nil {
		return extErrors.Wrap(err, "Cannot get the connection pool")
	}
	return pool.PingContext(ctx)
}
