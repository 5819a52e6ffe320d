package process

import (
	"os"
	"path/filepath"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/catalogfi/xswap/utils"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewFileLogger(uid string) *zap.Logger {
	loggerConfig := zap.NewProductionEncoderConfig()
	loggerConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	fileEncoder := zapcore.NewJSONEncoder(loggerConfig)
	logFile, _ := os.OpenFile(filepath.Join(utils.DefaultXswapLogs(), LogFile(uid)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	writer := zapcore.AddSync(logFile)
	defaultLogLevel := zapcore.DebugLevel
	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, writer, defaultLogLevel),
		zapcore.NewCore(fileEncoder, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger
}

// WithSentry mirrors error level entries of logger to Sentry. An empty dsn
// returns logger unchanged.
func WithSentry(logger *zap.Logger, dsn string) (*zap.Logger, error) {
	if dsn == "" {
		return logger, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{Dsn: dsn})
	if err != nil {
		return nil, err
	}
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		return nil, err
	}
	return zapsentry.AttachCoreToLogger(core, logger), nil
}
