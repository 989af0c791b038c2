package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunLogPrefix and RunLogLayout name the per-run plaintext log files:
// run-20060102-150405.log.
const (
	RunLogPrefix = "run-"
	RunLogLayout = "20060102-150405"
)

// RunLog is the plaintext log file kept for one invocation of the driver.
type RunLog struct {
	Path   string
	Logger *zap.Logger
	file   *os.File
}

// NewRunLog creates dir if needed, opens a timestamped log file in it and
// returns a logger that writes to both base and the file.
func NewRunLog(base *zap.Logger, dir string, at time.Time) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, RunLogPrefix+at.Format(RunLogLayout)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), zap.DebugLevel)

	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))

	return &RunLog{Path: path, Logger: logger, file: f}, nil
}

// Close flushes and closes the underlying file.
func (r *RunLog) Close() error {
	_ = r.Logger.Sync()
	return r.file.Close()
}

// LatestRunLog returns the newest run log in dir.
func LatestRunLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, RunLogPrefix+"*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no run logs found in %s", dir)
	}
	// The timestamp layout sorts lexically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
