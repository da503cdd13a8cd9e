package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Dev           bool
	NeedFileWrite bool
	LogPath       string
	FilePrefix    string
	Level         string
}

var (
	mu            sync.RWMutex
	consoleZapLog *zap.SugaredLogger
	fileZapLog    *zap.SugaredLogger
	cfg           Config
	atom          = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() {
	initConsoleZapLog()
}

func InitLogger(extendConfig Config) error {
	mu.Lock()
	defer mu.Unlock()
	cfg = extendConfig
	if err := SetLevel(cfg.Level); err != nil {
		return err
	}
	initConsoleZapLog()
	if cfg.NeedFileWrite {
		if err := initFileZapLogger(cfg.LogPath, cfg.FilePrefix); err != nil {
			return err
		}
	}
	return nil
}

// SetLevel accepts DEBUG, INFO, WARN or ERROR. Blank keeps the current level.
func SetLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	atom.SetLevel(l)
	return nil
}

func initConsoleZapLog() {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	// dev 模式带颜色
	if cfg.Dev {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), atom)
	consoleZapLog = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel)).Sugar()
}

func initFileZapLogger(logPath, prefix string) error {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	logf, err := rotatelogs.New(
		fmt.Sprintf("%s/%s", strings.TrimRight(logPath, "/"), prefix)+"%Y-%m-%d.log",
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("open rotating log under %s: %w", logPath, err)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logf), atom)
	fileZapLog = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel)).Sugar()
	return nil
}

// ReplaceCore swaps the console core and drops file output; returns a restore func.
// Tests use it together with zaptest/observer.
func ReplaceCore(core zapcore.Core) func() {
	mu.Lock()
	prevConsole, prevFile, prevCfg := consoleZapLog, fileZapLog, cfg
	consoleZapLog = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	fileZapLog = nil
	cfg = Config{}
	mu.Unlock()
	return func() {
		mu.Lock()
		consoleZapLog, fileZapLog, cfg = prevConsole, prevFile, prevCfg
		mu.Unlock()
	}
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = consoleZapLog.Sync()
	if fileZapLog != nil {
		_ = fileZapLog.Sync()
	}
}

func Debugf(template string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if cfg.Dev {
		consoleZapLog.Debug(color.MagentaString(template, args...))
	} else {
		consoleZapLog.Debugf(template, args...)
	}
	if fileZapLog != nil {
		fileZapLog.Debugf(template, args...)
	}
}

func Infof(template string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if cfg.Dev {
		consoleZapLog.Info(color.GreenString(template, args...))
	} else {
		consoleZapLog.Infof(template, args...)
	}
	if fileZapLog != nil {
		fileZapLog.Infof(template, args...)
	}
}

func Warnf(template string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if cfg.Dev {
		consoleZapLog.Warn(color.YellowString(template, args...))
	} else {
		consoleZapLog.Warnf(template, args...)
	}
	if fileZapLog != nil {
		fileZapLog.Warnf(template, args...)
	}
}

func Errorf(template string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if cfg.Dev {
		consoleZapLog.Error(color.RedString(template, args...))
	} else {
		consoleZapLog.Errorf(template, args...)
	}
	if fileZapLog != nil {
		fileZapLog.Errorf(template, args...)
	}
}
