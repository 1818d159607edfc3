package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOption 日志初始化配置
type LogOption struct {
	Format   string // 日志格式，支持 "console" 或 "json"
	LogDir   string // 日志目录（为空时仅输出到 stdout）
	Level    string // 日志级别：debug / info / warn / error
	Compress bool   // 是否压缩旧日志文件
}

var (
	mu     sync.Mutex
	sugar  *zap.SugaredLogger
	atomic = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// InitLogger 初始化全局日志器，进程启动时调用一次
func InitLogger(opt LogOption) error {
	mu.Lock()
	defer mu.Unlock()

	if err := atomic.UnmarshalText([]byte(levelOrDefault(opt.Level))); err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if opt.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	// stdout 始终输出；配置了 LogDir 时额外写滚动文件
	syncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if opt.LogDir != "" {
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opt.LogDir, "pipeit.log"),
			MaxSize:    128, // 单文件最大 128MB
			MaxBackups: 10,
			MaxAge:     14, // 保留 14 天
			Compress:   opt.Compress,
		}))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(syncers...), atomic)
	sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

// get 惰性获取日志器；未初始化时退化为控制台输出，避免测试环境里空指针
func get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		l, _ := zap.NewDevelopment(zap.AddCallerSkip(1))
		sugar = l.Sugar()
	}
	return sugar
}

func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { get().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

// Sync 进程退出前刷盘
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
}
