// Package loggers hands out per-module loggers with individually
// configured levels.
package loggers

import (
	"github.com/sirupsen/logrus"

	"github.com/meshplus/wasmcore/internal/repo"
)

const (
	Executor = "executor"
	Cache    = "cache"
	Backend  = "backend"
	Host     = "host"
	App      = "app"
)

var w *loggerWrapper

type loggerWrapper struct {
	loggers map[string]*logrus.Entry
}

func Initialize(config *repo.Config) {
	m := make(map[string]*logrus.Entry)
	m[Executor] = newWithModule(Executor, config.Log.Module.Executor, config.Log.ReportCaller)
	m[Cache] = newWithModule(Cache, config.Log.Module.Cache, config.Log.ReportCaller)
	m[Backend] = newWithModule(Backend, config.Log.Module.Backend, config.Log.ReportCaller)
	m[Host] = newWithModule(Host, config.Log.Module.Host, config.Log.ReportCaller)
	m[App] = newWithModule(App, config.Log.Level, config.Log.ReportCaller)

	w = &loggerWrapper{loggers: m}
}

func newWithModule(name string, level string, reportCaller bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(parseLevel(level))
	logger.SetReportCaller(reportCaller)
	return logger.WithField("module", name)
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Logger returns the named module logger. Initialize must have run; a
// missing name falls back to a fresh default logger instead of nil so a
// misnamed module never panics a log call.
func Logger(name string) logrus.FieldLogger {
	if w == nil {
		return logrus.New()
	}
	if l, ok := w.loggers[name]; ok {
		return l
	}
	return logrus.New()
}
