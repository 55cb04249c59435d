package logger

import (
	"io"
	"os"
	"path/filepath"

	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Dir   string
	Level string
	// JSON switches logrus to the JSON formatter.
	JSON bool
}

// Setup points logrus at stdout plus a rotating app.log and returns the
// shared writer so the HTTP access log lands in the same place.
func Setup(opts Options) (io.Writer, error) {
	out := io.Writer(os.Stdout)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
			return nil, err
		}
		logFile := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "app.log"),
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, logFile)
	}

	logrus.SetOutput(out)
	SetLevel(opts.Level)
	if opts.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}

	return out, nil
}

// SetLevel falls back to info on an unknown level name.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

func FiberConfig(out io.Writer) fiberLogger.Config {
	return fiberLogger.Config{
		Output:     out,
		Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${locals:requestid} | ${error}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}
}
