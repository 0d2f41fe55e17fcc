package logger

import (
	"context"
	"encoding/json"
	"sync"

	"certdeploy/pkg/core/consts"

	"github.com/openzipkin/zipkin-go"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

type Log struct {
	*logrus.Entry
}

var (
	log *Log
	mu  sync.Mutex
)

func newLogrus(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(level)
	return logger
}

func InitLogger(level string) *Log {
	mu.Lock()
	defer mu.Unlock()

	logLevel := logrus.InfoLevel
	switch level {
	case "debug":
		logLevel = logrus.DebugLevel
	case "warn":
		logLevel = logrus.WarnLevel
	case "error":
		logLevel = logrus.ErrorLevel
	case "info":
		logLevel = logrus.InfoLevel
	}

	log = &Log{Entry: logrus.NewEntry(newLogrus(logLevel))}
	return log
}

func GetLogger() *Log {
	mu.Lock()
	defer mu.Unlock()
	if log != nil {
		return log
	}
	return &Log{Entry: logrus.NewEntry(newLogrus(logrus.DebugLevel))}
}

func (l *Log) WithField(key string, value interface{}) *Log {
	return &Log{l.Entry.WithField(key, value)}
}

func (l *Log) GetLogger() *logrus.Entry {
	return l.Entry
}

func (l *Log) WithFields(arg interface{}) *Log {
	var jsonMap map[string]interface{}
	bytes, err := json.Marshal(arg)
	if err != nil {
		return l.WithField("arg", arg)
	}
	err = json.Unmarshal(bytes, &jsonMap)
	if err != nil {
		return l.WithField("arg", arg)
	}

	return &Log{l.Entry.WithFields(jsonMap)}
}

func (l *Log) WithEntryName(entryName string) *Log {
	return l.WithField("EntryName", entryName)
}

func (l *Log) WithErr(err error) *Log {
	if err == nil {
		return l
	}
	return l.WithField("Err", err.Error())
}

func (l *Log) WithTrace(ctx context.Context) *Log {
	var traceID string
	span := zipkin.SpanFromContext(ctx)
	if span == nil {
		var ok bool
		if traceID, ok = ctx.Value(consts.TraceKey).(string); !ok {
			traceID = uuid.NewV4().String()
		}
	} else {
		traceID = span.Context().TraceID.String()
	}
	return l.WithField("TraceId", traceID)
}

// WithCertificate 附加托管证书标识
func (l *Log) WithCertificate(id, name string) *Log {
	return &Log{l.Entry.WithFields(logrus.Fields{"CertId": id, "CertName": name})}
}

func (l *Log) WithTask(taskName string) *Log {
	return l.WithField("Task", taskName)
}
