package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

var (
	log         = logrus.New()
	serviceName = "storefront-sync"
)

func init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(jsonFormatter())
	log.SetLevel(logrus.InfoLevel)
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// Setup applies level and format ("json" or "text"). Unknown levels fall back to info.
func Setup(level, format, service string) {
	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(jsonFormatter())
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	if service != "" {
		serviceName = service
	}
}

func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func Logger() *logrus.Logger {
	return log
}

// WithContext returns an entry carrying trace_id and span_id when ctx holds a span.
func WithContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{"service.name": serviceName}
	if ctx != nil {
		spanCtx := trace.SpanContextFromContext(ctx)
		if spanCtx.IsValid() {
			fields["trace_id"] = spanCtx.TraceID().String()
			fields["span_id"] = spanCtx.SpanID().String()
		}
	}
	return log.WithFields(fields)
}

func WithFields(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	return WithContext(ctx).WithFields(fields)
}
