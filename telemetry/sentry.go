// Package telemetry reports errors and panics to Sentry. Every function is
// safe to call when Sentry is disabled.
package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/getsentry/sentry-go"
)

// InitSentry enables reporting. An empty dsn leaves Sentry disabled.
func InitSentry(dsn, release string) error {
	if dsn == "" {
		common.Log("telemetry").Info("SENTRY_DSN not set, error reporting disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: true,
		Tags: map[string]string{
			"service": "streamgate",
		},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return scrub(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func Flush() {
	sentry.Flush(2 * time.Second)
}

// Recoverer reports panics with request context and responds 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetRequest(r)
			hub.Scope().SetTag("panic", "true")

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			hub.CaptureException(err)
			common.Log("http").WithError(err).WithField("path", r.URL.Path).Error("recovered from panic")

			w.WriteHeader(http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// scrub drops credentials and client addresses before events leave the process.
func scrub(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}
	event.User.IPAddress = ""
	if event.Request != nil {
		for k := range event.Request.Headers {
			switch k {
			case "Authorization", "Cookie", "X-Forwarded-For", "X-Real-Ip":
				event.Request.Headers[k] = "[redacted]"
			}
		}
		event.Request.Cookies = ""
		event.Request.QueryString = ""
	}
	return event
}
