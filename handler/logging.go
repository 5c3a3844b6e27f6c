package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/metrics"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// routeLabel names the matched route template. Raw paths carry sealed stream
// references and must stay out of logs and metric labels.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func LoggingMiddleware(next http.Handler) http.Handler {
	log := common.Log("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := wrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

		entry := log.WithFields(logrus.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": elapsed.Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
			"cache":       ww.Header().Get(headerCacheStatus),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("request served")
		default:
			entry.Info("request served")
		}
	})
}
