package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/gorilla/websocket"
)

const (
	eventBackoffMin = time.Second
	eventBackoffMax = 30 * time.Second
)

type catalogEvent struct {
	Event     string `json:"event"`
	CatalogID int64  `json:"catalogId"`
}

// ListenToCatalogEvents follows the admin event feed at feedURL until ctx is
// done, reconnecting with backoff whenever the feed drops.
func (gw *Gateway) ListenToCatalogEvents(ctx context.Context, feedURL, token string) {
	if feedURL == "" {
		return
	}
	log := common.Log("events")
	header := http.Header{}
	if token != "" {
		header.Set(headerAuthorization, "Bearer "+token)
	}

	backoff := eventBackoffMin
	log.Info("Connecting to catalog event feed...")
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, feedURL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("catalog event feed unreachable, retrying")
			if !sleepContext(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > eventBackoffMax {
				backoff = eventBackoffMax
			}
			continue
		}

		backoff = eventBackoffMin
		log.Info("Receiving catalog events")
		gw.readCatalogEvents(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		log.Warn("catalog event feed closed unexpectedly, reconnecting...")
		if !sleepContext(ctx, eventBackoffMin) {
			return
		}
	}
}

func (gw *Gateway) readCatalogEvents(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var ev catalogEvent
		if err := conn.ReadJSON(&ev); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				gw.log.WithError(err).Debug("ignoring malformed catalog event")
				continue
			}
			return
		}
		gw.handleCatalogEvent(ctx, ev)
	}
}

func (gw *Gateway) handleCatalogEvent(ctx context.Context, ev catalogEvent) {
	if ev.CatalogID <= 0 {
		return
	}
	log := gw.log.WithField("catalog", ev.CatalogID).WithField("event", ev.Event)
	switch ev.Event {
	case eventCatalogCreated, eventCatalogUpdated:
		gw.invalidateCatalog(ctx, ev.CatalogID)
		if gw.reingest(ev.CatalogID) {
			log.Info("catalog refresh scheduled")
		}
	case eventCatalogDeleted:
		gw.invalidateCatalog(ctx, ev.CatalogID)
		log.Info("catalog cache dropped")
	default:
		log.Debug("ignoring catalog event")
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
