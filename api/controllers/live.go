package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const liveWriteTimeout = 5 * time.Second

type liveFrame struct {
	Collection string          `json:"collection"`
	Records    []models.Record `json:"records"`
}

// WatchRecords streams the collection over a websocket: one frame with the
// current records, then one after every local change or applied remote change.
func WatchRecords(resolve RecordResolver, origins []string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, orgID, ok := resolveRecords(w, r, resolve, logg)
		if !ok {
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(origins)})
		if err != nil {
			// Accept already wrote the handshake failure.
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "live.accept_failed")
			}
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
		defer cancel()

		collection := chi.URLParam(r, "collection")
		var writeErr error
		err = repo.Watch(ctx, orgID, func(records []models.Record) {
			if records == nil {
				records = []models.Record{}
			}
			wctx, wcancel := context.WithTimeout(ctx, liveWriteTimeout)
			defer wcancel()
			if err := wsjson.Write(wctx, conn, liveFrame{Collection: collection, Records: records}); err != nil {
				writeErr = err
				cancel()
			}
		})
		if err != nil {
			if logg != nil {
				logg.Error(r.Context(), "live.watch_failed", err)
			}
			conn.Close(websocket.StatusInternalError, "watch failed")
			return
		}
		if writeErr != nil && !errors.Is(writeErr, context.Canceled) {
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "error", writeErr.Error()), "live.write_failed")
			}
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// originPatterns turns CORS origins into the host patterns websocket.Accept
// matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, origin)
	}
	return out
}
