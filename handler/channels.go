package handler

import (
	"net/http"
	"strconv"

	"github.com/RoyXiang/streamgate/catalog"
	"github.com/gorilla/mux"
)

// ChannelsHandler lists the session's catalog. Playable URLs are replaced with
// sealed gateway URLs so the upstream never reaches the client.
func (gw *Gateway) ChannelsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)
	query := r.URL.Query()

	var filter catalog.Type
	if raw := query.Get("type"); raw != "" {
		t, ok := catalog.ParseType(raw)
		if !ok {
			writeError(w, r, errBadType)
			return
		}
		filter = t
	}
	onlyFavorites, _ := strconv.ParseBool(query.Get("favorites"))

	record, err := gw.catalogRecord(ctx, sess.CatalogID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := gw.ingestor.Entries(ctx, record)
	if err != nil {
		writeError(w, r, err)
		return
	}

	favorites := map[string]bool{}
	ids, err := gw.favorites.ListFavorites(ctx, sess.KeyCode)
	if err != nil {
		gw.log.WithError(err).Warn("favorites unavailable")
	}
	for _, id := range ids {
		favorites[id] = true
	}

	base := gw.publicBase(r)
	channels := make([]catalog.Entry, 0, len(entries))
	for _, e := range entries {
		if filter != "" && e.Type != filter {
			continue
		}
		e.Favorite = favorites[e.ID]
		if onlyFavorites && !e.Favorite {
			continue
		}
		if e.PlayableURL, err = gw.streamURL(base, sess.CatalogID, e.PlayableURL); err != nil {
			writeError(w, r, err)
			return
		}
		channels = append(channels, e)
	}

	stats, _ := gw.ingestor.Stats(ctx, sess.CatalogID)
	writeJSON(w, http.StatusOK, channelsResponse{Channels: channels, Stats: stats})
}

func (gw *Gateway) FavoriteHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)
	id := mux.Vars(r)["id"]

	record, err := gw.catalogRecord(ctx, sess.CatalogID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := gw.ingestor.Entries(ctx, record)
	if err != nil {
		writeError(w, r, err)
		return
	}
	known := false
	for _, e := range entries {
		if e.ID == id {
			known = true
			break
		}
	}
	if !known {
		writeError(w, r, errEntryNotFound)
		return
	}

	favorite, err := gw.favorites.ToggleFavorite(ctx, sess.KeyCode, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{ID: id, Favorite: favorite})
}

func (gw *Gateway) ServersHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, gw.selector.Snapshot())
}

func (gw *Gateway) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
