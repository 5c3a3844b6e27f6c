package handler

import (
	"net/http"
	"strconv"

	"github.com/RoyXiang/streamgate/catalog"
	"github.com/RoyXiang/streamgate/common"
	"github.com/gorilla/mux"
)

var errBadCatalogID = common.NewError(common.KindBadRequest, "invalid catalog id", nil)

type ingestResponse struct {
	CatalogID int64          `json:"catalogId"`
	Stats     *catalog.Stats `json:"stats"`
}

func catalogID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadCatalogID
	}
	return id, nil
}

// IngestHandler drops the cached catalog and ingests it again synchronously.
func (gw *Gateway) IngestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := catalogID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	gw.invalidateCatalog(ctx, id)
	record, err := gw.catalogRecord(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_, stats, err := gw.ingestor.Ingest(ctx, record)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{CatalogID: id, Stats: stats})
}

func (gw *Gateway) InvalidateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := catalogID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	gw.invalidateCatalog(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
