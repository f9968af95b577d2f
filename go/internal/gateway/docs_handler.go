package gateway

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcdev12/duelpad/go/internal/apierr"
	"github.com/mcdev12/duelpad/go/internal/docstore"
)

type collectionSet map[string]bool

func newCollectionSet(names []string) collectionSet {
	set := make(collectionSet, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func (s collectionSet) allowed(name string) bool {
	return s[name]
}

func writeCollectionNotFound(w http.ResponseWriter, collection string) {
	apierr.Write(w, http.StatusNotFound, apierr.CodeNotFound, fmt.Sprintf("unknown collection %q", collection))
}

// AddRequest is the body of POST /api/docs/{collection}.
type AddRequest struct {
	Data docstore.Fields `json:"data"`
}

// AddResponse carries the id of a new document.
type AddResponse struct {
	ID string `json:"id"`
}

// PatchRequest is the body of PATCH /api/docs/{collection}/{id}.
type PatchRequest struct {
	Updates         []docstore.Update `json:"updates"`
	ExpectedVersion *uint64           `json:"expectedVersion,omitempty"`
}

// QueryRequest is the body of POST /api/query/{collection}.
type QueryRequest struct {
	Filters []docstore.Filter `json:"filters"`
}

// QueryResponse lists matching documents.
type QueryResponse struct {
	Snapshots []docstore.Snapshot `json:"snapshots"`
}

// DocsHandler serves document reads and writes over HTTP.
type DocsHandler struct {
	store       docstore.Store
	collections collectionSet
}

func NewDocsHandler(store docstore.Store, collections collectionSet) *DocsHandler {
	return &DocsHandler{store: store, collections: collections}
}

// Routes mounts under /api.
func (h *DocsHandler) Routes(r chi.Router) {
	r.Route("/docs/{collection}", func(r chi.Router) {
		r.Use(h.checkCollection)
		r.Post("/", h.add)
		r.Get("/{id}", h.get)
		r.Patch("/{id}", h.patch)
		r.Delete("/{id}", h.delete)
	})
	r.With(h.checkCollection).Post("/query/{collection}", h.query)
}

func (h *DocsHandler) checkCollection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		collection := chi.URLParam(r, "collection")
		if !h.collections.allowed(collection) {
			writeCollectionNotFound(w, collection)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *DocsHandler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *DocsHandler) add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	id, err := h.store.Add(r.Context(), chi.URLParam(r, "collection"), req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddResponse{ID: id})
}

func (h *DocsHandler) patch(w http.ResponseWriter, r *http.Request) {
	var req PatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(req.Updates) == 0 {
		badRequest(w, "updates are required")
		return
	}
	var opts []docstore.UpdateOption
	if req.ExpectedVersion != nil {
		opts = append(opts, docstore.WithVersion(*req.ExpectedVersion))
	}

	snap, err := h.store.Update(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), req.Updates, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *DocsHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocsHandler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	snaps, err := h.store.Query(r.Context(), chi.URLParam(r, "collection"), req.Filters...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []docstore.Snapshot{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{Snapshots: snaps})
}
