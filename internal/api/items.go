package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/imaging"
	"github.com/erazemk/makhzan/internal/model"
	"github.com/erazemk/makhzan/internal/photos"
	"github.com/erazemk/makhzan/internal/store"
)

// ItemsHandler handles item endpoints.
type ItemsHandler struct {
	DB      *sql.DB
	Custody *custody.Service
	Photos  photos.Store
	Images  *imaging.Processor
}

type createItemRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ItemFilter{
		Status:   model.ItemStatus(q.Get("status")),
		Holder:   q.Get("holder"),
		Name:     q.Get("name"),
		Category: q.Get("category"),
	}
	if f.Status != "" && !f.Status.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	items, err := store.ListItems(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(items))
}

// Create handles POST /api/items. It adds quantity available units of one
// kind; quantity defaults to 1.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	res, err := h.Custody.AddItems(r.Context(), custody.NewItems{
		Name:     req.Name,
		Category: req.Category,
		Quantity: req.Quantity,
	})
	if err != nil {
		custodyError(w, err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("stock added", "user", claims.Name, "name", req.Name, "quantity", len(res.ItemIDs))
	jsonResponse(w, http.StatusCreated, res)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.lookup(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// lookup loads the item named by the {id} path value. It writes the error
// response itself and reports whether the caller should continue.
func (h *ItemsHandler) lookup(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	id := r.PathValue("id")
	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return nil, false
	}
	if item == nil {
		custodyError(w, &custody.NotFoundError{ItemID: id})
		return nil, false
	}
	return item, true
}

// Delete handles DELETE /api/items/{id}. Items in someone's custody must
// be returned first.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if item.Status.InCustody() {
		jsonError(w, http.StatusConflict, "item is held by "+item.CurrentHolder)
		return
	}

	if err := store.DeleteItem(r.Context(), h.DB, item.ID); err != nil {
		var nf *custody.NotFoundError
		if errors.As(err, &nf) {
			custodyError(w, err)
			return
		}
		slog.Error("failed to delete item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	if item.ImageMime != "" {
		if err := h.Photos.Delete(r.Context(), item.ID); err != nil {
			slog.Warn("failed to delete photo of deleted item", "item", item.ID, "error", err)
		}
	}

	claims := GetClaims(r.Context())
	slog.Info("item deleted", "user", claims.Name, "item", item.ID, "name", item.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadImage handles PUT /api/items/{id}/image.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.lookup(w, r)
	if !ok {
		return
	}

	maxBytes := h.Images.MaxBytes
	if maxBytes <= 0 {
		maxBytes = imaging.DefaultMaxBytes
	}
	// Headroom for the multipart envelope.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := h.Images.Process(file)
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		jsonError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Photos.Put(r.Context(), item.ID, photo.Data, photo.MIME); err != nil {
		slog.Error("failed to store photo", "item", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}
	if err := store.MarkItemImage(r.Context(), h.DB, item.ID, photo.MIME); err != nil {
		slog.Error("failed to mark item photo", "item", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "image uploaded",
		"width":   photo.Width,
		"height":  photo.Height,
	})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if item.ImageMime == "" {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	data, mime, err := h.Photos.Get(r.Context(), item.ID)
	if err != nil {
		slog.Error("failed to get photo", "item", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}
	if mime == "" {
		mime = item.ImageMime
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// GetHistory handles GET /api/items/{id}/history.
func (h *ItemsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := store.ListTransactions(r.Context(), h.DB, model.TransactionFilter{ItemID: id})
	if err != nil {
		slog.Error("failed to get item history", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get item history")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(history))
}
