package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/model"
	"github.com/vyrodovalexey/items-api/internal/store"
)

// maxBodyBytes caps request bodies accepted by the item endpoints.
const maxBodyBytes = 1 << 20

// Route paths.
const (
	ItemsPath = "/items"
	ItemPath  = "/items/{name}"
)

// RESTHandler handles REST API requests for items.
type RESTHandler struct {
	store     store.Store
	publisher Publisher
	logger    *zap.Logger
}

// NewRESTHandler creates a new RESTHandler instance. publisher may be nil.
func NewRESTHandler(s store.Store, publisher Publisher, logger *zap.Logger) *RESTHandler {
	return &RESTHandler{
		store:     s,
		publisher: publisher,
		logger:    logger,
	}
}

// RegisterRoutes registers the item routes with the router.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(ItemsPath, h.ListItems).Methods(http.MethodGet)
	router.HandleFunc(ItemsPath, h.CreateItem).Methods(http.MethodPost)
	router.HandleFunc(ItemPath, h.GetItem).Methods(http.MethodGet)
	router.HandleFunc(ItemPath, h.UpdateItem).Methods(http.MethodPatch)
	router.HandleFunc(ItemPath, h.DeleteItem).Methods(http.MethodDelete)
}

// ListItems handles GET /items requests.
func (h *RESTHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context())
	if err != nil {
		h.handleStoreError(w, err, "list items")
		return
	}

	writeJSON(w, http.StatusOK, model.ItemsResponse{Items: items}, h.logger)
}

// CreateItem handles POST /items requests.
func (h *RESTHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var input model.CreateItemRequest
	if err := decodeBody(w, r, &input); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}

	if err := input.Validate(); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
		return
	}

	item := input.Item()
	created, err := h.store.Create(r.Context(), &item)
	if err != nil {
		h.handleStoreError(w, err, "create item")
		return
	}

	h.publish(model.NewItemCreatedEvent(*created))
	writeJSON(w, http.StatusCreated, model.AddedResponse{Added: *created}, h.logger)
}

// GetItem handles GET /items/{name} requests.
func (h *RESTHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	item, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.handleStoreError(w, err, "get item")
		return
	}

	writeJSON(w, http.StatusOK, item, h.logger)
}

// UpdateItem handles PATCH /items/{name} requests. The store reports an
// unknown name before an empty or invalid patch.
func (h *RESTHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	var patch model.ItemPatch
	if err := decodeBody(w, r, &patch); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}

	updated, err := h.store.Update(ctx, name, patch)
	if err != nil {
		h.handleStoreError(w, err, "update item")
		return
	}

	h.publish(model.NewItemUpdatedEvent(name, *updated))
	writeJSON(w, http.StatusOK, model.UpdatedResponse{Updated: *updated}, h.logger)
}

// DeleteItem handles DELETE /items/{name} requests.
func (h *RESTHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.store.Delete(r.Context(), name); err != nil {
		h.handleStoreError(w, err, "delete item")
		return
	}

	h.publish(model.NewItemDeletedEvent(name))
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: model.DeletedMessage}, h.logger)
}

// handleStoreError handles store errors and writes appropriate HTTP responses.
func (h *RESTHandler) handleStoreError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found", h.logger)
	case errors.Is(err, store.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid item name", h.logger)
	case errors.Is(err, model.ErrEmptyPatch), errors.Is(err, model.ErrValidation):
		h.logger.Warn("validation failed", zap.String("operation", operation), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
	case errors.Is(err, store.ErrNilItem):
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
	default:
		h.logger.Error("store operation failed", zap.String("operation", operation), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
	}
}

func (h *RESTHandler) publish(event model.ItemEvent) {
	if h.publisher == nil {
		return
	}
	h.publisher.Publish(event)
}

// errTrailingData reports content after the first JSON value of a body.
var errTrailingData = errors.New("request body must contain a single JSON object")

// decodeBody decodes a size-limited JSON body holding exactly one value into
// dst. An absent body yields io.EOF.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}
