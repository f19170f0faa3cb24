package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"datavault/internal/audit"
	"datavault/internal/lifecycle"
	"datavault/internal/platform/middleware"
	"datavault/internal/registry"
	"datavault/internal/transport/http/shared"
	respond "datavault/internal/transport/http/shared/json"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

// InventoryService defines the personal data operations the transport layer needs.
type InventoryService interface {
	Create(ctx context.Context, ownerID id.OwnerID, input registry.CreateInput, meta audit.Meta) (*registry.Item, error)
	List(ctx context.Context, ownerID id.OwnerID, filter registry.Filter) ([]*registry.Item, error)
	Get(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, reveal bool, meta audit.Meta) (*registry.Item, error)
	Update(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, fieldValue string, meta audit.Meta) (*registry.Item, error)
	SoftDelete(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, meta audit.Meta) error
	EraseAll(ctx context.Context, ownerID id.OwnerID, meta audit.Meta) (registry.EraseResult, error)
	Stats(ctx context.Context, ownerID id.OwnerID) (registry.Stats, error)
}

// ExportService defines the portability operations the transport layer needs.
type ExportService interface {
	ExportAll(ctx context.Context, ownerID id.OwnerID, format string, meta audit.Meta) ([]byte, error)
}

// DataHandler handles personal data inventory endpoints.
type DataHandler struct {
	logger    *slog.Logger
	inventory InventoryService
	exports   ExportService
}

// NewDataHandler creates a new DataHandler.
func NewDataHandler(inventory InventoryService, exports ExportService, logger *slog.Logger) *DataHandler {
	return &DataHandler{
		logger:    logger,
		inventory: inventory,
		exports:   exports,
	}
}

// Register registers the data routes. Static segments are registered before
// the id wildcard.
func (h *DataHandler) Register(r chi.Router) {
	r.Post("/data", h.handleCreate)
	r.Get("/data", h.handleList)
	r.Get("/data/stats", h.handleStats)
	r.Get("/data/categories/list", h.handleCategories)
	r.Get("/data/export/all", h.handleExportAll)
	r.Delete("/data/delete-all/confirm", h.handleEraseAll)
	r.Get("/data/{id}", h.handleGet)
	r.Put("/data/{id}", h.handleUpdate)
	r.Delete("/data/{id}", h.handleDelete)
}

type createItemRequest struct {
	Category       string `json:"category"`
	FieldName      string `json:"fieldName"`
	FieldValue     string `json:"fieldValue"`
	Purpose        string `json:"purpose"`
	Source         string `json:"source"`
	DataController string `json:"dataController"`
	RetentionDays  int    `json:"retentionDays"`
}

type updateItemRequest struct {
	FieldValue string `json:"fieldValue"`
}

type itemResponse struct {
	ID             string    `json:"id"`
	Category       string    `json:"category"`
	FieldName      string    `json:"fieldName"`
	FieldValue     string    `json:"fieldValue"`
	Purpose        string    `json:"purpose"`
	Source         string    `json:"source"`
	DataController string    `json:"dataController"`
	RetentionDays  int       `json:"retentionDays"`
	CollectedAt    time.Time `json:"collectedAt"`
	IsActive       bool      `json:"isActive"`
}

func (h *DataHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode create data request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	item, err := h.inventory.Create(ctx, ownerID, registry.CreateInput{
		Category:       registry.Category(req.Category),
		FieldName:      req.FieldName,
		FieldValue:     req.FieldValue,
		Purpose:        req.Purpose,
		Source:         req.Source,
		DataController: req.DataController,
		RetentionDays:  req.RetentionDays,
	}, requestMeta(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create data item",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusCreated, formatItem(item))
}

func (h *DataHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	var filter registry.Filter
	if categoryParam := r.URL.Query().Get("category"); categoryParam != "" {
		category := registry.Category(categoryParam)
		if !category.IsValid() {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid category filter"))
			return
		}
		filter.Category = &category
	}
	filter.Search = r.URL.Query().Get("search")

	items, err := h.inventory.List(ctx, ownerID, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list data items",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  formatItems(items),
		"count": len(items),
	})
}

func (h *DataHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	stats, err := h.inventory.Stats(ctx, ownerID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute data stats",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, stats)
}

func (h *DataHandler) handleCategories(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]any{"categories": registry.Categories})
}

func (h *DataHandler) handleExportAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = lifecycle.FormatJSON
	}

	payload, err := h.exports.ExportAll(ctx, ownerID, format, requestMeta(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to export data",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	writeExport(w, format, "data-export", payload)
}

func (h *DataHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	itemID, err := id.ParseItemID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid data item id"))
		return
	}
	reveal := r.URL.Query().Get("reveal") == "true"

	item, err := h.inventory.Get(ctx, ownerID, itemID, reveal, requestMeta(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to get data item",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, formatItem(item))
}

func (h *DataHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	itemID, err := id.ParseItemID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid data item id"))
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	item, err := h.inventory.Update(ctx, ownerID, itemID, req.FieldValue, requestMeta(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to update data item",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, formatItem(item))
}

func (h *DataHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	itemID, err := id.ParseItemID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid data item id"))
		return
	}

	if err := h.inventory.SoftDelete(ctx, ownerID, itemID, requestMeta(ctx)); err != nil {
		h.logger.WarnContext(ctx, "failed to erase data item",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]string{"message": "Data item erased"})
}

func (h *DataHandler) handleEraseAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	result, err := h.inventory.EraseAll(ctx, ownerID, requestMeta(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to erase all data",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Erased %d data item%s", result.ErasedCount, pluralSuffix(result.ErasedCount)),
		"result":  result,
	})
}

func formatItem(item *registry.Item) itemResponse {
	return itemResponse{
		ID:             item.ID.String(),
		Category:       string(item.Category),
		FieldName:      item.FieldName,
		FieldValue:     item.FieldValue,
		Purpose:        item.Purpose,
		Source:         item.Source,
		DataController: item.DataController,
		RetentionDays:  item.RetentionDays,
		CollectedAt:    item.CollectedAt,
		IsActive:       item.IsActive,
	}
}

func formatItems(items []*registry.Item) []itemResponse {
	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, formatItem(item))
	}
	return resp
}

// writeExport sets download headers; format is validated by the service.
func writeExport(w http.ResponseWriter, format, name string, payload []byte) {
	switch format {
	case lifecycle.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", name))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", name))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func pluralSuffix(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}
