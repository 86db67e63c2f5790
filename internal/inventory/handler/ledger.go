package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/pharmacy-ledger/internal/inventory/store"
	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/internal/session"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/i18n"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
	"github.com/medflow/pharmacy-ledger/pkg/tenant"
)

// StoreProvider returns the inventory store of a pharmacy
type StoreProvider interface {
	Store(ctx context.Context, pharmacyID string) (*store.InventoryStore, error)
}

// LedgerHandler exposes the inventory store of the caller's pharmacy.
// Every endpoint accepts ?month=YYYY-MM to work on that month instead of the
// store's selected one. Only PUT /selection changes the selection.
type LedgerHandler struct {
	stores StoreProvider
	logger *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(stores StoreProvider, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		stores: stores,
		logger: log,
	}
}

// Routes mounts the ledger endpoints. The session middleware must run first.
func (h *LedgerHandler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(session.RequirePermission(permissions.InventoryRead))
		r.Get("/selection", h.GetSelection)
		r.Get("/items", h.ListItems)
		r.Get("/consumption", h.Consumption)
		r.Get("/shortages", h.Shortages)
	})

	r.Group(func(r chi.Router) {
		r.Use(session.RequirePermission(permissions.InventoryWrite))
		r.Put("/selection", h.PutSelection)
		r.Post("/items", h.AddItem)
		r.Patch("/items/{index}", h.UpdateItem)
		r.Delete("/items/{index}", h.DeleteItem)
		r.Post("/save", h.Save)
	})

	r.With(session.RequirePermission(permissions.InventoryRollover)).Post("/rollover", h.Rollover)
}

// SelectionResponse describes the active month of a pharmacy's store
type SelectionResponse struct {
	PharmacyID  string          `json:"pharmacyId"`
	MonthKey    ledger.MonthKey `json:"monthKey"`
	Year        int             `json:"year"`
	Month       int             `json:"month"`
	DaysInMonth int             `json:"daysInMonth"`
	Pending     bool            `json:"pending"`
	LastError   string          `json:"lastError,omitempty"`
}

// SelectionRequest changes the active month
type SelectionRequest struct {
	Year  int `json:"year" validate:"required,gte=1,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

// RolloverResponse reports a completed rollover
type RolloverResponse struct {
	FromMonth ledger.MonthKey  `json:"fromMonth"`
	ToMonth   ledger.MonthKey  `json:"toMonth"`
	Items     []store.ItemView `json:"items"`
}

// GradedShortagesResponse is the graded list with its totals
type GradedShortagesResponse struct {
	Policy  ledger.Policy           `json:"policy"`
	Items   []ledger.GradedShortage `json:"items"`
	Summary ledger.ShortageSummary  `json:"summary"`
}

// SimpleShortagesResponse is the simple shortage list
type SimpleShortagesResponse struct {
	Policy ledger.Policy           `json:"policy"`
	Items  []ledger.SimpleShortage `json:"items"`
}

// GetSelection returns the active month
func (h *LedgerHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}
	httputil.JSON(w, http.StatusOK, selectionOf(r, st, key))
}

// PutSelection changes the active month
func (h *LedgerHandler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := httputil.DecodeJSONLocalized(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	st, _, ok := h.storeFor(w, r)
	if !ok {
		return
	}
	key := ledger.NewMonthKey(req.Year, req.Month)
	if err := st.SetActiveMonth(r.Context(), key); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, selectionOf(r, st, key))
}

// ListItems lists the active month's items with balances
func (h *LedgerHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}

	items := st.ItemsIn(key)
	httputil.JSONWithMeta(w, http.StatusOK, items, meta(r, st, key, len(items)))
}

// AddItem appends a blank item to the active month
func (h *LedgerHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}

	index, err := st.AddItemIn(r.Context(), key)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, viewAt(st, key, index))
}

// UpdateItem applies a partial update to one item
func (h *LedgerHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	var patch store.ItemPatch
	if err := httputil.DecodeJSONLocalized(r, &patch); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}
	if patch.Empty() {
		httputil.ErrorLocalized(w, r, errors.BadRequest("no fields to update"))
		return
	}

	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}
	if err := st.UpdateItemIn(r.Context(), key, index, patch); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, viewAt(st, key, index))
}

// DeleteItem removes one item
func (h *LedgerHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}
	if err := st.DeleteItemIn(r.Context(), key, index); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// Save writes the month immediately
func (h *LedgerHandler) Save(w http.ResponseWriter, r *http.Request) {
	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}
	if err := st.SaveIn(r.Context(), key); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, selectionOf(r, st, key))
}

// Rollover carries the month into the next one
func (h *LedgerHandler) Rollover(w http.ResponseWriter, r *http.Request) {
	st, from, ok := h.storeFor(w, r)
	if !ok {
		return
	}

	next, err := st.RolloverFrom(r.Context(), from)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	h.logger.Info().
		Str("pharmacy_id", st.PharmacyID()).
		Str("from_month", from.String()).
		Str("to_month", next.String()).
		Msg("rollover requested")

	httputil.JSON(w, http.StatusOK, RolloverResponse{
		FromMonth: from,
		ToMonth:   next,
		Items:     store.BuildViews(st.MonthItems(next)),
	})
}

// Consumption returns per-item consumption across all loaded months
func (h *LedgerHandler) Consumption(w http.ResponseWriter, r *http.Request) {
	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}

	history := st.Consumption()
	httputil.JSONWithMeta(w, http.StatusOK, history, meta(r, st, key, len(history)))
}

// Shortages classifies the month with ?policy=simple|graded
func (h *LedgerHandler) Shortages(w http.ResponseWriter, r *http.Request) {
	policy, valid := ledger.ParsePolicy(r.URL.Query().Get("policy"))
	if !valid {
		httputil.ErrorLocalized(w, r, errors.BadRequest("policy must be simple or graded"))
		return
	}

	st, key, ok := h.storeFor(w, r)
	if !ok {
		return
	}

	if policy == ledger.PolicyGraded {
		list := st.GradedShortagesIn(key)
		httputil.JSONWithMeta(w, http.StatusOK, GradedShortagesResponse{
			Policy:  policy,
			Items:   list,
			Summary: ledger.Summarize(list),
		}, meta(r, st, key, len(list)))
		return
	}

	list := st.SimpleShortagesIn(key)
	httputil.JSONWithMeta(w, http.StatusOK, SimpleShortagesResponse{
		Policy: policy,
		Items:  list,
	}, meta(r, st, key, len(list)))
}

// storeFor resolves the caller's store and the month the request works on:
// ?month when given, else the store's selection. It writes the error
// response itself and reports false when the request is done.
func (h *LedgerHandler) storeFor(w http.ResponseWriter, r *http.Request) (*store.InventoryStore, ledger.MonthKey, bool) {
	pharmacyID, err := tenant.PharmacyID(r.Context())
	if err != nil {
		httputil.ErrorLocalized(w, r, errors.NoPharmacySelected())
		return nil, "", false
	}

	st, err := h.stores.Store(r.Context(), pharmacyID)
	if err != nil {
		h.logger.Error().Err(err).Str("pharmacy_id", pharmacyID).Msg("failed to open inventory store")
		httputil.ErrorLocalized(w, r, err)
		return nil, "", false
	}

	month := r.URL.Query().Get("month")
	if month == "" {
		return st, st.Selection(), true
	}

	key, err := ledger.ParseMonthKey(month)
	if err != nil {
		httputil.ErrorLocalized(w, r, errors.InvalidMonth(month))
		return nil, "", false
	}
	if err := st.RefreshMonth(r.Context(), key); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return nil, "", false
	}

	return st, key, true
}

func meta(r *http.Request, st *store.InventoryStore, key ledger.MonthKey, total int) *httputil.Meta {
	return &httputil.Meta{
		PharmacyID: st.PharmacyID(),
		MonthKey:   key.String(),
		Total:      total,
		Warning:    st.LastErrorIn(i18n.LocalizerFromContext(r.Context())),
	}
}

func selectionOf(r *http.Request, st *store.InventoryStore, key ledger.MonthKey) SelectionResponse {
	return SelectionResponse{
		PharmacyID:  st.PharmacyID(),
		MonthKey:    key,
		Year:        key.Year(),
		Month:       key.Month(),
		DaysInMonth: key.DaysInMonth(),
		Pending:     st.Pending(),
		LastError:   st.LastErrorIn(i18n.LocalizerFromContext(r.Context())),
	}
}

// viewAt returns the item at index of key, or nil if a concurrent delete removed it.
func viewAt(st *store.InventoryStore, key ledger.MonthKey, index int) *store.ItemView {
	views := st.ItemsIn(key)
	if index < 0 || index >= len(views) {
		return nil
	}
	return &views[index]
}

func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, errors.BadRequest("item index must be a non-negative integer")
	}
	return index, nil
}
