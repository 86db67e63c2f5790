package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/internal/inventory/handler"
	"github.com/medflow/pharmacy-ledger/internal/inventory/realtime"
	"github.com/medflow/pharmacy-ledger/internal/inventory/repository"
	"github.com/medflow/pharmacy-ledger/internal/inventory/service"
	"github.com/medflow/pharmacy-ledger/internal/inventory/store"
	"github.com/medflow/pharmacy-ledger/internal/inventory/validation"
	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/internal/session"
	"github.com/medflow/pharmacy-ledger/pkg/config"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/i18n"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
	"github.com/medflow/pharmacy-ledger/pkg/testutil"
)

const base = "/api/v1/ledger"

type envelope[T any] struct {
	Success bool                `json:"success"`
	Data    T                   `json:"data"`
	Meta    *httputil.Meta      `json:"meta"`
	Error   *httputil.ErrorBody `json:"error"`
}

type ledgerAPI struct {
	router   http.Handler
	repo     *repository.MemorySnapshots
	tokens   *session.Manager
	writer   string
	readOnly string
}

func newLedgerAPI(t *testing.T) *ledgerAPI {
	t.Helper()

	repo := repository.NewMemorySnapshots()
	hub := realtime.NewHub(logger.Nop())
	persistence := service.NewSnapshotPersistence(repo, nil, hub, logger.Nop())
	ledgerService := service.NewLedgerService(persistence, validation.New(), store.Options{
		UpdateDebounce: 10 * time.Millisecond,
		WriteDelay:     time.Millisecond,
	}, logger.Nop())
	t.Cleanup(func() { _ = ledgerService.Shutdown(context.Background()) })

	tokens := session.NewManager(&config.JWTConfig{Secret: "handler-secret", Issuer: "medflow"})

	r := chi.NewRouter()
	r.Use(i18n.Middleware)
	r.Route(base, func(r chi.Router) {
		r.Use(session.Middleware(session.NewChecker(tokens), logger.Nop()))
		handler.NewLedgerHandler(ledgerService, logger.Nop()).Routes(r)
	})

	api := &ledgerAPI{router: r, repo: repo, tokens: tokens}
	api.writer = api.issue(t, []string{"inventory.*"})
	api.readOnly = api.issue(t, []string{permissions.InventoryRead})
	return api
}

func (a *ledgerAPI) issue(t *testing.T, perms []string) string {
	t.Helper()
	token, err := a.tokens.Issue(session.Identity{
		UserID:      "user-1",
		Name:        "Dana",
		Role:        "pharmacist",
		Permissions: perms,
		PharmacyID:  "ph-1",
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *ledgerAPI) do(token, method, path string, body interface{}) *httptest.ResponseRecorder {
	req := testutil.WithBearer(testutil.NewHTTPRequest(method, base+path, body), token)
	return testutil.ExecuteRequest(a.router, req)
}

func (a *ledgerAPI) seed(t *testing.T, key ledger.MonthKey, items ...ledger.InventoryItem) {
	t.Helper()
	require.NoError(t, a.repo.Save(context.Background(), &repository.Snapshot{
		PharmacyID: "ph-1",
		MonthKey:   key,
		Items:      items,
	}))
}

func (a *ledgerAPI) persisted(key ledger.MonthKey) []ledger.InventoryItem {
	snap, err := a.repo.Get(context.Background(), "ph-1", key)
	if err != nil {
		return nil
	}
	return snap.Items
}

func namedItem(name string, opening ledger.Qty, dispense map[int]ledger.Qty) ledger.InventoryItem {
	item := ledger.NewItem()
	item.Name = name
	item.Opening = opening
	for day, qty := range dispense {
		item.DailyDispense[day] = qty
	}
	return item
}

func strPtr(s string) *string { return &s }

func qtyPtr(q ledger.Qty) *ledger.Qty { return &q }

func TestLedgerHandler_AddAndUpdateItem(t *testing.T) {
	api := newLedgerAPI(t)

	rr := api.do(api.writer, http.MethodGet, "/items?month=2024-03", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var empty envelope[[]store.ItemView]
	testutil.ParseJSONBody(t, rr, &empty)
	assert.Empty(t, empty.Data)
	require.NotNil(t, empty.Meta)
	assert.Equal(t, "ph-1", empty.Meta.PharmacyID)
	assert.Equal(t, "2024-03", empty.Meta.MonthKey)

	rr = api.do(api.writer, http.MethodPost, "/items?month=2024-03", nil)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	var created envelope[store.ItemView]
	testutil.ParseJSONBody(t, rr, &created)
	assert.Equal(t, 0, created.Data.Index)

	patch := store.ItemPatch{
		Name:           strPtr("Metformin"),
		Opening:        qtyPtr(50),
		DailyDispense:  ledger.DayMap{1: 5, 2: 7},
		DailyIncoming:  ledger.DayMap{3: 10},
		IncomingSource: ledger.SourceMap{3: ledger.SourceFactory},
	}
	rr = api.do(api.writer, http.MethodPatch, "/items/0?month=2024-03", patch)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var updated envelope[store.ItemView]
	testutil.ParseJSONBody(t, rr, &updated)
	assert.Equal(t, "Metformin", updated.Data.Item.Name)
	assert.Equal(t, 12, updated.Data.Dispensed)
	assert.Equal(t, 10, updated.Data.Incoming)
	assert.Equal(t, 48, updated.Data.Remaining)

	assert.Eventually(t, func() bool {
		items := api.persisted("2024-03")
		return len(items) == 1 && items[0].Name == "Metformin"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLedgerHandler_ItemIndexErrors(t *testing.T) {
	api := newLedgerAPI(t)
	api.seed(t, "2024-03", namedItem("Ibuprofen", 10, nil))

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"patch past the end", http.MethodPatch, "/items/5?month=2024-03", store.ItemPatch{Name: strPtr("x")}, http.StatusNotFound},
		{"patch non-integer index", http.MethodPatch, "/items/abc?month=2024-03", store.ItemPatch{Name: strPtr("x")}, http.StatusBadRequest},
		{"patch negative index", http.MethodPatch, "/items/-1?month=2024-03", store.ItemPatch{Name: strPtr("x")}, http.StatusBadRequest},
		{"empty patch", http.MethodPatch, "/items/0?month=2024-03", map[string]interface{}{}, http.StatusBadRequest},
		{"delete past the end", http.MethodDelete, "/items/3?month=2024-03", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(api.writer, tt.method, tt.path, tt.body)
			testutil.AssertStatus(t, rr, tt.status)
		})
	}
}

func TestLedgerHandler_DeleteItem(t *testing.T) {
	api := newLedgerAPI(t)
	api.seed(t, "2024-03", namedItem("A", 1, nil), namedItem("B", 2, nil))

	rr := api.do(api.writer, http.MethodDelete, "/items/0?month=2024-03", nil)
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	assert.Eventually(t, func() bool {
		items := api.persisted("2024-03")
		return len(items) == 1 && items[0].Name == "B"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLedgerHandler_SaveCreatesMonth(t *testing.T) {
	api := newLedgerAPI(t)

	rr := api.do(api.writer, http.MethodPost, "/save?month=2024-07", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp envelope[handler.SelectionResponse]
	testutil.ParseJSONBody(t, rr, &resp)
	assert.Equal(t, ledger.MonthKey("2024-07"), resp.Data.MonthKey)
	assert.Equal(t, 31, resp.Data.DaysInMonth)
	assert.False(t, resp.Data.Pending)

	snap, err := api.repo.Get(context.Background(), "ph-1", "2024-07")
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Equal(t, "user-1", snap.UpdatedBy)
}

func TestLedgerHandler_Selection(t *testing.T) {
	api := newLedgerAPI(t)

	rr := api.do(api.writer, http.MethodPut, "/selection", handler.SelectionRequest{Year: 2024, Month: 2})
	testutil.AssertStatus(t, rr, http.StatusOK)
	var resp envelope[handler.SelectionResponse]
	testutil.ParseJSONBody(t, rr, &resp)
	assert.Equal(t, ledger.MonthKey("2024-02"), resp.Data.MonthKey)
	assert.Equal(t, 2024, resp.Data.Year)
	assert.Equal(t, 2, resp.Data.Month)
	assert.Equal(t, 29, resp.Data.DaysInMonth)

	rr = api.do(api.writer, http.MethodGet, "/selection", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.ParseJSONBody(t, rr, &resp)
	assert.Equal(t, ledger.MonthKey("2024-02"), resp.Data.MonthKey)

	tests := []struct {
		name string
		body interface{}
	}{
		{"month too large", handler.SelectionRequest{Year: 2024, Month: 13}},
		{"month missing", map[string]int{"year": 2024}},
		{"year zero", handler.SelectionRequest{Year: 0, Month: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(api.writer, http.MethodPut, "/selection", tt.body)
			testutil.AssertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestLedgerHandler_RejectsBadMonthQuery(t *testing.T) {
	api := newLedgerAPI(t)

	for _, month := range []string{"2024-13", "march", "2024-3x"} {
		t.Run(month, func(t *testing.T) {
			rr := api.do(api.writer, http.MethodGet, "/items?month="+month, nil)
			testutil.AssertStatus(t, rr, http.StatusBadRequest)

			var resp envelope[interface{}]
			testutil.ParseJSONBody(t, rr, &resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "INVALID_MONTH", resp.Error.Code)
		})
	}
}

func TestLedgerHandler_Rollover(t *testing.T) {
	api := newLedgerAPI(t)
	item := namedItem("Amoxicillin", 30, map[int]ledger.Qty{1: 4, 2: 6})
	item.DailyIncoming[5] = 5
	item.IncomingSource[5] = ledger.SourceCompany
	api.seed(t, "2024-12", item)

	rr := api.do(api.writer, http.MethodPost, "/rollover?month=2024-12", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp envelope[handler.RolloverResponse]
	testutil.ParseJSONBody(t, rr, &resp)
	assert.Equal(t, ledger.MonthKey("2024-12"), resp.Data.FromMonth)
	assert.Equal(t, ledger.MonthKey("2025-01"), resp.Data.ToMonth)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, ledger.Qty(25), resp.Data.Items[0].Item.Opening)
	assert.Empty(t, resp.Data.Items[0].Item.DailyDispense)

	next := api.persisted("2025-01")
	require.Len(t, next, 1)
	assert.Equal(t, ledger.Qty(25), next[0].Opening)
	assert.Equal(t, ledger.SourceCompany, next[0].IncomingSource[5])
}

func TestLedgerHandler_Shortages(t *testing.T) {
	api := newLedgerAPI(t)
	api.seed(t, "2024-02", namedItem("Aspirin", 100, map[int]ledger.Qty{1: 40}))
	api.seed(t, "2024-03",
		namedItem("Aspirin", 28, map[int]ledger.Qty{1: 2, 2: 4}),
		namedItem("Plenty", 1000, map[int]ledger.Qty{1: 1}),
	)

	t.Run("simple by default", func(t *testing.T) {
		rr := api.do(api.readOnly, http.MethodGet, "/shortages?month=2024-03", nil)
		testutil.AssertStatus(t, rr, http.StatusOK)

		var resp envelope[handler.SimpleShortagesResponse]
		testutil.ParseJSONBody(t, rr, &resp)
		assert.Equal(t, ledger.PolicySimple, resp.Data.Policy)
		require.Len(t, resp.Data.Items, 1)
		assert.Equal(t, "Aspirin", resp.Data.Items[0].Name)
		assert.Equal(t, 22, resp.Data.Items[0].CurrentStock)
		assert.Equal(t, 1, resp.Data.Items[0].Shortage)
	})

	t.Run("graded", func(t *testing.T) {
		rr := api.do(api.readOnly, http.MethodGet, "/shortages?month=2024-03&policy=graded", nil)
		testutil.AssertStatus(t, rr, http.StatusOK)

		var resp envelope[handler.GradedShortagesResponse]
		testutil.ParseJSONBody(t, rr, &resp)
		assert.Equal(t, ledger.PolicyGraded, resp.Data.Policy)
		require.Len(t, resp.Data.Items, 1)
		assert.Equal(t, ledger.StatusWarning, resp.Data.Items[0].Status)
		assert.Equal(t, 8, resp.Data.Items[0].SuggestedOrder)
		assert.Equal(t, 1, resp.Data.Summary.Medium)
		assert.Equal(t, 8, resp.Data.Summary.TotalSuggestedOrder)
	})

	t.Run("unknown policy", func(t *testing.T) {
		rr := api.do(api.readOnly, http.MethodGet, "/shortages?month=2024-03&policy=bogus", nil)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestLedgerHandler_Consumption(t *testing.T) {
	api := newLedgerAPI(t)
	api.seed(t, "2024-01", namedItem("Insulin", 10, map[int]ledger.Qty{1: 20, 2: 10}))
	api.seed(t, "2024-02", namedItem("Insulin", 10, map[int]ledger.Qty{3: 35}))

	rr := api.do(api.readOnly, http.MethodGet, "/consumption?month=2024-02", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp envelope[ledger.ConsumptionHistory]
	testutil.ParseJSONBody(t, rr, &resp)
	rec, ok := resp.Data["Insulin"]
	require.True(t, ok)
	assert.Equal(t, 65, rec.Total)
	assert.Equal(t, 32, rec.Average)
	assert.Equal(t, 30, rec.Months["2024-01"])
	assert.Equal(t, 35, rec.Months["2024-02"])
}

func TestLedgerHandler_Permissions(t *testing.T) {
	api := newLedgerAPI(t)

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		status int
	}{
		{"read-only can list", api.readOnly, http.MethodGet, "/items?month=2024-03", http.StatusOK},
		{"read-only cannot add", api.readOnly, http.MethodPost, "/items?month=2024-03", http.StatusForbidden},
		{"read-only cannot save", api.readOnly, http.MethodPost, "/save?month=2024-03", http.StatusForbidden},
		{"read-only cannot roll over", api.readOnly, http.MethodPost, "/rollover?month=2024-03", http.StatusForbidden},
		{"no token", "", http.MethodGet, "/items?month=2024-03", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewHTTPRequest(tt.method, base+tt.path, nil)
			if tt.token != "" {
				req = testutil.WithBearer(req, tt.token)
			}
			rr := testutil.ExecuteRequest(api.router, req)
			testutil.AssertStatus(t, rr, tt.status)
		})
	}
}

func TestLedgerHandler_ConcurrentClientsKeepTheirMonth(t *testing.T) {
	api := newLedgerAPI(t)
	api.seed(t, "2024-01", namedItem("Jan", 10, nil))
	api.seed(t, "2024-02", namedItem("Feb", 10, nil))

	const rounds = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []string
	)
	record := func(rr *httptest.ResponseRecorder, what string) {
		if rr.Code != http.StatusOK {
			mu.Lock()
			failures = append(failures, fmt.Sprintf("%s: %d", what, rr.Code))
			mu.Unlock()
		}
	}

	for _, month := range []string{"2024-01", "2024-02"} {
		prefix := map[string]string{"2024-01": "Jan", "2024-02": "Feb"}[month]
		wg.Add(1)
		go func(month, prefix string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				patch := store.ItemPatch{Name: strPtr(fmt.Sprintf("%s-%d", prefix, i))}
				rr := api.do(api.writer, http.MethodPatch, "/items/0?month="+month, patch)
				record(rr, "patch "+month)
			}
		}(month, prefix)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			rr := api.do(api.writer, http.MethodPut, "/selection", handler.SelectionRequest{Year: 2024, Month: 1 + i%2})
			record(rr, "selection")
		}
	}()
	wg.Wait()
	require.Empty(t, failures)

	last := fmt.Sprintf("-%d", rounds-1)
	for month, prefix := range map[ledger.MonthKey]string{"2024-01": "Jan", "2024-02": "Feb"} {
		assert.Eventually(t, func() bool {
			items := api.persisted(month)
			return len(items) == 1 && items[0].Name == prefix+last
		}, 2*time.Second, 5*time.Millisecond, "month %s", month)

		rr := api.do(api.readOnly, http.MethodGet, "/items?month="+month.String(), nil)
		var resp envelope[[]store.ItemView]
		testutil.ParseJSONBody(t, rr, &resp)
		require.Len(t, resp.Data, 1)
		assert.True(t, strings.HasPrefix(resp.Data[0].Item.Name, prefix), "month %s holds %q", month, resp.Data[0].Item.Name)
	}
}

func TestLedgerHandler_WarningFollowsRequestLocale(t *testing.T) {
	api := newLedgerAPI(t)
	api.seed(t, "2024-03", namedItem("Aspirin", 10, nil))

	rr := api.do(api.writer, http.MethodPatch, "/items/0?month=2024-03", store.ItemPatch{Opening: qtyPtr(-5)})
	testutil.AssertStatus(t, rr, http.StatusOK)

	warning := func(lang string) string {
		req := testutil.WithBearer(testutil.NewHTTPRequest(http.MethodGet, base+"/items?month=2024-03", nil), api.writer)
		req.Header.Set("Accept-Language", lang)
		var resp envelope[[]store.ItemView]
		rr := testutil.ExecuteRequest(api.router, req)
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Meta == nil {
			return ""
		}
		return resp.Meta.Warning
	}

	assert.Eventually(t, func() bool { return warning("en") != "" }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, warning("en"), "Item 0 is invalid")
	assert.Contains(t, warning("de-DE,de;q=0.9"), "Artikel 0 ist ungültig")

	rr = api.do(api.writer, http.MethodGet, "/items?month=2024-03", nil)
	var resp envelope[[]store.ItemView]
	testutil.ParseJSONBody(t, rr, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, ledger.Qty(-5), resp.Data[0].Item.Opening, "unsaved edit is kept")
}
