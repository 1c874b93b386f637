package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oapi-codegen/runtime"
	"gorm.io/gorm"

	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/hooks"
	"github.com/catalog-dev/catalog-ingest/internal/ingest"
	"github.com/catalog-dev/catalog-ingest/internal/scheduler"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/vault"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

var startTime = time.Now()

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Handler struct {
	db        *database.DB
	vault     *vault.Vault
	registry  *sources.Registry
	runner    *ingest.Runner
	scheduler *scheduler.Scheduler
	totals    *estimator.Estimator
	hooks     *hooks.Manager
}

func New(
	db *database.DB,
	v *vault.Vault,
	registry *sources.Registry,
	runner *ingest.Runner,
	sched *scheduler.Scheduler,
	totals *estimator.Estimator,
	hooksManager *hooks.Manager,
) *Handler {
	return &Handler{
		db:        db,
		vault:     v,
		registry:  registry,
		runner:    runner,
		scheduler: sched,
		totals:    totals,
		hooks:     hooksManager,
	}
}

// Register installs every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.HealthCheck)
	mux.HandleFunc("GET /api/stats", h.GetStats)

	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("GET /api/performers", h.ListPerformers)
	mux.HandleFunc("GET /api/performers/{id}", h.GetPerformer)

	mux.HandleFunc("GET /api/sources", h.ListSources)
	mux.HandleFunc("GET /api/sources/{id}", h.GetSource)
	mux.HandleFunc("PUT /api/sources/{id}", h.UpdateSource)
	mux.HandleFunc("POST /api/sources/{id}/test", h.TestSourceCredentials)
	mux.HandleFunc("POST /api/sources/{id}/runs", h.StartRun)
	mux.HandleFunc("POST /api/sources/{id}/reprocess", h.StartReprocess)
	mux.HandleFunc("POST /api/sources/{id}/cancel", h.CancelRun)

	mux.HandleFunc("GET /api/runs", h.ListRuns)
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
	mux.HandleFunc("GET /api/active-runs", h.ListActiveRuns)
	mux.HandleFunc("GET /api/totals", h.GetTotals)

	mux.HandleFunc("GET /api/webhooks", h.ListWebhooks)
	mux.HandleFunc("POST /api/webhooks", h.CreateWebhook)
	mux.HandleFunc("PUT /api/webhooks/{id}", h.UpdateWebhook)
	mux.HandleFunc("DELETE /api/webhooks/{id}", h.DeleteWebhook)
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Error{Message: message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	err := decodeJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func bindQuery(r *http.Request, name string, dest interface{}) error {
	return runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest)
}

func page(limit, offset *int) (int, int) {
	l, o := defaultPageSize, 0
	if limit != nil && *limit > 0 {
		l = min(*limit, maxPageSize)
	}
	if offset != nil && *offset > 0 {
		o = *offset
	}
	return l, o
}

// Product handlers

func bindListProductsParams(r *http.Request) (ListProductsParams, error) {
	var p ListProductsParams
	for name, dest := range map[string]interface{}{
		"source":    &p.Source,
		"performer": &p.Performer,
		"q":         &p.Q,
		"onSale":    &p.OnSale,
		"limit":     &p.Limit,
		"offset":    &p.Offset,
	} {
		if err := bindQuery(r, name, dest); err != nil {
			return p, err
		}
	}
	return p, nil
}

func productFilter(h *Handler, p ListProductsParams) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if p.Source != nil && *p.Source != "" {
			q = q.Where("id IN (?)", h.db.Model(&database.ProductSource{}).
				Select("product_id").Where("source_id = ?", *p.Source))
		}
		if p.Performer != nil {
			q = q.Where("id IN (?)", h.db.Model(&database.ProductPerformer{}).
				Select("product_id").Where("performer_id = ?", *p.Performer))
		}
		if p.Q != nil && *p.Q != "" {
			q = q.Where("title LIKE ?", "%"+*p.Q+"%")
		}
		if p.OnSale != nil && *p.OnSale {
			q = q.Where("id IN (?)", h.db.Model(&database.SaleRecord{}).
				Select("product_id").Where("active = ?", true))
		}
		return q
	}
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	params, err := bindListProductsParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset := page(params.Limit, params.Offset)
	filter := productFilter(h, params)

	var total int64
	if err := h.db.Model(&database.Product{}).Scopes(filter).Count(&total).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count products")
		return
	}

	var products []database.Product
	err = h.db.Scopes(filter).Preload("Sources").
		Order("updated_at DESC").Order("id ASC").
		Offset(offset).Limit(limit).Find(&products).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products")
		return
	}

	result := make([]Product, 0, len(products))
	for _, p := range products {
		result = append(result, convertProduct(p))
	}
	writeJSON(w, http.StatusOK, ProductListResponse{Products: result, Total: int(total)})
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	byPosition := func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }

	var product database.Product
	err := h.db.Preload("Sources").
		Preload("Images", byPosition).
		Preload("Videos", byPosition).
		Preload("Performers.Aliases").
		Preload("Categories").
		First(&product, "id = ?", id).Error
	if err != nil {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}

	var sales []database.SaleRecord
	if err := h.db.Where("product_id = ?", id).Order("source_id ASC").Find(&sales).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sales")
		return
	}

	result := ProductDetail{
		Product:    convertProduct(product),
		Listings:   make([]Listing, 0, len(product.Sources)),
		Images:     make([]string, 0, len(product.Images)),
		Videos:     make([]string, 0, len(product.Videos)),
		Performers: make([]Performer, 0, len(product.Performers)),
		Categories: make([]string, 0, len(product.Categories)),
		Sales:      make([]Sale, 0, len(sales)),
	}
	for _, s := range product.Sources {
		result.Listings = append(result.Listings, convertListing(s))
	}
	for _, img := range product.Images {
		result.Images = append(result.Images, img.URL)
	}
	for _, v := range product.Videos {
		result.Videos = append(result.Videos, v.URL)
	}
	for _, p := range product.Performers {
		result.Performers = append(result.Performers, convertPerformer(p))
	}
	for _, c := range product.Categories {
		result.Categories = append(result.Categories, c.Name)
	}
	for _, s := range sales {
		result.Sales = append(result.Sales, convertSale(s))
	}

	writeJSON(w, http.StatusOK, result)
}

// Performer handlers

func (h *Handler) ListPerformers(w http.ResponseWriter, r *http.Request) {
	var params ListPerformersParams
	for name, dest := range map[string]interface{}{"q": &params.Q, "limit": &params.Limit, "offset": &params.Offset} {
		if err := bindQuery(r, name, dest); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit, offset := page(params.Limit, params.Offset)

	filter := func(q *gorm.DB) *gorm.DB {
		if params.Q != nil && *params.Q != "" {
			like := "%" + *params.Q + "%"
			q = q.Where("name LIKE ? OR reading LIKE ? OR id IN (?)", like, like,
				h.db.Model(&database.PerformerAlias{}).Select("performer_id").Where("alias LIKE ?", like))
		}
		return q
	}

	var total int64
	if err := h.db.Model(&database.Performer{}).Scopes(filter).Count(&total).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count performers")
		return
	}
	var performers []database.Performer
	err := h.db.Scopes(filter).Preload("Aliases").Order("name ASC").
		Offset(offset).Limit(limit).Find(&performers).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list performers")
		return
	}

	result := make([]Performer, 0, len(performers))
	for _, p := range performers {
		result = append(result, convertPerformer(p))
	}
	writeJSON(w, http.StatusOK, PerformerListResponse{Performers: result, Total: int(total)})
}

func (h *Handler) GetPerformer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid performer id")
		return
	}
	var performer database.Performer
	if err := h.db.Preload("Aliases").First(&performer, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "Performer not found")
		return
	}
	writeJSON(w, http.StatusOK, convertPerformer(performer))
}

// Source handlers

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sourceInfos, err := h.registry.ListSources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}

	result := make([]Source, 0, len(sourceInfos))
	for _, si := range sourceInfos {
		result = append(result, h.convertSource(si))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	h.writeSource(w, r.PathValue("id"))
}

func (h *Handler) writeSource(w http.ResponseWriter, id string) {
	si, err := h.registry.GetSource(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Source not found")
		return
	}
	writeJSON(w, http.StatusOK, h.convertSource(*si))
}

func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req UpdateSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	adapter, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Source not found")
		return
	}

	if req.Schedule != nil && *req.Schedule != "" {
		if err := scheduler.ValidateSchedule(*req.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid schedule: "+err.Error())
			return
		}
	}

	var creds map[string]string
	if req.Credentials != nil {
		creds = *req.Credentials
	}

	// Validate credentials before enabling with new credentials
	if req.Enabled != nil && *req.Enabled && creds != nil {
		if err := sources.RequireCredentials(adapter.CredentialFields(), creds); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid credentials: "+err.Error())
			return
		}
		adapter.SetCredentials(creds)
		if err := adapter.ValidateCredentials(r.Context()); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid credentials: "+err.Error())
			return
		}
	}

	upd := sources.SourceUpdate{Enabled: req.Enabled, Schedule: req.Schedule, Credentials: creds}
	if err := h.registry.UpdateSource(id, upd, h.vault); err != nil {
		slog.Error("Failed to update source", "source", id, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.scheduler.Reload(id); err != nil {
		slog.Error("Failed to reschedule source", "source", id, "error", err)
	}

	h.writeSource(w, id)
}

func (h *Handler) TestSourceCredentials(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req TestCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.registry.TestCredentials(r.Context(), id, req.Credentials); err != nil {
		if errors.Is(err, sources.ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, "Source not found")
			return
		}
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Job handlers

func (h *Handler) decodeRunOptions(w http.ResponseWriter, r *http.Request) (string, ingest.Options, bool) {
	id := r.PathValue("id")
	var opts ingest.Options
	if err := decodeOptionalJSON(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return id, opts, false
	}
	if _, ok := h.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "Source not found")
		return id, opts, false
	}
	if h.runner.IsRunning(id) {
		writeError(w, http.StatusConflict, ingest.ErrRunInProgress.Error())
		return id, opts, false
	}
	return id, opts, true
}

func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	id, opts, ok := h.decodeRunOptions(w, r)
	if !ok {
		return
	}
	if err := h.registry.CheckCredentials(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Info("Run requested", "source", id, "limit", opts.Limit, "offset", opts.Offset)
	h.scheduler.RunNow(id, opts)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) StartReprocess(w http.ResponseWriter, r *http.Request) {
	id, opts, ok := h.decodeRunOptions(w, r)
	if !ok {
		return
	}
	slog.Info("Reprocess requested", "source", id, "force", opts.ForceReprocess)
	if !h.scheduler.ReprocessNow(id, opts) {
		writeError(w, http.StatusInternalServerError, "Reprocessing not available")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Cancel(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "No active run for source")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var params ListRunsParams
	if err := bindQuery(r, "source", &params.Source); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := bindQuery(r, "limit", &params.Limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sourceID := ""
	if params.Source != nil {
		sourceID = *params.Source
	}
	limit, _ := page(params.Limit, nil)

	runs, err := h.runner.ListRuns(sourceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	result := make([]Run, 0, len(runs))
	for _, run := range runs {
		result = append(result, convertRun(run))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.GetRun(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, convertRun(*run))
}

func (h *Handler) ListActiveRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.ActiveRuns())
}

func (h *Handler) GetTotals(w http.ResponseWriter, r *http.Request) {
	var refresh *bool
	if err := bindQuery(r, "refresh", &refresh); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	var results []estimator.Result
	if refresh != nil && *refresh {
		results = h.scheduler.RefreshTotals(ctx)
	} else {
		results = h.totals.All(ctx, false)
	}
	writeJSON(w, http.StatusOK, results)
}

// Webhook handlers

func validEvents(events []string) bool {
	for _, e := range events {
		if !hooks.IsValidEvent(e) {
			return false
		}
	}
	return true
}

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.hooks.ListWebhooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list webhooks")
		return
	}

	result := make([]Webhook, 0, len(webhooks))
	for _, wh := range webhooks {
		result = append(result, convertWebhook(wh))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validEvents(req.Events) {
		writeError(w, http.StatusBadRequest, "Unknown event type")
		return
	}

	webhook, err := h.hooks.CreateWebhook(hooks.WebhookInput{
		Name:    req.Name,
		URL:     req.Url,
		Events:  req.Events,
		Secret:  req.Secret,
		Headers: req.Headers,
		Enabled: true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create webhook")
		return
	}

	writeJSON(w, http.StatusCreated, convertWebhook(*webhook))
}

func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid webhook id")
		return
	}
	var req UpdateWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	webhook, err := h.hooks.GetWebhook(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}

	in := hooks.WebhookInput{
		Name:    webhook.Name,
		URL:     webhook.URL,
		Events:  hooks.ParseEvents(webhook.Events),
		Enabled: webhook.Enabled,
	}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Url != nil {
		in.URL = *req.Url
	}
	if req.Events != nil {
		if !validEvents(*req.Events) {
			writeError(w, http.StatusBadRequest, "Unknown event type")
			return
		}
		in.Events = *req.Events
	}
	if req.Secret != nil {
		in.Secret = *req.Secret
	}
	if req.Headers != nil {
		in.Headers = *req.Headers
	}
	if req.Enabled != nil {
		in.Enabled = *req.Enabled
	}

	if err := h.hooks.UpdateWebhook(uint(id), in); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update webhook")
		return
	}

	updated, _ := h.hooks.GetWebhook(uint(id))
	writeJSON(w, http.StatusOK, convertWebhook(*updated))
}

func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid webhook id")
		return
	}
	if _, err := h.hooks.GetWebhook(uint(id)); err != nil {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	if err := h.hooks.DeleteWebhook(uint(id)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete webhook")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// System handlers

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(startTime).String()
	version := Version

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Uptime:  &uptime,
		Version: &version,
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var products, performers, activeSales, rawResponses, unprocessed, enabledSources int64

	h.db.Model(&database.Product{}).Count(&products)
	h.db.Model(&database.Performer{}).Count(&performers)
	h.db.Model(&database.SaleRecord{}).Where("active = ?", true).Count(&activeSales)
	h.db.Model(&database.RawResponse{}).Count(&rawResponses)
	h.db.Model(&database.RawResponse{}).Where("processed_at IS NULL").Count(&unprocessed)
	h.db.Model(&database.Source{}).Where("enabled = ?", true).Count(&enabledSources)

	writeJSON(w, http.StatusOK, StatsResponse{
		Products:       int(products),
		Performers:     int(performers),
		ActiveSales:    int(activeSales),
		RawResponses:   int(rawResponses),
		Unprocessed:    int(unprocessed),
		EnabledSources: int(enabledSources),
		ActiveRuns:     len(h.runner.ActiveRuns()),
	})
}

// Conversion helpers

func convertProduct(p database.Product) Product {
	result := Product{
		Id:          p.ID,
		Title:       p.Title,
		ReleaseDate: p.ReleaseDate,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Description != "" {
		result.Description = &p.Description
	}
	if p.DurationMinutes > 0 {
		result.DurationMinutes = &p.DurationMinutes
	}
	if p.DefaultThumbnailURL != "" {
		result.ThumbnailUrl = &p.DefaultThumbnailURL
	}
	for _, s := range p.Sources {
		result.Sources = append(result.Sources, s.SourceID)
	}
	return result
}

func convertListing(s database.ProductSource) Listing {
	result := Listing{
		SourceId:     s.SourceID,
		OriginalId:   s.OriginalID,
		AffiliateUrl: s.AffiliateURL,
		DataOrigin:   s.DataOrigin,
		LastUpdated:  s.LastUpdated,
	}
	if s.Price > 0 {
		result.Price = &s.Price
	}
	return result
}

func convertSale(s database.SaleRecord) Sale {
	return Sale{
		SourceId:        s.SourceID,
		RegularPrice:    s.RegularPrice,
		SalePrice:       s.SalePrice,
		DiscountPercent: s.DiscountPercent,
		SaleType:        s.SaleType,
		ExpiresAt:       s.ExpiresAt,
		ExpiryInferred:  s.ExpiryInferred,
		Active:          s.Active,
	}
}

func convertPerformer(p database.Performer) Performer {
	result := Performer{Id: int(p.ID), Name: p.Name}
	if p.Reading != "" {
		result.Reading = &p.Reading
	}
	for _, a := range p.Aliases {
		result.Aliases = append(result.Aliases, a.Alias)
	}
	return result
}

func (h *Handler) convertSource(si sources.SourceInfo) Source {
	source := Source{
		Id:               si.ID,
		Name:             si.Name,
		Kind:             si.Kind,
		Enabled:          si.Enabled,
		HasCredentials:   si.HasCredentials,
		Schedule:         si.Schedule,
		LastSyncAt:       si.LastSyncAt,
		NextRun:          h.scheduler.GetNextRun(si.ID),
		Running:          h.runner.IsRunning(si.ID),
		CredentialFields: make([]CredentialField, 0, len(si.CredentialFields)),
	}
	for _, cf := range si.CredentialFields {
		field := CredentialField{
			Key:      cf.Key,
			Label:    cf.Label,
			Type:     cf.Type,
			Required: cf.Required,
		}
		if cf.HelpText != "" {
			helpText := cf.HelpText
			field.HelpText = &helpText
		}
		source.CredentialFields = append(source.CredentialFields, field)
	}
	return source
}

func convertRun(r database.IngestRun) Run {
	stats := ingest.Stats{
		Fetched:          r.Fetched,
		NewProducts:      r.NewProducts,
		UpdatedProducts:  r.UpdatedProducts,
		SkippedUnchanged: r.SkippedUnchanged,
		NotFound:         r.NotFound,
		Rejected:         r.Rejected,
		RateLimited:      r.RateLimited,
		Errors:           r.Errors,
	}
	result := Run{
		Id:          r.ID,
		SourceId:    r.SourceID,
		Mode:        r.Mode,
		Status:      r.Status,
		Stats:       stats.Map(),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.ErrorMessage != "" {
		result.Error = &r.ErrorMessage
	}
	return result
}

func convertWebhook(wh database.Webhook) Webhook {
	return Webhook{
		Id:        int(wh.ID),
		Name:      wh.Name,
		Url:       wh.URL,
		Events:    hooks.ParseEvents(wh.Events),
		Enabled:   wh.Enabled,
		HasSecret: wh.Secret != "",
		CreatedAt: &wh.CreatedAt,
	}
}
