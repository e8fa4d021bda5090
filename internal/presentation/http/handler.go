package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appcatalog "github.com/warutora/stockroom/internal/application/catalog"
	apppurchase "github.com/warutora/stockroom/internal/application/purchase"
	domaincatalog "github.com/warutora/stockroom/internal/domain/catalog"
	domainpurchase "github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/observability"
	"github.com/warutora/stockroom/internal/observability/logctx"
	"github.com/warutora/stockroom/internal/pkg/money"

	"github.com/go-playground/validator/v10"
)

type Handler struct {
	coordinator    *apppurchase.Coordinator
	purchaseRepo   domainpurchase.Repository
	catalogService *appcatalog.Service
	validate       *validator.Validate
	log            observability.Logger
	tel            observability.Telemetry
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"
)

func NewHandler(
	coordinator *apppurchase.Coordinator,
	purchaseRepo domainpurchase.Repository,
	catalogService *appcatalog.Service,
	logger observability.Logger,
	tel observability.Telemetry,
) *Handler {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = observability.NopLogger()
	}
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Handler{
		coordinator:    coordinator,
		purchaseRepo:   purchaseRepo,
		catalogService: catalogService,
		validate:       validator.New(),
		log:            baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:            tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → ObservabilityMiddleware (request logger) → HTTP metrics → Access log → Handler
	h.muxHandle(mux, http.MethodPost, "/purchase", h.handleExecutePurchase)
	h.muxHandle(mux, http.MethodGet, "/purchase/{id}", h.handleGetPurchase)
	h.muxHandle(mux, http.MethodGet, "/purchases", h.handleListPurchases)
	h.muxHandle(mux, http.MethodPost, "/product", h.handleCreateProduct)
	h.muxHandle(mux, http.MethodGet, "/product/{id}", h.handleGetProduct)
	h.muxHandle(mux, http.MethodGet, "/products", h.handleListProducts)
	h.muxHandle(mux, http.MethodPost, "/product/{id}/restock", h.handleRestockProduct)
	h.muxHandle(mux, http.MethodDelete, "/product/{id}", h.handleDeactivateProduct)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	mux.HandleFunc(method+" "+route, func(w http.ResponseWriter, r *http.Request) {
		// Store stable route template for low-cardinality labels
		ctx := contextWithRoute(r.Context(), route)
		r = r.WithContext(ctx)

		// Wrap: Trace → Request Logger → Metrics → Access Log → Handler
		wrapped := h.withTrace(
			ObservabilityMiddleware(
				logctx.FromOr(ctx, h.log),
				func(r *http.Request) string {
					return r.Header.Get(headerRequestID)
				},
				func(r *http.Request) string {
					return r.Header.Get(headerTenantID)
				},
				h.tel,
			)(
				h.withAccessLog(handler),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

type cartLineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type executePurchaseRequest struct {
	PurchaserID string            `json:"purchaser_id" validate:"required"`
	Cart        []cartLineRequest `json:"cart" validate:"required,min=1,dive"`
}

type purchaseLineResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type purchaseResponse struct {
	ID            string                 `json:"id"`
	PurchaserID   string                 `json:"purchaser_id"`
	InvoiceNumber string                 `json:"invoice_number"`
	Total         string                 `json:"total"`
	Status        domainpurchase.Status  `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
	Lines         []purchaseLineResponse `json:"lines"`
}

func toPurchaseResponse(p *domainpurchase.Purchase) purchaseResponse {
	lines := make([]purchaseLineResponse, 0, len(p.Lines))
	for _, l := range p.Lines {
		lines = append(lines, purchaseLineResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: money.Format(l.UnitPriceCents),
			Subtotal:  money.Format(l.SubtotalCents),
		})
	}
	return purchaseResponse{
		ID:            p.ID,
		PurchaserID:   p.PurchaserID,
		InvoiceNumber: p.InvoiceNumber,
		Total:         money.Format(p.TotalCents),
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
		Lines:         lines,
	}
}

func (h *Handler) handleExecutePurchase(w http.ResponseWriter, r *http.Request) {
	var req executePurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cart := make([]apppurchase.CartLine, 0, len(req.Cart))
	for _, line := range req.Cart {
		cart = append(cart, apppurchase.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	result, err := h.coordinator.Execute(r.Context(), apppurchase.Input{
		PurchaserID: req.PurchaserID,
		Cart:        cart,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPurchaseResponse(result.Purchase))
}

func (h *Handler) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.purchaseRepo.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResponse(p))
}

func (h *Handler) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if purchaserID := q.Get("purchaser_id"); purchaserID != "" {
		purchases, err := h.purchaseRepo.ListByPurchaser(r.Context(), purchaserID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writePurchaseList(w, purchases)
		return
	}

	from, err := parseTimeParam(q.Get("from"), time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	purchases, err := h.purchaseRepo.ListBetween(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writePurchaseList(w, purchases)
}

func writePurchaseList(w http.ResponseWriter, purchases []*domainpurchase.Purchase) {
	out := make([]purchaseResponse, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, toPurchaseResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseTimeParam(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, value)
}

type createProductRequest struct {
	LotCode   string `json:"lot_code" validate:"required"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=0"`
}

type productResponse struct {
	ID        string    `json:"id"`
	LotCode   string    `json:"lot_code"`
	Name      string    `json:"name"`
	UnitPrice string    `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toProductResponse(p *domaincatalog.Product) productResponse {
	return productResponse{
		ID:        p.ID,
		LotCode:   p.LotCode,
		Name:      p.Name,
		UnitPrice: money.Format(p.UnitPriceCents),
		Quantity:  p.Quantity,
		Active:    p.Active,
		CreatedAt: p.CreatedAt,
	}
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	priceCents, err := money.Parse(req.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := h.catalogService.CreateProduct(r.Context(), appcatalog.CreateProductInput{
		LotCode:        req.LotCode,
		Name:           req.Name,
		UnitPriceCents: priceCents,
		Quantity:       req.Quantity,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalogService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalogService.ListActive(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type restockRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

func (h *Handler) handleRestockProduct(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := h.catalogService.Restock(r.Context(), r.PathValue("id"), req.Quantity)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalogService.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps the failure taxonomy onto stable HTTP statuses.
// Caller-facing kinds (validation, missing products, insufficient stock)
// keep their structured detail; storage kinds get one fixed message per
// category, with the full error logged server-side only.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *domainpurchase.ValidationError
		notFound     *domainpurchase.ProductsNotFoundError
		insufficient *domainpurchase.InsufficientStockError
	)
	switch {
	case errors.As(err, &validation),
		errors.Is(err, domaincatalog.ErrInvalidLotCode),
		errors.Is(err, domaincatalog.ErrInvalidPrice),
		errors.Is(err, domaincatalog.ErrInvalidQuantity),
		errors.Is(err, money.ErrMalformedAmount):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &notFound),
		errors.Is(err, domainpurchase.ErrNotFound),
		errors.Is(err, domaincatalog.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &insufficient),
		errors.Is(err, domaincatalog.ErrLotCodeTaken),
		errors.Is(err, domaincatalog.ErrProductInactive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domainpurchase.ErrSequencingExhausted):
		h.logRejection(r, "warn", err)
		writeError(w, http.StatusServiceUnavailable, domainpurchase.ErrSequencingExhausted)
	case errors.Is(err, domainpurchase.ErrTransientStore):
		h.logRejection(r, "warn", err)
		writeError(w, http.StatusServiceUnavailable, domainpurchase.ErrTransientStore)
	default:
		h.logRejection(r, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

// logRejection keeps storage diagnostics out of response bodies.
func (h *Handler) logRejection(r *http.Request, level string, err error) {
	logger := logctx.FromOr(r.Context(), h.log)
	fields := []observability.Field{
		observability.F("route", routeFromContext(r.Context())),
		observability.F("error", err.Error()),
	}
	if level == "error" {
		logger.Error("request_failed", fields...)
		return
	}
	logger.Warn("request_rejected", fields...)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
