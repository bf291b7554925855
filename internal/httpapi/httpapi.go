package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/importer"
	"bitetrack/backend/internal/logging"
	"bitetrack/backend/internal/metrics"
	"bitetrack/backend/internal/service"
	"bitetrack/backend/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxImportBody = 10 << 20
)

var (
	staffRoles = []string{domain.RoleUser, domain.RoleAdmin, domain.RoleSuperAdmin}
	adminRoles = []string{domain.RoleAdmin, domain.RoleSuperAdmin}
)

type API struct {
	service       *service.Service
	importer      *importer.Importer
	auth          *AuthManager
	metrics       *metrics.Metrics
	logger        *slog.Logger
	validate      *validator.Validate
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

type Option func(*API)

func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

func New(svc *service.Service, imp *importer.Importer, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		importer:      imp,
		auth:          auth,
		logger:        logging.Discard(),
		validate:      newValidator(),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, a.instrument(pattern, h))
	}

	handle("/healthz", a.handleHealth)
	mux.Handle("/metrics", a.metrics.Handler())
	handle("/api/v1/auth/login", a.handleLogin)

	handle("/api/v1/products", a.requireAuth(a.handleProducts, staffRoles...))
	handle("/api/v1/products/", a.requireAuth(a.handleProductActions, staffRoles...))
	handle("/api/v1/customers", a.requireAuth(a.handleCustomers, staffRoles...))
	handle("/api/v1/customers/", a.requireAuth(a.handleCustomerActions, staffRoles...))
	handle("/api/v1/sellers", a.requireAuth(a.handleSellers, adminRoles...))

	handle("/api/v1/sales", a.requireAuth(a.handleSales, staffRoles...))
	handle("/api/v1/sales/", a.requireAuth(a.handleSaleActions, staffRoles...))

	handle("/api/v1/inventory-drops", a.requireAuth(a.handleDrops, adminRoles...))
	handle("/api/v1/inventory-drops/", a.requireAuth(a.handleDropActions, adminRoles...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// requireRole is for handlers that serve several roles on GET but fewer on writes.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || !isRoleAllowed(actor.Role, roles) {
		writeError(w, http.StatusForbidden, errors.New("forbidden role"))
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.logger.InfoContext(r.Context(), "login rejected", "email", domain.NormalizeEmail(req.Email), "client", clientKey(r))
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		if !requireRole(w, r, adminRoles...) {
			return
		}
		var req domain.ProductCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTail(w, r, "/api/v1/products/")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch:
		if !requireRole(w, r, adminRoles...) {
			return
		}
		var req domain.ProductUpdateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		updated, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": updated})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		customers, err := a.service.ListCustomers(r.Context(), limit)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		customer, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTail(w, r, "/api/v1/customers/")
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	customer, err := a.service.GetCustomer(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleSellers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sellers, err := a.service.ListSellers(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sellers": sellers})
	case http.MethodPost:
		var req domain.SellerCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		if req.Role == domain.RoleSuperAdmin && !requireRole(w, r, domain.RoleSuperAdmin) {
			return
		}
		seller, err := a.service.CreateSeller(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"seller": seller})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := saleFilterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sales, err := a.service.ListSales(r.Context(), filter)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		sale, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleSaleActions serves /sales/{id}, /sales/{id}/settle, /sales/import and
// /sales/import/{batchId} (GET, or DELETE to drop the cached report).
func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(w, r, "/api/v1/sales/")
	if !ok {
		return
	}
	parts := strings.Split(tail, "/")

	switch {
	case parts[0] == "import" && len(parts) == 1:
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		if !requireRole(w, r, adminRoles...) {
			return
		}
		a.handleImport(w, r)
	case parts[0] == "import" && len(parts) == 2:
		switch r.Method {
		case http.MethodGet:
			report, err := a.importer.Report(r.Context(), parts[1])
			if err != nil {
				a.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		case http.MethodDelete:
			if !requireRole(w, r, adminRoles...) {
				return
			}
			if err := a.importer.Forget(r.Context(), parts[1]); err != nil {
				a.writeServiceError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w)
		}
	case len(parts) == 2 && parts[1] == "settle":
		if r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.SettleSaleRequest
		if r.ContentLength != 0 {
			if !a.decodeAndValidate(w, r, &req) {
				return
			}
		}
		sale, err := a.service.SettleSale(r.Context(), parts[0], req.AmountPaid)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		sale, err := a.service.GetSale(r.Context(), parts[0])
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	default:
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	}
}

// handleImport accepts the CSV either as the multipart field "file" or as
// the raw request body. The report is returned with 200 even when every row
// was skipped or the request was canceled part way.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("multipart field \"file\" is required"))
			return
		}
		defer file.Close()
		body = file
	}

	report, err := a.importer.Import(r.Context(), body)
	if err != nil {
		status, msg := http.StatusBadRequest, err
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, msg = http.StatusRequestEntityTooLarge, errors.New("csv file too large")
		}
		if report.Summary.ImportBatchID == "" {
			writeError(w, status, msg)
			return
		}
		// Rows before the failure are committed; hand back what landed.
		writeJSON(w, status, map[string]any{"error": msg.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleDrops(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := dropFilterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		drops, err := a.service.ListDrops(r.Context(), filter)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drops": drops})
	case http.MethodPost:
		var req domain.InventoryDropRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		drop, err := a.service.DropInventory(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"drop": drop})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleDropActions serves /inventory-drops/{undoable|analytics|{id}|{id}/undo}.
func (a *API) handleDropActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(w, r, "/api/v1/inventory-drops/")
	if !ok {
		return
	}
	parts := strings.Split(tail, "/")

	switch {
	case tail == "undoable":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		drops, err := a.service.ListUndoableDrops(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drops": drops})
	case tail == "analytics":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		from, err := parseTimeParam(r, "from")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		to, err := parseTimeParam(r, "to")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var fromAt, toAt time.Time
		if from != nil {
			fromAt = *from
		}
		if to != nil {
			toAt = *to
		}
		analytics, err := a.service.DropAnalytics(r.Context(), fromAt, toAt)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analytics": analytics})
	case len(parts) == 2 && parts[1] == "undo":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.UndoDropRequest
		if r.ContentLength != 0 {
			if !a.decodeAndValidate(w, r, &req) {
				return
			}
		}
		drop, err := a.service.UndoInventoryDrop(r.Context(), parts[0], req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drop": drop})
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		drop, err := a.service.GetDrop(r.Context(), parts[0])
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drop": drop})
	default:
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	}
}

func saleFilterFromQuery(r *http.Request) (domain.SaleFilter, error) {
	q := r.URL.Query()
	filter := domain.SaleFilter{
		CustomerID: strings.TrimSpace(q.Get("customerId")),
		SellerID:   strings.TrimSpace(q.Get("sellerId")),
		Limit:      parsePositiveLimit(q.Get("limit"), 100, 1000),
	}
	if raw := strings.TrimSpace(q.Get("settled")); raw != "" {
		settled, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errors.New("settled must be true or false")
		}
		filter.Settled = &settled
	}
	var err error
	if filter.From, err = parseTimeParam(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(r, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func dropFilterFromQuery(r *http.Request) (domain.DropFilter, error) {
	q := r.URL.Query()
	filter := domain.DropFilter{
		ProductID: strings.TrimSpace(q.Get("productId")),
		Reason:    domain.DropReason(strings.TrimSpace(q.Get("reason"))),
		DroppedBy: strings.TrimSpace(q.Get("droppedBy")),
		Limit:     parsePositiveLimit(q.Get("limit"), 100, 1000),
	}
	if raw := strings.TrimSpace(q.Get("includeUndone")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errors.New("includeUndone must be true or false")
		}
		filter.IncludeUndone = include
	}
	var err error
	if filter.From, err = parseTimeParam(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(r, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

// parseTimeParam reads an RFC3339 timestamp or a plain date from the query.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.New(name + " must be an RFC3339 timestamp or YYYY-MM-DD")
}

func pathTail(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("resource id required"))
		return "", false
	}
	return tail, true
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr), errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientInventory),
		errors.Is(err, store.ErrAlreadySettled),
		errors.Is(err, store.ErrAlreadyUndone),
		errors.Is(err, store.ErrDuplicateTransaction),
		errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrUndoWindowExpired):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records one log line and one latency sample per request under
// the registered route pattern.
func (a *API) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		a.metrics.ObserveHTTP(r.Method, route, rec.status, elapsed)
		a.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validateRequest(dest); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  reqErr.Error(),
				"fields": reqErr.fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses carry a generic message; the cause is logged by the caller.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
