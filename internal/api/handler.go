// Package api exposes the stock services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"agrivet/m/domain"
	"agrivet/m/internal/adjustments"
	"agrivet/m/internal/alerts"
	"agrivet/m/internal/logging"
	"agrivet/m/internal/metrics"
	"agrivet/m/internal/purchasing"
	"agrivet/m/internal/sales"
)

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

// Services are the components the handlers call into.
type Services struct {
	Sales       *sales.Manager
	Purchasing  *purchasing.Receiver
	Adjustments *adjustments.Recorder
	Notifier    *alerts.Notifier
	Hub         *alerts.Hub
	Metrics     *metrics.Metrics
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db     *sqlx.DB
	secret string
	svc    Services
	log    *zap.Logger
}

// New constructs a Handler.
func New(db *sqlx.DB, secret string, svc Services, log *zap.Logger) *Handler {
	return &Handler{db: db, secret: secret, svc: svc, log: logging.OrNop(log)}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if h.svc.Metrics != nil {
		r.Use(h.svc.Metrics.Middleware)
		r.Handle("/metrics", h.svc.Metrics.Handler())
	}

	r.Get("/health", h.health)

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Get("/medicines", h.searchMedicines)

		pr.Route("/sales", func(r chi.Router) {
			r.Post("/", h.createSale)
			r.Get("/{id}", h.getSale)
			r.Put("/{id}", h.updateSale)
			r.Delete("/{id}", h.deleteSale)
		})

		pr.Route("/purchase-orders", func(r chi.Router) {
			r.Post("/", h.createPurchaseOrder)
			r.Get("/{id}", h.getPurchaseOrder)
			r.Post("/{id}/receive", h.receivePurchaseOrder)
			r.Patch("/{id}/status", h.updatePurchaseOrderStatus)
		})

		pr.Route("/inventory", func(r chi.Router) {
			r.Post("/", h.createLot)
			r.Get("/", h.listLots)
			r.Post("/{id}/stock", h.changeLotStock)
		})

		pr.Route("/adjustments", func(r chi.Router) {
			r.Post("/", h.createAdjustment)
			r.Get("/", h.listAdjustments)
		})

		pr.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.currentAlerts)
			r.Post("/sweep", h.sweepAlerts)
			r.Get("/stream", h.streamAlerts)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable", "UNAVAILABLE")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Authentication helpers

type authClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// authMiddleware accepts a bearer header, or a token query parameter for
// EventSource clients that cannot set headers.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if header := r.Header.Get("Authorization"); header != "" {
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				respondError(w, http.StatusUnauthorized, "missing bearer token", "UNAUTHORIZED")
				return
			}
			tokenString = strings.TrimSpace(header[len("Bearer "):])
		}
		if tokenString == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token", "UNAUTHORIZED")
			return
		}
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token", "UNAUTHORIZED")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims", "UNAUTHORIZED")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	current, _ := r.Context().Value(ctxRole).(string)
	if current == "" {
		respondError(w, http.StatusUnauthorized, "missing role", "UNAUTHORIZED")
		return false
	}
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "insufficient permissions", "FORBIDDEN")
	return false
}

func userID(r *http.Request) *int64 {
	id, ok := r.Context().Value(ctxUserID).(int64)
	if !ok || id <= 0 {
		return nil
	}
	return &id
}

// Medicine search
func (h *Handler) searchMedicines(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("query")))
	medicines := []domain.Medicine{}
	err := h.db.SelectContext(r.Context(), &medicines, `SELECT id, name, quantity, cost_price, selling_price, expiry_date, manufacturing_date, updated_at FROM medicines
                WHERE LOWER(name) LIKE $1
                ORDER BY name LIMIT 50`, "%"+query+"%")
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, medicines)
}

// Helpers

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Errorf(domain.ErrValidation, "invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return domain.Errorf(domain.ErrValidation, "invalid request body: %v", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

var errorKinds = []struct {
	kind   error
	status int
	code   string
}{
	{domain.ErrInsufficientStock, http.StatusBadRequest, "INSUFFICIENT_STOCK"},
	{domain.ErrEmptyCart, http.StatusBadRequest, "EMPTY_CART"},
	{domain.ErrInvalidItem, http.StatusBadRequest, "INVALID_ITEM"},
	{domain.ErrValidation, http.StatusBadRequest, "VALIDATION"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrAlreadyReceived, http.StatusConflict, "ALREADY_RECEIVED"},
	{domain.ErrTerminalOrder, http.StatusConflict, "TERMINAL_ORDER"},
}

// respondErr maps domain error kinds to statuses. Anything else is logged
// and reported as a generic 500.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			respondError(w, k.status, err.Error(), k.code)
			return
		}
	}
	h.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error", "INTERNAL")
}
