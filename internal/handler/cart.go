package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/henna-boutique/api/internal/cart"
	"github.com/henna-boutique/api/internal/middleware"
	"github.com/henna-boutique/api/internal/service"
	"github.com/henna-boutique/api/internal/session"
	"github.com/henna-boutique/api/internal/totals"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartHandler handles the session-scoped shopping cart.
type CartHandler struct {
	sessions session.Store
	products service.ProductReader
	calc     totals.Calculator
	logger   *zap.Logger
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(sessions session.Store, products service.ProductReader, calc totals.Calculator, logger *zap.Logger) *CartHandler {
	return &CartHandler{sessions: sessions, products: products, calc: calc, logger: logger}
}

// RegisterRoutes registers cart endpoints. Expected to be mounted at /cart
// behind the Session middleware.
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.View)
	r.Post("/items", h.Add)
	r.Patch("/items/{pid}", h.Update)
	r.Delete("/items/{pid}", h.Remove)
}

// --- Request / Response types ---

type addItemRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartResponse struct {
	Items             []cartLineResponse `json:"cart_items"`
	Total             string             `json:"total"`
	ProductCount      int                `json:"product_count"`
	FreeDeliveryDelta string             `json:"free_delivery_delta"`
	IsThresholdMet    bool               `json:"is_threshold_met"`
}

// --- Handlers ---

// View handles GET /cart.
func (h *CartHandler) View(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, sess.Cart)
}

// Add handles POST /cart/items.
func (h *CartHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID <= 0 {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	found, err := h.products.ListProductsByIDs(r.Context(), []int64{req.ProductID})
	if err != nil {
		h.logger.Error("look up product", zap.Int64("product_id", req.ProductID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if len(found) == 0 || !found[0].IsAvailable {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}

	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := sess.Cart.Add(req.ProductID, req.Quantity, req.Size); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.save(w, r, sess) {
		return
	}
	h.respond(w, r, http.StatusCreated, sess.Cart)
}

// Update handles PATCH /cart/items/{pid}. A quantity of zero removes the item.
func (h *CartHandler) Update(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseInt(chi.URLParam(r, "pid"), 10, 64)
	if err != nil || pid <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product ID")
		return
	}
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, exists := sess.Cart[strconv.FormatInt(pid, 10)]; !exists {
		writeError(w, http.StatusNotFound, "item not in cart")
		return
	}
	if err := sess.Cart.Set(pid, req.Quantity); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.save(w, r, sess) {
		return
	}
	h.respond(w, r, http.StatusOK, sess.Cart)
}

// Remove handles DELETE /cart/items/{pid}.
func (h *CartHandler) Remove(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseInt(chi.URLParam(r, "pid"), 10, 64)
	if err != nil || pid <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	sess.Cart.Remove(pid)
	if !h.save(w, r, sess) {
		return
	}
	h.respond(w, r, http.StatusOK, sess.Cart)
}

// --- Helpers ---

func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, status int, c cart.Cart) {
	contents, err := service.PriceCart(r.Context(), h.products, c)
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			writeError(w, http.StatusConflict, msgProductMissing)
			return
		}
		h.logger.Error("price cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	t := h.calc.Compute(contents.Subtotal, decimal.Zero)
	writeJSON(w, status, cartResponse{
		Items:             toCartLines(contents),
		Total:             contents.Subtotal.StringFixed(2),
		ProductCount:      contents.ProductCount,
		FreeDeliveryDelta: t.FreeDeliveryDelta.StringFixed(2),
		IsThresholdMet:    h.calc.ThresholdMet(contents.Subtotal),
	})
}

func (h *CartHandler) load(w http.ResponseWriter, r *http.Request) (*session.Data, bool) {
	return loadSession(w, r, h.sessions, h.logger)
}

func (h *CartHandler) save(w http.ResponseWriter, r *http.Request, d *session.Data) bool {
	return saveSession(w, r, h.sessions, d, h.logger)
}

func loadSession(w http.ResponseWriter, r *http.Request, store session.Store, logger *zap.Logger) (*session.Data, bool) {
	id := middleware.SessionIDFromContext(r.Context())
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session")
		return nil, false
	}
	d, err := store.Load(r.Context(), id)
	if err != nil {
		logger.Error("load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return nil, false
	}
	return d, true
}

func saveSession(w http.ResponseWriter, r *http.Request, store session.Store, d *session.Data, logger *zap.Logger) bool {
	if err := store.Save(r.Context(), middleware.SessionIDFromContext(r.Context()), d); err != nil {
		logger.Error("save session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return false
	}
	return true
}
