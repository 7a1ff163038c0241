package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/henna-boutique/api/internal/cart"
	"github.com/henna-boutique/api/internal/database"
	"github.com/henna-boutique/api/internal/enum"
	"github.com/henna-boutique/api/internal/middleware"
	"github.com/henna-boutique/api/internal/notify"
	"github.com/henna-boutique/api/internal/payment"
	"github.com/henna-boutique/api/internal/service"
	"github.com/henna-boutique/api/internal/session"
	"github.com/henna-boutique/api/internal/totals"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IntentSyncer keeps the session's payment intent in step with the cart.
// Satisfied by *payment.Synchronizer.
type IntentSyncer interface {
	Ensure(ctx context.Context, existingID string, amount int64, meta payment.Metadata) (*payment.Intent, error)
	Refresh(ctx context.Context, existingID string, amount int64, meta payment.Metadata) (*payment.Intent, error)
	SyncForOrder(ctx context.Context, id string, amount int64, meta payment.Metadata) (*payment.Intent, error)
	CacheCheckoutData(ctx context.Context, clientSecret string, meta payment.Metadata) error
	Cancel(ctx context.Context, id string)
}

// OrderCreator defines the service method needed by the order form.
// Satisfied by *service.OrderService.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
}

// CheckoutStore defines the database methods needed by checkout handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type CheckoutStore interface {
	ListProductsByIDs(ctx context.Context, ids []int64) ([]database.Product, error)
	GetDeliveryMethod(ctx context.Context, id int64) (database.DeliveryMethod, error)
	ListActiveDeliveryMethods(ctx context.Context) ([]database.DeliveryMethod, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
}

// CheckoutHandler serves the checkout page data, the order form and the
// AJAX endpoints the page calls while the customer pays.
type CheckoutHandler struct {
	store     CheckoutStore
	sessions  session.Store
	orders    OrderCreator
	intents   IntentSyncer
	calc      totals.Calculator
	publicKey string
	notifier  notify.Notifier
	logger    *zap.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(
	store CheckoutStore,
	sessions session.Store,
	orders OrderCreator,
	intents IntentSyncer,
	calc totals.Calculator,
	publicKey string,
	notifier notify.Notifier,
	logger *zap.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		store:     store,
		sessions:  sessions,
		orders:    orders,
		intents:   intents,
		calc:      calc,
		publicKey: publicKey,
		notifier:  notifier,
		logger:    logger,
	}
}

// RegisterRoutes registers checkout endpoints. Expected to be mounted at
// /checkout behind the Session middleware.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Page)
	r.Post("/", h.PlaceOrder)
	r.Post("/cache-data", h.CacheData)
	r.Post("/update-delivery/{id}", h.UpdateDelivery)
	r.Get("/success/{order_number}", h.Success)
	r.Get("/delivery-methods", h.DeliveryMethods)
}

// --- Request / Response types ---

type checkoutPageResponse struct {
	totalsResponse
	DeliveryMethodID *int64                   `json:"delivery_method_id"`
	DeliveryMethods  []deliveryMethodResponse `json:"delivery_methods"`
	CartItems        []cartLineResponse       `json:"cart_items"`
	ProductCount     int                      `json:"product_count"`
	StripePublicKey  string                   `json:"stripe_public_key"`
	ClientSecret     string                   `json:"client_secret"`
}

type placeOrderRequest struct {
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	PhoneNumber    string `json:"phone_number"`
	Country        string `json:"country"`
	Postcode       string `json:"postcode"`
	TownOrCity     string `json:"town_or_city"`
	StreetAddress1 string `json:"street_address1"`
	StreetAddress2 string `json:"street_address2"`
	County         string `json:"county"`
	ClientSecret   string `json:"client_secret"`
	DeliveryMethod int64  `json:"delivery_method"`
	SaveInfo       bool   `json:"save_info"`
}

func (r placeOrderRequest) contact() service.Contact {
	return service.Contact{
		FullName:       r.FullName,
		Email:          r.Email,
		PhoneNumber:    r.PhoneNumber,
		Country:        r.Country,
		Postcode:       r.Postcode,
		TownOrCity:     r.TownOrCity,
		StreetAddress1: r.StreetAddress1,
		StreetAddress2: r.StreetAddress2,
		County:         r.County,
	}
}

type placeOrderResponse struct {
	OrderNumber string        `json:"order_number"`
	Redirect    string        `json:"redirect"`
	Order       orderResponse `json:"order"`
}

type cacheDataRequest struct {
	ClientSecret string `json:"client_secret"`
	SaveInfo     bool   `json:"save_info"`
}

type updateDeliveryResponse struct {
	DeliveryCost          string `json:"delivery_cost"`
	GrandTotal            string `json:"grand_total"`
	GrandTotalWithVat     string `json:"grand_total_with_vat"`
	VatAmount             string `json:"vat_amount"`
	EstimatedDeliveryTime string `json:"estimated_delivery_time"`
	CompanyName           string `json:"company_name"`
	DeliveryName          string `json:"delivery_name"`
	ClientSecret          string `json:"client_secret"`
}

type successResponse struct {
	Order    orderResponse `json:"order"`
	SaveInfo bool          `json:"save_info"`
	Message  string        `json:"message"`
}

// --- Handlers ---

// Page handles GET /checkout.
func (h *CheckoutHandler) Page(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	if len(sess.Cart) == 0 {
		writeRedirect(w, http.StatusConflict, msgEmptyCart, redirectCart)
		return
	}

	method, err := h.sessionDelivery(ctx, sess)
	if err != nil {
		h.logger.Error("load delivery method", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	contents, t, ok := h.price(w, r, sess.Cart, method)
	if !ok {
		return
	}
	methods, err := h.store.ListActiveDeliveryMethods(ctx)
	if err != nil {
		h.logger.Error("list delivery methods", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	meta, err := h.metadata(ctx, sess)
	if err != nil {
		h.logger.Error("encode cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	intent, err := h.intents.Ensure(ctx, sess.PaymentIntentID, t.ChargeAmount(), meta)
	if err != nil {
		h.intentFailed(w, "ensure intent", err)
		return
	}
	sess.PaymentIntentID = intent.ID
	if !saveSession(w, r, h.sessions, sess, h.logger) {
		return
	}

	if h.publicKey == "" {
		h.logger.Warn("payment provider public key is missing")
	}

	resp := checkoutPageResponse{
		totalsResponse:  toTotalsResponse(h.calc, t),
		DeliveryMethods: make([]deliveryMethodResponse, len(methods)),
		CartItems:       toCartLines(contents),
		ProductCount:    contents.ProductCount,
		StripePublicKey: h.publicKey,
		ClientSecret:    intent.ClientSecret,
	}
	if method != nil {
		resp.DeliveryMethodID = &method.ID
	}
	for i, m := range methods {
		resp.DeliveryMethods[i] = toDeliveryMethodResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PlaceOrder handles POST /checkout: the browser submits the order form after
// the payment provider confirmed the card.
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	if len(sess.Cart) == 0 {
		writeRedirect(w, http.StatusConflict, msgEmptyCart, redirectCart)
		return
	}

	contact := req.contact()
	if err := contact.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidForm)
		return
	}
	pid, err := payment.IntentIDFromSecret(req.ClientSecret)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidForm)
		return
	}

	deliveryID := req.DeliveryMethod
	if deliveryID == 0 {
		deliveryID = sess.DeliveryMethodID
	}
	var method *database.DeliveryMethod
	if deliveryID > 0 {
		m, err := h.store.GetDeliveryMethod(ctx, deliveryID)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !m.Active) {
			writeError(w, http.StatusBadRequest, msgInvalidDelivery)
			return
		}
		if err != nil {
			h.logger.Error("get delivery method", zap.Int64("delivery_method_id", deliveryID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		method = &m
	}

	_, t, ok := h.price(w, r, sess.Cart, method)
	if !ok {
		return
	}

	sess.DeliveryMethodID = deliveryID
	sess.SaveInfo = req.SaveInfo
	meta, err := h.metadata(ctx, sess)
	if err != nil {
		h.logger.Error("encode cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	log := h.logger.With(zap.String("payment_intent", pid))
	// The customer has already paid against pid; it stays the session's
	// intent whatever the sync outcome.
	if _, err := h.intents.SyncForOrder(ctx, pid, t.ChargeAmount(), meta); err != nil {
		log.Error("sync intent for order", zap.Error(err))
	}

	result, err := h.orders.CreateOrder(ctx, service.CreateOrderRequest{
		Contact:          contact,
		StripePID:        pid,
		Cart:             sess.Cart,
		DeliveryMethodID: deliveryID,
		Totals:           t,
		Username:         middleware.UsernameFromContext(ctx),
	})
	status := http.StatusCreated
	switch {
	case errors.Is(err, service.ErrDuplicatePayment) && result != nil:
		// The webhook stored this payment first.
		log.Info("order already recorded for payment", zap.String("order_number", result.Order.OrderNumber))
		status = http.StatusOK
	case errors.Is(err, service.ErrProductNotFound):
		writeRedirect(w, http.StatusConflict, msgProductMissing, redirectCart)
		return
	case errors.Is(err, service.ErrInvalidContact), errors.Is(err, cart.ErrInvalidProductID), errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, msgInvalidForm)
		return
	case err != nil:
		log.Error("create order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	sess.PaymentIntentID = pid
	if !saveSession(w, r, h.sessions, sess, h.logger) {
		return
	}

	if status == http.StatusCreated {
		h.notify(ctx, notify.EventOrderCreated, result.Order, result.Items)
	}

	number := result.Order.OrderNumber
	writeJSON(w, status, placeOrderResponse{
		OrderNumber: number,
		Redirect:    "/checkout/success/" + number,
		Order:       toOrderResponse(result.Order, result.Items),
	})
}

// CacheData handles POST /checkout/cache-data.
func (h *CheckoutHandler) CacheData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cacheDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgPaymentUnavailable)
		return
	}

	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	sess.SaveInfo = req.SaveInfo
	meta, err := h.metadata(ctx, sess)
	if err != nil {
		h.logger.Error("encode cart", zap.Error(err))
		writeError(w, http.StatusBadRequest, msgPaymentUnavailable)
		return
	}

	if err := h.intents.CacheCheckoutData(ctx, req.ClientSecret, meta); err != nil {
		h.logger.Warn("cache checkout data", zap.Error(err))
		writeError(w, http.StatusBadRequest, msgPaymentUnavailable)
		return
	}
	if !saveSession(w, r, h.sessions, sess, h.logger) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpdateDelivery handles POST /checkout/update-delivery/{id}.
func (h *CheckoutHandler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, msgInvalidDelivery)
		return
	}

	method, err := h.store.GetDeliveryMethod(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !method.Active) {
		writeError(w, http.StatusBadRequest, msgInvalidDelivery)
		return
	}
	if err != nil {
		h.logger.Error("get delivery method", zap.Int64("delivery_method_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	if len(sess.Cart) == 0 {
		writeRedirect(w, http.StatusConflict, msgEmptyCart, redirectCart)
		return
	}
	_, t, ok := h.price(w, r, sess.Cart, &method)
	if !ok {
		return
	}

	sess.DeliveryMethodID = id
	meta, err := h.metadata(ctx, sess)
	if err != nil {
		h.logger.Error("encode cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	intent, err := h.intents.Refresh(ctx, sess.PaymentIntentID, t.ChargeAmount(), meta)
	if err != nil {
		h.intentFailed(w, "refresh intent", err)
		return
	}
	sess.PaymentIntentID = intent.ID
	if !saveSession(w, r, h.sessions, sess, h.logger) {
		return
	}

	writeJSON(w, http.StatusOK, updateDeliveryResponse{
		DeliveryCost:          t.DeliveryCost.StringFixed(2),
		GrandTotal:            t.GrandTotal.StringFixed(2),
		GrandTotalWithVat:     t.GrandTotalWithVAT.StringFixed(2),
		VatAmount:             t.VATAmount.StringFixed(2),
		EstimatedDeliveryTime: method.EstimatedDeliveryTime,
		CompanyName:           method.CompanyName,
		DeliveryName:          t.DeliveryName,
		ClientSecret:          intent.ClientSecret,
	})
}

// Success handles GET /checkout/success/{order_number}.
func (h *CheckoutHandler) Success(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := chi.URLParam(r, "order_number")

	order, err := h.store.GetOrderByNumber(ctx, number)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("get order", zap.String("order_number", number), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	// Only the session that paid for the order may see it, and only once:
	// clearing the checkout drops the intent that proves ownership.
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	if sess.PaymentIntentID == "" || sess.PaymentIntentID != order.StripePid {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	items, err := h.store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		h.logger.Error("list order items", zap.String("order_number", number), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.notify(ctx, notify.EventOrderConfirmed, order, items)

	saveInfo := sess.SaveInfo
	h.intents.Cancel(ctx, sess.PaymentIntentID)
	sess.ClearCheckout()
	if !saveSession(w, r, h.sessions, sess, h.logger) {
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Order:    toOrderResponse(order, items),
		SaveInfo: saveInfo,
		Message: "Order successfully processed! Your order number is " + number +
			". A confirmation email has been sent to " + order.Email + ".",
	})
}

// DeliveryMethods handles GET /checkout/delivery-methods.
func (h *CheckoutHandler) DeliveryMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.store.ListActiveDeliveryMethods(r.Context())
	if err != nil {
		h.logger.Error("list delivery methods", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	resp := make([]deliveryMethodResponse, len(methods))
	for i, m := range methods {
		resp[i] = toDeliveryMethodResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// sessionDelivery returns the delivery method chosen earlier in the session.
// A choice that no longer exists or was deactivated is forgotten.
func (h *CheckoutHandler) sessionDelivery(ctx context.Context, sess *session.Data) (*database.DeliveryMethod, error) {
	if sess.DeliveryMethodID == 0 {
		return nil, nil
	}
	m, err := h.store.GetDeliveryMethod(ctx, sess.DeliveryMethodID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !m.Active) {
		sess.DeliveryMethodID = 0
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// price prices the cart and computes totals with method's cost, writing the
// error response itself when it fails.
func (h *CheckoutHandler) price(w http.ResponseWriter, r *http.Request, c cart.Cart, method *database.DeliveryMethod) (*service.CartContents, totals.Totals, bool) {
	contents, err := service.PriceCart(r.Context(), h.store, c)
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			writeRedirect(w, http.StatusConflict, msgProductMissing, redirectCart)
		} else {
			h.logger.Error("price cart", zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgInternal)
		}
		return nil, totals.Totals{}, false
	}

	cost := decimal.Zero
	if method != nil {
		cost = numericToDecimal(method.Cost)
	}
	t := h.calc.Compute(contents.Subtotal, cost)
	if method != nil {
		t.DeliveryName = method.Name
	}
	return contents, t, true
}

func (h *CheckoutHandler) metadata(ctx context.Context, sess *session.Data) (payment.Metadata, error) {
	snapshot, err := cart.Encode(sess.Cart)
	if err != nil {
		return payment.Metadata{}, err
	}
	return payment.Metadata{
		Cart:             snapshot,
		DeliveryMethodID: sess.DeliveryMethodID,
		SaveInfo:         sess.SaveInfo,
		Username:         middleware.UsernameFromContext(ctx),
	}, nil
}

func (h *CheckoutHandler) intentFailed(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, payment.ErrMetadataTooLarge) {
		writeError(w, http.StatusBadRequest, "Your cart is too large to check out in one order.")
		return
	}
	h.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, msgPaymentUnavailable)
}

func (h *CheckoutHandler) notify(ctx context.Context, event string, o database.Order, items []database.OrderItem) {
	msg := notify.NewOrderMessage(event, o, items)
	msg.Source = enum.OrderSourceCheckout
	if err := h.notifier.Notify(ctx, msg); err != nil {
		h.logger.Warn("order notification failed",
			zap.String("event", event),
			zap.String("order_number", o.OrderNumber),
			zap.Error(err),
		)
	}
}
