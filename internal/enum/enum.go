package enum

// ── Roles carried in access tokens ──

const (
	UserRoleCustomer = "CUSTOMER"
	UserRoleStaff    = "STAFF"
	UserRoleOwner    = "OWNER"
)

// ── Live feed rooms ──

const (
	RoomOrders = "orders"
)

// ── Order notification sources ──

const (
	OrderSourceCheckout = "checkout"
	OrderSourceWebhook  = "webhook"
)
