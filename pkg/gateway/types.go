package gateway

// OrderStatus is the gateway's view of an order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusAttempted OrderStatus = "attempted"
	OrderStatusPaid      OrderStatus = "paid"
)

// PaymentStatus is the gateway's view of a charge lifecycle.
type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Order is a gateway-side record of an intended charge. Notes carry the
// plan/user metadata that makes webhook events self-describing.
type Order struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     OrderStatus       `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

// Payment is a gateway-side charge against an order.
type Payment struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           PaymentStatus     `json:"status"`
	Method           string            `json:"method"`
	Email            string            `json:"email"`
	Contact          string            `json:"contact"`
	ErrorCode        string            `json:"error_code,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Notes            map[string]string `json:"notes"`
	CreatedAt        int64             `json:"created_at"`
}

// Refund is a gateway-side refund against a captured payment.
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// CreateOrderParams carries the request body for order creation.
type CreateOrderParams struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}
