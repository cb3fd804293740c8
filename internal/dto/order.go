package dto

// ReceiptLine is one priced row of a receipt.
type ReceiptLine struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

// ReceiptResponse is returned after a successful submission.
type ReceiptResponse struct {
	Number   int64         `json:"number"`
	Key      string        `json:"key"`
	Customer string        `json:"customer"`
	Table    string        `json:"table"`
	Covers   int           `json:"covers"`
	Lines    []ReceiptLine `json:"lines"`
	Total    float64       `json:"total"`
}

// OrderItem mirrors a persisted line item.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// OrderResponse represents a persisted order record.
type OrderResponse struct {
	Key      string      `json:"key"`
	Number   int64       `json:"number"`
	Customer string      `json:"customer"`
	Table    string      `json:"table"`
	Covers   int         `json:"covers"`
	Items    []OrderItem `json:"items"`
}

// MenuItem is a priced menu entry.
type MenuItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}
