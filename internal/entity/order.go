package entity

// LineItem is one ordered menu entry. Only entries with Quantity > 0 belong to an order.
type LineItem struct {
	Name     string
	Quantity int
}

// Order is a finalized pre-order as handed to the persister. Once written it is never modified.
type Order struct {
	Number       int64
	CustomerName string
	TableID      string
	Covers       int
	Items        []LineItem
}

// ItemCount returns the total number of ordered units.
func (o Order) ItemCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}
