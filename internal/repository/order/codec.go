package order

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/Additional-Code/preorder/internal/entity"
)

const (
	headerName     = "NAME"
	headerValue    = "VALUE"
	rowCustomer    = "CUSTOMER_NAME"
	rowTable       = "TABLE"
	rowCovers      = "COVERS"
	fixedRowsCount = 4
)

// encodeRecord renders the two-column record body. Free text is quoted by the
// csv writer so commas and quotes survive a round trip.
func encodeRecord(o entity.Order) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := make([][]string, 0, fixedRowsCount+len(o.Items))
	rows = append(rows,
		[]string{headerName, headerValue},
		[]string{rowCustomer, o.CustomerName},
		[]string{rowTable, o.TableID},
		[]string{rowCovers, strconv.Itoa(o.Covers)},
	)
	for _, item := range o.Items {
		rows = append(rows, []string{item.Name, strconv.Itoa(item.Quantity)})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeRecord parses a body written by encodeRecord. The order number is not
// part of the body; callers take it from the key.
func decodeRecord(data []byte) (entity.Order, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 2

	rows, err := r.ReadAll()
	if err != nil {
		return entity.Order{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rows) < fixedRowsCount {
		return entity.Order{}, fmt.Errorf("%w: %d rows, want at least %d", ErrCorrupt, len(rows), fixedRowsCount)
	}

	expect := []string{headerName, rowCustomer, rowTable, rowCovers}
	for i, label := range expect {
		if rows[i][0] != label {
			return entity.Order{}, fmt.Errorf("%w: row %d is %q, want %q", ErrCorrupt, i+1, rows[i][0], label)
		}
	}

	covers, err := strconv.Atoi(strings.TrimSpace(rows[3][1]))
	if err != nil || covers < 0 {
		return entity.Order{}, fmt.Errorf("%w: covers %q", ErrCorrupt, rows[3][1])
	}

	order := entity.Order{
		CustomerName: rows[1][1],
		TableID:      rows[2][1],
		Covers:       covers,
	}
	for _, row := range rows[fixedRowsCount:] {
		qty, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil || qty <= 0 {
			return entity.Order{}, fmt.Errorf("%w: quantity %q for %q", ErrCorrupt, row[1], row[0])
		}
		order.Items = append(order.Items, entity.LineItem{Name: row[0], Quantity: qty})
	}
	return order, nil
}
