// Package menu loads the priced item list offered on the order form.
package menu

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/config"
)

// Item is one priced menu entry.
type Item struct {
	Name  string
	Price float64
}

// Menu is the ordered list of items. Order is preserved from the source file.
type Menu struct {
	items []Item
}

// Module provides the menu loaded at startup.
var Module = fx.Provide(NewMenu)

// NewMenu loads the menu from cfg.Menu.Path. A missing file yields an empty menu.
func NewMenu(cfg config.Config, logger *zap.Logger) (*Menu, error) {
	m, err := LoadFile(cfg.Menu.Path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("menu file not found; serving an empty menu", zap.String("path", cfg.Menu.Path))
		return New(nil), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("menu loaded", zap.String("path", cfg.Menu.Path), zap.Int("items", len(m.items)))
	return m, nil
}

// New builds a menu from items. Later duplicates of a name are ignored.
func New(items []Item) *Menu {
	m := &Menu{}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.Name]; dup {
			continue
		}
		seen[item.Name] = struct{}{}
		m.items = append(m.items, item)
	}
	return m
}

// LoadFile reads a "name,price" CSV file with a header row.
func LoadFile(path string) (*Menu, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a "name,price" CSV document. The first row is a header.
func Parse(r io.Reader) (*Menu, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse menu: %w", err)
	}
	if len(rows) == 0 {
		return New(nil), nil
	}

	items := make([]Item, 0, len(rows)-1)
	for i, row := range rows[1:] {
		name := strings.TrimSpace(row[0])
		if name == "" {
			return nil, fmt.Errorf("parse menu: row %d has no name", i+2)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("parse menu: row %d: invalid price %q", i+2, row[1])
		}
		items = append(items, Item{Name: name, Price: price})
	}
	return New(items), nil
}

// Items returns a copy of the menu entries in menu order.
func (m *Menu) Items() []Item {
	return append([]Item(nil), m.items...)
}
