// Package pages serves the static text pages (event info, contacts, ordering
// instructions) read from disk on every request.
package pages

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/Additional-Code/preorder/internal/config"
)

// ErrUnknownPage is returned for page names outside the fixed set.
var ErrUnknownPage = errors.New("unknown page")

var files = map[string]string{
	"info":         "info.txt",
	"contacts":     "contacts.txt",
	"instructions": "instructions.txt",
}

// Reader reads pages from a directory.
type Reader struct {
	dir string
}

// Module provides the page reader.
var Module = fx.Provide(NewReader)

// NewReader reads pages from cfg.Pages.Dir.
func NewReader(cfg config.Config) *Reader {
	return &Reader{dir: cfg.Pages.Dir}
}

// Read returns the text of page name. A missing file is not an error: the
// page then reads "<file> not found.".
func (r *Reader) Read(name string) (string, error) {
	file, ok := files[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPage, name)
	}
	data, err := os.ReadFile(filepath.Join(r.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return file + " not found.", nil
	}
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", name, err)
	}
	return string(data), nil
}

// Names lists the servable page names.
func Names() []string {
	return []string{"info", "contacts", "instructions"}
}
