package pages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/preorder/internal/config"
)

func TestReadPages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contacts.txt"), []byte("Gruppo Alpini\n"), 0o644))
	r := NewReader(config.Config{Pages: config.Pages{Dir: dir}})

	text, err := r.Read("contacts")
	require.NoError(t, err)
	require.Equal(t, "Gruppo Alpini\n", text)

	text, err = r.Read("info")
	require.NoError(t, err)
	require.Equal(t, "info.txt not found.", text)

	_, err = r.Read("../etc/passwd")
	require.ErrorIs(t, err, ErrUnknownPage)

	for _, name := range Names() {
		_, err := r.Read(name)
		require.NoError(t, err)
	}
}
