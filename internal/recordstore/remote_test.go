package recordstore

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/preorder/internal/config"
)

const fakeContentsPrefix = "/repos/alpini/preordini/contents/"

// fakeContents emulates the subset of the repository contents API the store uses.
type fakeContents struct {
	mu       sync.Mutex
	token    string
	files    map[string][]byte
	messages []string
	status   int
}

func newFakeContents(token string) *fakeContents {
	return &fakeContents{token: token, files: map[string][]byte{}}
}

func (f *fakeContents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		writeJSON(w, f.status, map[string]string{"message": "forced failure"})
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	if !strings.HasPrefix(r.URL.Path, fakeContentsPrefix) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	path := strings.TrimPrefix(r.URL.Path, fakeContentsPrefix)
	current, exists := f.files[path]

	switch r.Method {
	case http.MethodGet:
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, remoteContent{
			SHA:      blobSHA(current),
			Content:  wrap60(base64.StdEncoding.EncodeToString(current)),
			Encoding: "base64",
		})
	case http.MethodPut:
		var req remotePutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
			return
		}
		switch {
		case exists && req.SHA == "":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": `"sha" wasn't supplied.`})
			return
		case exists && req.SHA != blobSHA(current):
			writeJSON(w, http.StatusConflict, map[string]string{"message": "is at " + blobSHA(current)})
			return
		case !exists && req.SHA != "":
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		value, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "content is not valid Base64"})
			return
		}
		f.files[path] = value
		f.messages = append(f.messages, req.Message)
		status := http.StatusOK
		if !exists {
			status = http.StatusCreated
		}
		writeJSON(w, status, remotePutResponse{Content: remoteContent{SHA: blobSHA(value)}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeRemoteStore(t *testing.T, fake http.Handler, token string) *RemoteStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewRemoteStore(config.Remote{
		BaseURL: srv.URL,
		Owner:   "alpini",
		Repo:    "preordini",
		Token:   token,
		Timeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return store
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func blobSHA(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func wrap60(s string) string {
	var b strings.Builder
	for len(s) > 60 {
		b.WriteString(s[:60])
		b.WriteByte('\n')
		s = s[60:]
	}
	b.WriteString(s)
	return b.String()
}

func TestRemoteStoreMissingCredential(t *testing.T) {
	store := newFakeRemoteStore(t, newFakeContents("s3cret"), "")

	_, err := store.Read(context.Background(), "counter")
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = store.Write(context.Background(), "counter", []byte("1"), "increment", "")
	require.ErrorIs(t, err, ErrMissingCredential)
	require.False(t, IsConflict(err))
}

func TestRemoteStoreBadCredentialIsNotConflict(t *testing.T) {
	store := newFakeRemoteStore(t, newFakeContents("s3cret"), "wrong")

	_, err := store.Write(context.Background(), "counter", []byte("1"), "increment", "")
	require.Error(t, err)
	require.False(t, IsConflict(err))
	require.Contains(t, err.Error(), "authentication failed")
}

func TestRemoteStoreServerErrorIsNotConflict(t *testing.T) {
	fake := newFakeContents("s3cret")
	fake.status = http.StatusBadGateway
	store := newFakeRemoteStore(t, fake, "s3cret")

	_, err := store.Read(context.Background(), "counter")
	require.Error(t, err)
	require.False(t, IsNotFound(err))

	_, err = store.Write(context.Background(), "counter", []byte("1"), "increment", "")
	require.Error(t, err)
	require.False(t, IsConflict(err))
}

func TestRemoteStoreTimeoutIsNotConflict(t *testing.T) {
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(slow)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	store, err := NewRemoteStore(config.Remote{
		BaseURL: srv.URL,
		Owner:   "alpini",
		Repo:    "preordini",
		Token:   "s3cret",
	}, &http.Client{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = store.Write(context.Background(), "counter", []byte("1"), "increment", "")
	require.Error(t, err)
	require.False(t, IsConflict(err))
}

func TestRemoteStoreSendsCommitMessageAndWrappedContent(t *testing.T) {
	fake := newFakeContents("s3cret")
	store := newFakeRemoteStore(t, fake, "s3cret")
	long := []byte(strings.Repeat("NAME,VALUE\n", 20))

	_, err := store.Write(context.Background(), "orders/7_Anna.csv", long, "new order 7_Anna", "")
	require.NoError(t, err)

	entry, err := store.Read(context.Background(), "orders/7_Anna.csv")
	require.NoError(t, err)
	require.Equal(t, long, entry.Value)
	require.Equal(t, Version(blobSHA(long)), entry.Version)
	require.Equal(t, []string{"new order 7_Anna"}, fake.messages)
}

func TestNewRemoteStoreValidatesConfig(t *testing.T) {
	_, err := NewRemoteStore(config.Remote{Owner: "a", Repo: "b"}, nil)
	require.Error(t, err)

	_, err = NewRemoteStore(config.Remote{BaseURL: "https://api.github.com"}, nil)
	require.Error(t, err)
}
