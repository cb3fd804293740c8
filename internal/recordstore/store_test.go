package recordstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type storeFactory func(t *testing.T) Store

func TestStoreContract(t *testing.T) {
	backends := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			store, err := NewFileStore(t.TempDir(), zap.NewNop())
			require.NoError(t, err)
			return store
		},
		"pebble": func(t *testing.T) Store {
			store, err := OpenPebbleStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStore(client, "test:")
		},
		"remote": func(t *testing.T) Store {
			return newFakeRemoteStore(t, newFakeContents("s3cret"), "s3cret")
		},
		"decorated": func(t *testing.T) Store {
			return WithTracing(WithTimeout(NewMemoryStore(), time.Second), "memory")
		},
	}

	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			runStoreContract(t, factory)
		})
	}
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("read missing key", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Read(ctx, "counter")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create then read", func(t *testing.T) {
		store := newStore(t)
		version, err := store.Write(ctx, "counter", []byte(`{"counter":1}`), "increment", "")
		require.NoError(t, err)
		require.NotEmpty(t, version)

		entry, err := store.Read(ctx, "counter")
		require.NoError(t, err)
		require.Equal(t, `{"counter":1}`, string(entry.Value))
		require.Equal(t, version, entry.Version)
	})

	t.Run("create on existing key conflicts", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Write(ctx, "orders/1_Anna.csv", []byte("first"), "new order", "")
		require.NoError(t, err)

		_, err = store.Write(ctx, "orders/1_Anna.csv", []byte("second"), "new order", "")
		require.ErrorIs(t, err, ErrConflict)

		entry, err := store.Read(ctx, "orders/1_Anna.csv")
		require.NoError(t, err)
		require.Equal(t, "first", string(entry.Value))
	})

	t.Run("conditional update", func(t *testing.T) {
		store := newStore(t)
		v1, err := store.Write(ctx, "counter", []byte("1"), "increment", "")
		require.NoError(t, err)

		v2, err := store.Write(ctx, "counter", []byte("2"), "increment", v1)
		require.NoError(t, err)
		require.NotEqual(t, v1, v2)

		_, err = store.Write(ctx, "counter", []byte("3"), "increment", v1)
		require.ErrorIs(t, err, ErrConflict)

		entry, err := store.Read(ctx, "counter")
		require.NoError(t, err)
		require.Equal(t, "2", string(entry.Value))
		require.Equal(t, v2, entry.Version)
	})

	t.Run("update of missing key conflicts", func(t *testing.T) {
		store := newStore(t)
		version, err := store.Write(ctx, "orders/1_Anna.csv", []byte("1"), "new order", "")
		require.NoError(t, err)

		_, err = store.Write(ctx, "counter", []byte("2"), "increment", version)
		require.ErrorIs(t, err, ErrConflict)

		_, err = store.Read(ctx, "counter")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects unsafe keys", func(t *testing.T) {
		store := newStore(t)
		for _, key := range []string{"", "../escape", "/abs", "a//b", "orders/./x"} {
			_, err := store.Write(ctx, key, []byte("x"), "bad", "")
			require.ErrorIs(t, err, ErrInvalidKey, key)
		}
	})

	t.Run("concurrent read-modify-write loses no increments", func(t *testing.T) {
		store := newStore(t)
		const writers = 12

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- incrementUntilCommitted(ctx, store)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		entry, err := store.Read(ctx, "counter")
		require.NoError(t, err)
		var doc struct{ Counter int }
		require.NoError(t, json.Unmarshal(entry.Value, &doc))
		require.Equal(t, writers, doc.Counter)
	})
}

func incrementUntilCommitted(ctx context.Context, store Store) error {
	for {
		var doc struct {
			Counter int `json:"counter"`
		}
		var version Version
		entry, err := store.Read(ctx, "counter")
		switch {
		case err == nil:
			if err := json.Unmarshal(entry.Value, &doc); err != nil {
				return err
			}
			version = entry.Version
		case IsNotFound(err):
		default:
			return err
		}

		doc.Counter++
		payload, _ := json.Marshal(doc)
		_, err = store.Write(ctx, "counter", payload, "increment", version)
		if IsConflict(err) {
			continue
		}
		return err
	}
}

type slowStore struct{}

func (slowStore) Read(ctx context.Context, _ string) (Entry, error) {
	<-ctx.Done()
	return Entry{}, ctx.Err()
}

func (slowStore) Write(ctx context.Context, _ string, _ []byte, _ string, _ Version) (Version, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithTimeoutSurfacesDeadlineNotConflict(t *testing.T) {
	store := WithTimeout(slowStore{}, 20*time.Millisecond)

	_, err := store.Read(context.Background(), "counter")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = store.Write(context.Background(), "counter", []byte("1"), "increment", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsConflict(err))
}

func TestPingUnwrapsDecorators(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := WithTracing(WithTimeout(NewRedisStore(client, "test:"), time.Second), "redis")
	require.NoError(t, Ping(context.Background(), store))

	unreachable := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = unreachable.Close() })
	require.Error(t, Ping(context.Background(), WithTracing(NewRedisStore(unreachable, "test:"), "redis")))

	require.NoError(t, Ping(context.Background(), WithTracing(NewMemoryStore(), "memory")))
}

func TestValidateKey(t *testing.T) {
	require.NoError(t, ValidateKey("counter"))
	require.NoError(t, ValidateKey("orders/12_AnnaOBrien2.csv"))
	require.ErrorIs(t, ValidateKey("  "), ErrInvalidKey)
	require.ErrorIs(t, ValidateKey("orders/../counter"), ErrInvalidKey)
	require.ErrorIs(t, ValidateKey(`orders\x`), ErrInvalidKey)
	require.ErrorIs(t, ValidateKey("orders/"), ErrInvalidKey)
}
