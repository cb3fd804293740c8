package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/preorder/internal/cache"
	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/entity"
	"github.com/Additional-Code/preorder/internal/menu"
	"github.com/Additional-Code/preorder/internal/messaging"
	"github.com/Additional-Code/preorder/internal/recordstore"
	repo "github.com/Additional-Code/preorder/internal/repository/order"
	"github.com/Additional-Code/preorder/internal/sequence"
	"github.com/Additional-Code/preorder/pkg/errorbank"
)

type published struct {
	key     string
	value   []byte
	headers map[string]string
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *recordingPublisher) Publish(_ context.Context, key, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{key: string(key), value: value, headers: headers})
	return nil
}

func (p *recordingPublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *recordingPublisher) Topic() string { return "orders.placed" }

type countingPersister struct {
	Persister
	loads int
}

func (p *countingPersister) Load(ctx context.Context, key string) (entity.Order, error) {
	p.loads++
	return p.Persister.Load(ctx, key)
}

type conflictStore struct {
	recordstore.Store
}

func (conflictStore) Write(context.Context, string, []byte, string, recordstore.Version) (recordstore.Version, error) {
	return "", recordstore.ErrConflict
}

func testMenu() *menu.Menu {
	return menu.New([]menu.Item{
		{Name: "Polenta e salsiccia", Price: 8.5},
		{Name: "Vin brulé", Price: 3},
		{Name: "Caffè", Price: 1.2},
	})
}

func testSequence() config.Sequence {
	return config.Sequence{MaxAttempts: 200, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

type fixture struct {
	svc       *Service
	store     *recordstore.MemoryStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := recordstore.NewMemoryStore()
	publisher := &recordingPublisher{}
	svc := New(
		sequence.New(store, "counter", testSequence(), nil),
		repo.New(store, "orders/", nil),
		testMenu(),
		cache.Noop(),
		publisher,
		time.Minute,
		nil,
	)
	return fixture{svc: svc, store: store, publisher: publisher}
}

func requireKind(t *testing.T, err error, kind errorbank.Kind) {
	t.Helper()
	var appErr *errorbank.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, kind, appErr.Kind())
}

func TestSubmitRecordsOrderAndReturnsReceipt(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.svc.Submit(context.Background(), Submission{
		CustomerName: "Anna O'Brien #2",
		TableID:      "T4",
		Covers:       3,
		Quantities: map[string]string{
			"Caffè":               "3",
			"Polenta e salsiccia": "2",
			"Vin brulé":           "",
			"Not on the menu":     "5",
		},
	})
	require.NoError(t, err)

	require.EqualValues(t, 1, receipt.Number)
	require.Equal(t, "1_AnnaOBrien2", receipt.Key)
	require.Equal(t, []ReceiptLine{
		{Name: "Polenta e salsiccia", Quantity: 2, UnitPrice: 8.5, Subtotal: 17},
		{Name: "Caffè", Quantity: 3, UnitPrice: 1.2, Subtotal: 3.6},
	}, receipt.Lines)
	require.Equal(t, 20.6, receipt.Total)

	stored, err := f.svc.Get(context.Background(), receipt.Key)
	require.NoError(t, err)
	require.Equal(t, receipt.Order, stored)

	require.Len(t, f.publisher.messages, 1)
	msg := f.publisher.messages[0]
	require.Equal(t, "1", msg.key)
	require.Equal(t, EventOrderPlaced, msg.headers[messaging.HeaderEventType])
	var event OrderPlacedEvent
	require.NoError(t, json.Unmarshal(msg.value, &event))
	require.Equal(t, "1_AnnaOBrien2", event.Key)
	require.Len(t, event.Items, 2)
	require.Equal(t, 20.6, event.Total)
}

func TestSubmitIgnoresBadQuantities(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.svc.Submit(context.Background(), Submission{
		CustomerName: "Bo",
		TableID:      "1",
		Quantities: map[string]string{
			"Polenta e salsiccia": "two",
			"Vin brulé":           "-1",
			"Caffè":               " 1 ",
		},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Lines, 1)
	require.Equal(t, "Caffè", receipt.Lines[0].Name)
}

func TestSubmitStoresNamesAsSubmitted(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.svc.Submit(context.Background(), Submission{CustomerName: "  Anna B ", TableID: " T4"})
	require.NoError(t, err)
	require.Equal(t, "1_AnnaB", receipt.Key)
	require.Equal(t, "  Anna B ", receipt.Order.CustomerName)

	stored, err := repo.New(f.store, "orders/", nil).Load(context.Background(), receipt.Key)
	require.NoError(t, err)
	require.Equal(t, "  Anna B ", stored.CustomerName)
	require.Equal(t, " T4", stored.TableID)
}

func TestSubmitNumbersAreSequential(t *testing.T) {
	f := newFixture(t)
	sub := Submission{CustomerName: "Bo", TableID: "1"}

	first, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	second, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)

	require.Equal(t, first.Number+1, second.Number)
	require.Equal(t, "2_Bo", second.Key)
}

func TestSubmitConcurrentSubmissionsGetDistinctRecords(t *testing.T) {
	f := newFixture(t)
	const clients = 10

	var wg sync.WaitGroup
	keys := make(chan string, clients)
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := f.svc.Submit(context.Background(), Submission{CustomerName: "Anna", TableID: "7"})
			if err != nil {
				errs <- err
				return
			}
			keys <- receipt.Key
		}()
	}
	wg.Wait()
	close(keys)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for key := range keys {
		require.False(t, seen[key], key)
		seen[key] = true
		_, err := f.svc.Get(context.Background(), key)
		require.NoError(t, err)
	}
	require.Len(t, seen, clients)
}

func TestSubmitValidationDoesNotBurnNumbers(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), Submission{CustomerName: " ", TableID: "1"})
	requireKind(t, err, errorbank.KindBadRequest)
	require.Equal(t, http.StatusBadRequest, errorbank.From(err).StatusCode())

	_, err = f.svc.Submit(context.Background(), Submission{CustomerName: "Bo", TableID: "1", Covers: -2})
	requireKind(t, err, errorbank.KindBadRequest)

	_, err = f.svc.Submit(context.Background(), Submission{CustomerName: "Anna\r\nB", TableID: "1"})
	requireKind(t, err, errorbank.KindBadRequest)

	_, err = f.store.Read(context.Background(), "counter")
	require.ErrorIs(t, err, recordstore.ErrNotFound)
	require.Empty(t, f.publisher.messages)
}

func TestSubmitDuplicateRecordIsConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Write(context.Background(), "orders/1_Anna.csv", []byte("NAME,VALUE\n"), "stray", "")
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), Submission{CustomerName: "Anna", TableID: "1"})
	requireKind(t, err, errorbank.KindConflict)
	require.Empty(t, f.publisher.messages)

	receipt, err := f.svc.Submit(context.Background(), Submission{CustomerName: "Anna", TableID: "1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, receipt.Number, "number 1 stays burned")
}

func TestSubmitAllocationExhaustedIsUnavailable(t *testing.T) {
	store := conflictStore{Store: recordstore.NewMemoryStore()}
	svc := New(
		sequence.New(store, "counter", config.Sequence{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, nil),
		repo.New(store, "orders/", nil),
		testMenu(), nil, nil, 0, nil,
	)

	_, err := svc.Submit(context.Background(), Submission{CustomerName: "Bo", TableID: "1"})
	requireKind(t, err, errorbank.KindUnavailable)
	require.True(t, errorbank.From(err).Retryable())
	kind, ok := sequence.KindOf(err)
	require.True(t, ok)
	require.Equal(t, sequence.KindExhausted, kind)
}

func TestGetMissingIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), "99_Nobody")
	requireKind(t, err, errorbank.KindNotFound)

	_, err = f.svc.Get(context.Background(), "not a key")
	requireKind(t, err, errorbank.KindBadRequest)
}

func TestGetReadsThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := recordstore.NewMemoryStore()
	persister := &countingPersister{Persister: repo.New(store, "orders/", nil)}
	svc := New(
		sequence.New(store, "counter", testSequence(), nil),
		persister,
		testMenu(),
		cache.NewRedisStore(client, "test:", time.Minute),
		nil, time.Minute, nil,
	)

	_, err := store.Write(context.Background(), "orders/4_Bo.csv", []byte("NAME,VALUE\nCUSTOMER_NAME,Bo\nTABLE,2\nCOVERS,1\n"), "import", "")
	require.NoError(t, err)

	first, err := svc.Get(context.Background(), "4_Bo")
	require.NoError(t, err)
	second, err := svc.Get(context.Background(), "4_Bo")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, persister.loads)
	require.True(t, mr.Exists("test:orders:4_Bo"))
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	requireKind(t, mapError(errors.New("surprise")), errorbank.KindInternal)
	requireKind(t, mapError(&repo.PersistError{Kind: repo.KindStoreUnavailable, Err: errors.New("io")}), errorbank.KindUnavailable)
	requireKind(t, mapError(&sequence.AllocationError{Kind: sequence.KindStoreUnavailable, Err: errors.New("io")}), errorbank.KindUnavailable)
}
