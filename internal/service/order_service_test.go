package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillfi/orderlock/internal/assembler"
	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/fixedpoint"
	"github.com/quillfi/orderlock/internal/ledger/memledger"
	"github.com/quillfi/orderlock/internal/predicate"
	"github.com/quillfi/orderlock/internal/proxy"
	"github.com/quillfi/orderlock/internal/settle"
	"github.com/quillfi/orderlock/internal/wallet"
)

var (
	usdc = testAsset(0x01) // 6 decimals
	btc  = testAsset(0x02) // 9 decimals
)

const (
	quoteAmount = uint64(40_000_000_000) // 40,000 USDC
	baseAmount  = uint64(1_000_000_000)  // 1 BTC
)

func testAsset(b byte) domain.AssetID {
	var a domain.AssetID
	a[0] = b
	return a
}

// In-memory doubles for the bookkeeping interfaces.

type memOrderStore struct {
	mu   sync.Mutex
	recs map[domain.Address]domain.OrderRecord
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{recs: make(map[domain.Address]domain.OrderRecord)}
}

func (m *memOrderStore) Create(_ context.Context, rec domain.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Root] = rec
	return nil
}

func (m *memOrderStore) UpdateStatus(_ context.Context, root domain.Address, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[root]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	m.recs[root] = rec
	return nil
}

func (m *memOrderStore) AddLockedAmount(_ context.Context, root domain.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[root]
	if !ok {
		return domain.ErrNotFound
	}
	rec.LockedAmount += amount
	m.recs[root] = rec
	return nil
}

func (m *memOrderStore) GetByRoot(_ context.Context, root domain.Address) (domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[root]
	if !ok {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memOrderStore) ListOpen(_ context.Context, maker domain.Address) ([]domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderRecord
	for _, rec := range m.recs {
		if rec.Maker == maker && (rec.Status == domain.OrderStatusOpen || rec.Status == domain.OrderStatusPartiallyFilled) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

type memBalanceCache struct {
	mu   sync.Mutex
	vals map[string]uint64
}

func newMemBalanceCache() *memBalanceCache {
	return &memBalanceCache{vals: make(map[string]uint64)}
}

func cacheKey(root domain.Address, asset domain.AssetID) string {
	return root.Hex() + ":" + asset.Hex()
}

func (m *memBalanceCache) SetLockedBalance(_ context.Context, root domain.Address, asset domain.AssetID, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[cacheKey(root, asset)] = amount
	return nil
}

func (m *memBalanceCache) GetLockedBalance(_ context.Context, root domain.Address, asset domain.AssetID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[cacheKey(root, asset)]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return v, nil
}

func (m *memBalanceCache) Invalidate(_ context.Context, root domain.Address, asset domain.AssetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, cacheKey(root, asset))
	return nil
}

type memBus struct {
	mu     sync.Mutex
	events []string
}

func (m *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, string(payload))
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

type fixture struct {
	ledger *memledger.Ledger
	svc    *OrderService
	orders *memOrderStore
	audit  *memAudit
	cache  *memBalanceCache
	bus    *memBus
	locks  *memLocks
	alice  *wallet.Wallet
	bob    *wallet.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := memledger.New()

	newWallet := func() *wallet.Wallet {
		keyHex, err := crypto.GenerateKey()
		require.NoError(t, err)
		signer, err := crypto.NewSigner(keyHex)
		require.NoError(t, err)
		return wallet.New(signer, ledger)
	}

	asm := assembler.New(ledger, logger)
	settler := settle.New(ledger, logger)
	f := &fixture{
		ledger: ledger,
		orders: newMemOrderStore(),
		audit:  &memAudit{},
		cache:  newMemBalanceCache(),
		bus:    &memBus{},
		locks:  newMemLocks(),
		alice:  newWallet(),
		bob:    newWallet(),
	}
	f.svc = NewOrderService(
		asm, settler,
		proxy.NewFunder(asm, settler, logger),
		ledger, f.orders, f.audit, f.cache, f.bus, f.locks, logger,
	)
	return f
}

func (f *fixture) buyOrder(t *testing.T, minFill uint64) domain.OrderDescriptor {
	t.Helper()
	price, err := fixedpoint.Price(quoteAmount, baseAmount, 6, 9)
	require.NoError(t, err)
	return domain.OrderDescriptor{
		Side:          domain.SideBuy,
		QuoteAsset:    usdc,
		BaseAsset:     btc,
		QuoteDecimals: 6,
		BaseDecimals:  9,
		Maker:         f.alice.Address(),
		Price:         price,
		MinFillAmount: minFill,
	}
}

func TestPlaceOrder_RecordsAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)

	d := f.buyOrder(t, 1)
	event, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)

	root := predicate.Root(d)
	rec, err := f.orders.GetByRoot(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, rec.Status)
	assert.Equal(t, quoteAmount, rec.LockedAmount)
	assert.Equal(t, d, rec.Descriptor())

	cached, err := f.cache.GetLockedBalance(ctx, root, usdc)
	require.NoError(t, err)
	assert.Equal(t, quoteAmount, cached)
	assert.Contains(t, f.audit.events, "order_placed")
}

func TestPlaceOrder_TopUpAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount/2)
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount/2)
	require.NoError(t, err)

	rec, err := f.orders.GetByRoot(ctx, predicate.Root(d))
	require.NoError(t, err)
	assert.Equal(t, quoteAmount, rec.LockedAmount)
}

func TestPlaceOrder_InvalidDescriptor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.buyOrder(t, 1)
	d.BaseAsset = d.QuoteAsset
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPlaceOrder_LockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)

	d := f.buyOrder(t, 1)
	root := predicate.Root(d)
	_, err := f.locks.Acquire(ctx, "order:"+root.Hex(), time.Minute)
	require.NoError(t, err)

	_, err = f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestFulfillOrder_LockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)

	root := predicate.Root(d)
	unlock, err := f.locks.Acquire(ctx, "order:"+root.Hex(), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.FulfillOrder(ctx, f.bob, root, quoteAmount)
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestCancelOrder_RestitutionAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)

	root := predicate.Root(d)
	require.NoError(t, f.svc.CancelOrder(ctx, f.alice, root))

	bal, err := f.ledger.Balance(ctx, f.alice.Address(), usdc)
	require.NoError(t, err)
	assert.Equal(t, quoteAmount, bal)

	rec, err := f.orders.GetByRoot(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, rec.Status)

	_, err = f.cache.GetLockedBalance(ctx, root, usdc)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFulfillOrder_FullClosesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)

	root := predicate.Root(d)
	_, err = f.svc.FulfillOrder(ctx, f.bob, root, quoteAmount)
	require.NoError(t, err)

	rec, err := f.orders.GetByRoot(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusClosed, rec.Status)

	makerBase, err := f.ledger.Balance(ctx, f.alice.Address(), btc)
	require.NoError(t, err)
	assert.Equal(t, baseAmount, makerBase)
}

func TestFulfillOrder_PartialKeepsOrderOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)

	root := predicate.Root(d)
	_, err = f.svc.FulfillOrder(ctx, f.bob, root, quoteAmount/2)
	require.NoError(t, err)

	rec, err := f.orders.GetByRoot(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, rec.Status)

	cached, err := f.cache.GetLockedBalance(ctx, root, usdc)
	require.NoError(t, err)
	assert.Equal(t, quoteAmount/2, cached)
}

func TestFulfillOrder_ConflictInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)
	root := predicate.Root(d)

	// The maker cancels behind the taker's back.
	require.NoError(t, f.svc.CancelOrder(ctx, f.alice, root))

	_, err = f.svc.FulfillOrder(ctx, f.bob, root, quoteAmount)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderClosed)
}

func TestAskedAmount_MatchesPredicateArithmetic(t *testing.T) {
	f := newFixture(t)
	d := f.buyOrder(t, 1)

	asked, err := AskedAmount(d, quoteAmount)
	require.NoError(t, err)
	assert.Equal(t, baseAmount, asked)

	asked, err = AskedAmount(d, quoteAmount/4)
	require.NoError(t, err)
	assert.Equal(t, baseAmount/4, asked)
}

func TestKeeper_ClosesDrainedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)
	root := predicate.Root(d)

	// Drain the root, then wipe the bookkeeping the service wrote so only
	// the keeper can discover the fill.
	_, err = f.svc.FulfillOrder(ctx, f.bob, root, quoteAmount)
	require.NoError(t, err)
	require.NoError(t, f.orders.UpdateStatus(ctx, root, domain.OrderStatusOpen))
	require.NoError(t, f.cache.Invalidate(ctx, root, usdc))

	keeper := NewKeeper(f.ledger, f.orders, f.cache, []domain.Address{f.alice.Address()}, time.Minute, logger)
	require.NoError(t, keeper.Reconcile(ctx))

	rec, err := f.orders.GetByRoot(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusClosed, rec.Status)

	cached, err := f.cache.GetLockedBalance(ctx, root, usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cached)
}

func TestKeeper_MarksPartialFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	_, err := f.svc.PlaceOrder(ctx, f.alice, d, quoteAmount)
	require.NoError(t, err)
	root := predicate.Root(d)

	_, err = f.svc.FulfillOrder(ctx, f.bob, root, quoteAmount/2)
	require.NoError(t, err)
	require.NoError(t, f.orders.UpdateStatus(ctx, root, domain.OrderStatusOpen))

	keeper := NewKeeper(f.ledger, f.orders, f.cache, []domain.Address{f.alice.Address()}, time.Minute, logger)
	require.NoError(t, keeper.Reconcile(ctx))

	rec, err := f.orders.GetByRoot(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, rec.Status)
}
