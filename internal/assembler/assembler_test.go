package assembler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/fixedpoint"
	"github.com/quillfi/orderlock/internal/ledger/memledger"
	"github.com/quillfi/orderlock/internal/predicate"
	"github.com/quillfi/orderlock/internal/settle"
	"github.com/quillfi/orderlock/internal/wallet"
)

var (
	usdc = testAsset(0x01) // 6 decimals
	btc  = testAsset(0x02) // 9 decimals
)

const (
	usdcDecimals = 6
	btcDecimals  = 9

	quoteAmount = uint64(40_000_000_000) // 40,000 USDC
	baseAmount  = uint64(1_000_000_000)  // 1 BTC
)

func testAsset(b byte) domain.AssetID {
	var a domain.AssetID
	a[0] = b
	return a
}

type fixture struct {
	ledger  *memledger.Ledger
	asm     *Assembler
	settler *settle.Settler
	alice   *wallet.Wallet // maker
	bob     *wallet.Wallet // taker
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

	return &fixture{
		ledger:  ledger,
		asm:     New(ledger, logger),
		settler: settle.New(ledger, logger),
		alice:   newWallet(),
		bob:     newWallet(),
	}
}

// buyOrder is the concrete scenario: Alice locks 40,000 USDC against 1 BTC.
func (f *fixture) buyOrder(t *testing.T, minFill uint64) domain.OrderDescriptor {
	t.Helper()
	price, err := fixedpoint.Price(quoteAmount, baseAmount, usdcDecimals, btcDecimals)
	require.NoError(t, err)
	return domain.OrderDescriptor{
		Side:          domain.SideBuy,
		QuoteAsset:    usdc,
		BaseAsset:     btc,
		QuoteDecimals: usdcDecimals,
		BaseDecimals:  btcDecimals,
		Maker:         f.alice.Address(),
		Price:         price,
		MinFillAmount: minFill,
	}
}

func (f *fixture) balance(t *testing.T, owner domain.Address, asset domain.AssetID) uint64 {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), owner, asset)
	require.NoError(t, err)
	return bal
}

func (f *fixture) create(t *testing.T, d domain.OrderDescriptor, amount uint64) domain.Address {
	t.Helper()
	ctx := context.Background()
	root := predicate.Root(d)
	tx, err := f.asm.CreateOrder(ctx, f.alice, root, d.LockedAsset(), amount)
	require.NoError(t, err)
	_, err = f.settler.Settle(ctx, tx)
	require.NoError(t, err)
	return root
}

func (f *fixture) fulfill(t *testing.T, d domain.OrderDescriptor, offered, asked uint64) error {
	t.Helper()
	ctx := context.Background()
	order, err := f.settler.LockedOrderSnapshot(ctx, d)
	require.NoError(t, err)
	tx, err := f.asm.FulfillOrder(ctx, f.bob, order, d.Maker, d.LockedAsset(), offered, d.AskedAsset(), asked)
	if err != nil {
		return err
	}
	_, err = f.settler.Settle(ctx, tx)
	return err
}

func TestCreateThenCancel_IdempotentRestitution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)

	d := f.buyOrder(t, 1)
	root := f.create(t, d, quoteAmount)

	assert.Equal(t, uint64(0), f.balance(t, f.alice.Address(), usdc))
	assert.Equal(t, quoteAmount, f.balance(t, root, usdc))

	order, err := f.settler.LockedOrderSnapshot(ctx, d)
	require.NoError(t, err)
	tx, err := f.asm.CancelOrder(ctx, f.alice, order)
	require.NoError(t, err)
	_, err = f.settler.Settle(ctx, tx)
	require.NoError(t, err)

	assert.Equal(t, quoteAmount, f.balance(t, f.alice.Address(), usdc))
	assert.Equal(t, uint64(0), f.balance(t, root, usdc))
}

func TestFullFulfillment_Exactness(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	root := f.create(t, d, quoteAmount)

	require.NoError(t, f.fulfill(t, d, quoteAmount, baseAmount))

	// Maker: 0 quote, +1 base. Taker: -1 base, +40,000 quote. Order closed.
	assert.Equal(t, uint64(0), f.balance(t, f.alice.Address(), usdc))
	assert.Equal(t, baseAmount, f.balance(t, f.alice.Address(), btc))
	assert.Equal(t, uint64(0), f.balance(t, f.bob.Address(), btc))
	assert.Equal(t, quoteAmount, f.balance(t, f.bob.Address(), usdc))
	assert.Equal(t, uint64(0), f.balance(t, root, usdc))
}

func TestPartialFills_Additivity(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	root := f.create(t, d, quoteAmount)

	// 3/4 then 1/4; cumulative result must match the single-step scenario.
	require.NoError(t, f.fulfill(t, d, quoteAmount/4*3, baseAmount/4*3))

	assert.Equal(t, quoteAmount/4, f.balance(t, root, usdc))
	assert.Equal(t, baseAmount/4*3, f.balance(t, f.alice.Address(), btc))
	assert.Equal(t, quoteAmount/4*3, f.balance(t, f.bob.Address(), usdc))
	assert.Equal(t, baseAmount/4, f.balance(t, f.bob.Address(), btc))

	require.NoError(t, f.fulfill(t, d, quoteAmount/4, baseAmount/4))

	assert.Equal(t, uint64(0), f.balance(t, root, usdc))
	assert.Equal(t, uint64(0), f.balance(t, f.alice.Address(), usdc))
	assert.Equal(t, baseAmount, f.balance(t, f.alice.Address(), btc))
	assert.Equal(t, quoteAmount, f.balance(t, f.bob.Address(), usdc))
	assert.Equal(t, uint64(0), f.balance(t, f.bob.Address(), btc))
}

func TestFulfill_BelowMinFillRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, quoteAmount/2)
	root := f.create(t, d, quoteAmount)

	// A quarter is below the half-order minimum and does not exhaust the
	// balance: the predicate rejects and nothing moves.
	err := f.fulfill(t, d, quoteAmount/4, baseAmount/4)
	require.ErrorIs(t, err, domain.ErrPredicateRejected)

	assert.Equal(t, quoteAmount, f.balance(t, root, usdc))
	assert.Equal(t, baseAmount, f.balance(t, f.bob.Address(), btc))
	assert.Equal(t, uint64(0), f.balance(t, f.bob.Address(), usdc))
	assert.Equal(t, uint64(0), f.balance(t, f.alice.Address(), btc))
}

func TestFulfill_FinalFillBelowMinimumAllowed(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	d := f.buyOrder(t, quoteAmount/2)
	f.create(t, d, quoteAmount)

	require.NoError(t, f.fulfill(t, d, quoteAmount/4*3, baseAmount/4*3))

	// The remaining quarter is below the minimum but exhausts the order.
	require.NoError(t, f.fulfill(t, d, quoteAmount/4, baseAmount/4))
	assert.Equal(t, baseAmount, f.balance(t, f.alice.Address(), btc))
}

func TestFulfill_BelowMinFillRejectedAcrossTopUps(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	// Two creates fragment the root into two coins. A fill matching one
	// coin exactly must still honor the minimum against the whole balance.
	d := f.buyOrder(t, quoteAmount/4*3)
	root := f.create(t, d, quoteAmount/2)
	f.create(t, d, quoteAmount/2)

	err := f.fulfill(t, d, quoteAmount/2, baseAmount/2)
	require.ErrorIs(t, err, domain.ErrPredicateRejected)

	assert.Equal(t, quoteAmount, f.balance(t, root, usdc))
	assert.Equal(t, baseAmount, f.balance(t, f.bob.Address(), btc))
	assert.Equal(t, uint64(0), f.balance(t, f.alice.Address(), btc))
}

func TestFulfill_ConflictLoserUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount)

	// A second taker racing for the same locked coin.
	keyHex, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(keyHex)
	require.NoError(t, err)
	carol := wallet.New(signer, f.ledger)
	f.ledger.Mint(carol.Address(), btc, baseAmount)

	d := f.buyOrder(t, 1)
	root := f.create(t, d, quoteAmount)

	order, err := f.settler.LockedOrderSnapshot(ctx, d)
	require.NoError(t, err)

	// Both takers assemble against the same snapshot.
	txBob, err := f.asm.FulfillOrder(ctx, f.bob, order, d.Maker, usdc, quoteAmount, btc, baseAmount)
	require.NoError(t, err)
	txCarol, err := f.asm.FulfillOrder(ctx, carol, order, d.Maker, usdc, quoteAmount, btc, baseAmount)
	require.NoError(t, err)

	_, err = f.settler.Settle(ctx, txBob)
	require.NoError(t, err)

	_, err = f.settler.Settle(ctx, txCarol)
	require.ErrorIs(t, err, domain.ErrConflict)

	// The loser's balances are untouched.
	assert.Equal(t, baseAmount, f.balance(t, carol.Address(), btc))
	assert.Equal(t, uint64(0), f.balance(t, carol.Address(), usdc))
	assert.Equal(t, uint64(0), f.balance(t, root, usdc))
}

func TestCreate_RecreateAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)

	d := f.buyOrder(t, 1)
	root := f.create(t, d, quoteAmount/2)
	f.create(t, d, quoteAmount/2)

	// Two creates against the same root simply sum.
	assert.Equal(t, quoteAmount, f.balance(t, root, usdc))

	// One cancel reclaims the aggregate.
	order, err := f.settler.LockedOrderSnapshot(ctx, d)
	require.NoError(t, err)
	require.Len(t, order.Coins, 2)
	tx, err := f.asm.CancelOrder(ctx, f.alice, order)
	require.NoError(t, err)
	_, err = f.settler.Settle(ctx, tx)
	require.NoError(t, err)

	assert.Equal(t, quoteAmount, f.balance(t, f.alice.Address(), usdc))
}

func TestCreate_ChangeReturnsToMaker(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount*2)

	d := f.buyOrder(t, 1)
	root := f.create(t, d, quoteAmount)

	assert.Equal(t, quoteAmount, f.balance(t, root, usdc))
	assert.Equal(t, quoteAmount, f.balance(t, f.alice.Address(), usdc))
}

func TestCreate_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount/2)

	d := f.buyOrder(t, 1)
	_, err := f.asm.CreateOrder(ctx, f.alice, predicate.Root(d), usdc, quoteAmount)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestCancel_ClosedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.buyOrder(t, 1)
	order := domain.LockedOrder{Descriptor: d, Root: predicate.Root(d)}
	_, err := f.asm.CancelOrder(ctx, f.alice, order)
	require.ErrorIs(t, err, domain.ErrOrderClosed)
}

func TestFulfill_OfferedExceedsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount*2)

	d := f.buyOrder(t, 1)
	f.create(t, d, quoteAmount)

	order, err := f.settler.LockedOrderSnapshot(ctx, d)
	require.NoError(t, err)
	_, err = f.asm.FulfillOrder(ctx, f.bob, order, d.Maker, usdc, quoteAmount*2, btc, baseAmount*2)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestFulfill_TakerInsufficientAskedAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.Mint(f.alice.Address(), usdc, quoteAmount)
	f.ledger.Mint(f.bob.Address(), btc, baseAmount/2)

	d := f.buyOrder(t, 1)
	f.create(t, d, quoteAmount)

	order, err := f.settler.LockedOrderSnapshot(ctx, d)
	require.NoError(t, err)
	_, err = f.asm.FulfillOrder(ctx, f.bob, order, d.Maker, usdc, quoteAmount, btc, baseAmount)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestFulfill_SellSide(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(f.alice.Address(), btc, baseAmount)
	f.ledger.Mint(f.bob.Address(), usdc, quoteAmount)

	d := f.buyOrder(t, 1)
	d.Side = domain.SideSell
	d.MinFillAmount = 1
	root := f.create(t, d, baseAmount)

	require.NoError(t, f.fulfill(t, d, baseAmount, quoteAmount))

	assert.Equal(t, quoteAmount, f.balance(t, f.alice.Address(), usdc))
	assert.Equal(t, uint64(0), f.balance(t, f.alice.Address(), btc))
	assert.Equal(t, baseAmount, f.balance(t, f.bob.Address(), btc))
	assert.Equal(t, uint64(0), f.balance(t, f.bob.Address(), usdc))
	assert.Equal(t, uint64(0), f.balance(t, root, btc))
}
