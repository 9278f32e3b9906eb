package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillfi/orderlock/internal/domain"
)

func TestPrice_BTCUSDC(t *testing.T) {
	// 70,000 USDC (6 decimals) per 1 BTC (9 decimals).
	quoteAmount := uint64(70_000_000_000)
	baseAmount := uint64(1_000_000_000)

	price, err := Price(quoteAmount, baseAmount, 6, 9)
	require.NoError(t, err)

	// exp = 9 + 9 - 6 = 12; price = 70_000e6 * 1e12 / 1e9 = 70_000e9.
	assert.Equal(t, uint64(70_000_000_000_000), price)
}

func TestPrice_UNIUSDC(t *testing.T) {
	// 1000 USDC (6 decimals) for 200 UNI (9 decimals): 5 USDC per UNI.
	price, err := Price(1_000_000_000, 200_000_000_000, 6, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000), price)
}

func TestPrice_ZeroBase(t *testing.T) {
	_, err := Price(1_000_000, 0, 6, 9)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPrice_Truncates(t *testing.T) {
	// 10 quote / 3 base with equal decimals: exp = 9, floor division.
	price, err := Price(10, 3, 6, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_333_333_333), price)
}

func TestQuoteForBase_RoundTrip(t *testing.T) {
	quoteAmount := uint64(40_000_000_000) // 40,000 USDC, 6 decimals
	baseAmount := uint64(1_000_000_000)   // 1 BTC, 9 decimals

	price, err := Price(quoteAmount, baseAmount, 6, 9)
	require.NoError(t, err)

	gotQuote, err := QuoteForBase(baseAmount, price, 6, 9)
	require.NoError(t, err)
	assert.Equal(t, quoteAmount, gotQuote)

	gotBase, err := BaseForQuote(quoteAmount, price, 6, 9)
	require.NoError(t, err)
	assert.Equal(t, baseAmount, gotBase)
}

func TestBaseForQuote_ZeroPrice(t *testing.T) {
	_, err := BaseForQuote(1_000_000, 0, 6, 9)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestExponent_Negative(t *testing.T) {
	// Quote with many decimals pushes the exponent negative.
	assert.Equal(t, -3, Exponent(18, 6))

	price, err := Price(5_000_000_000_000_000_000, 1_000_000, 18, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000), price)
}

func TestPrice_NoIntermediateOverflow(t *testing.T) {
	// quoteAmount * 10^12 exceeds uint64; must still divide exactly.
	price, err := Price(1<<62, 1<<62, 6, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000_000), price)
}
