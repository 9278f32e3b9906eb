// Package fixedpoint converts human-scale base/quote amounts into the single
// fixed-point integer price enforced by order predicates, and back.
//
// The canonical convention, applied uniformly by order creation and the
// predicate's fill check, is quote-per-base:
//
//	exp   = PriceDecimals + baseDecimals - quoteDecimals
//	price = floor(quoteAmount * 10^exp / baseAmount)
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/quillfi/orderlock/internal/domain"
)

// Exponent returns the decimal exponent used to scale the price for a pair
// with the given per-asset decimal counts. It may be negative when the quote
// asset carries more decimals than PriceDecimals plus the base decimals.
func Exponent(quoteDecimals, baseDecimals uint32) int {
	return domain.PriceDecimals + int(baseDecimals) - int(quoteDecimals)
}

// pow10 returns 10^|exp| as a big.Int.
func pow10(exp int) *big.Int {
	if exp < 0 {
		exp = -exp
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// Price computes the fixed-point quote-per-base price for the given amounts.
// Intermediate math is arbitrary precision, so 64-bit amounts cannot
// overflow. Division truncates toward zero.
func Price(quoteAmount, baseAmount uint64, quoteDecimals, baseDecimals uint32) (uint64, error) {
	if baseAmount == 0 {
		return 0, fmt.Errorf("fixedpoint: base amount must not be zero: %w", domain.ErrInvalidOrder)
	}
	exp := Exponent(quoteDecimals, baseDecimals)

	num := new(big.Int).SetUint64(quoteAmount)
	if exp >= 0 {
		num.Mul(num, pow10(exp))
	}
	den := new(big.Int).SetUint64(baseAmount)
	if exp < 0 {
		den.Mul(den, pow10(exp))
	}

	num.Quo(num, den)
	if !num.IsUint64() {
		return 0, fmt.Errorf("fixedpoint: price overflows uint64: %w", domain.ErrInvalidOrder)
	}
	return num.Uint64(), nil
}

// QuoteForBase returns the quote amount a price implies for baseAmount:
// floor(baseAmount * price / 10^exp).
func QuoteForBase(baseAmount, price uint64, quoteDecimals, baseDecimals uint32) (uint64, error) {
	exp := Exponent(quoteDecimals, baseDecimals)

	num := new(big.Int).SetUint64(baseAmount)
	num.Mul(num, new(big.Int).SetUint64(price))
	if exp >= 0 {
		num.Quo(num, pow10(exp))
	} else {
		num.Mul(num, pow10(exp))
	}
	if !num.IsUint64() {
		return 0, fmt.Errorf("fixedpoint: quote amount overflows uint64: %w", domain.ErrInvalidOrder)
	}
	return num.Uint64(), nil
}

// BaseForQuote returns the base amount a price implies for quoteAmount:
// floor(quoteAmount * 10^exp / price).
func BaseForQuote(quoteAmount, price uint64, quoteDecimals, baseDecimals uint32) (uint64, error) {
	if price == 0 {
		return 0, fmt.Errorf("fixedpoint: price must not be zero: %w", domain.ErrInvalidOrder)
	}
	exp := Exponent(quoteDecimals, baseDecimals)

	num := new(big.Int).SetUint64(quoteAmount)
	den := new(big.Int).SetUint64(price)
	if exp >= 0 {
		num.Mul(num, pow10(exp))
	} else {
		den.Mul(den, pow10(exp))
	}
	num.Quo(num, den)
	if !num.IsUint64() {
		return 0, fmt.Errorf("fixedpoint: base amount overflows uint64: %w", domain.ErrInvalidOrder)
	}
	return num.Uint64(), nil
}
