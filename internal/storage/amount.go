package storage

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/usdt-tracker/internal/trongrid"
)

// CurrencyUSDT is the only currency the tracker credits.
const CurrencyUSDT = "USDT"

var (
	// matchTolerance absorbs display rounding of token amounts. It is not a business allowance.
	matchTolerance = decimal.New(1, -2)

	// maxRequestAmount caps a single payment request.
	maxRequestAmount = decimal.New(1, 9)
)

// AmountsMatch reports whether |a-b| < 0.01.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(matchTolerance)
}

// ParseAmount parses user input such as "50", "50.5" or "50,5" into a payable amount.
// Exponent notation is rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateRequestAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, d.String())
	}
	return nil
}

// ValidateRequestAmount checks an amount someone asks to be paid: positive,
// no finer than the token's precision, and at most maxRequestAmount.
func ValidateRequestAmount(d decimal.Decimal) error {
	if err := ValidateAmount(d); err != nil {
		return err
	}
	if !d.Equal(d.Truncate(trongrid.USDTDecimals)) {
		return fmt.Errorf("%w: more than %d decimal places in %s", ErrInvalidAmount, trongrid.USDTDecimals, d.String())
	}
	if d.GreaterThan(maxRequestAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, d.String(), maxRequestAmount.String())
	}
	return nil
}

// FormatAmount renders an amount with two decimals, or with every significant
// decimal when two would round it.
func FormatAmount(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

// ValidateCurrency normalizes the currency code. An empty value means USDT.
func ValidateCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return CurrencyUSDT, nil
	}
	if c != CurrencyUSDT {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, c)
	}
	return c, nil
}
