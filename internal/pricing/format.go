package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders money for display in one currency and locale.
type Formatter struct {
	unit    currency.Unit
	printer *message.Printer
	symbol  string
	scale   int
}

// NewFormatter builds a formatter for an ISO 4217 code and a BCP 47 locale.
func NewFormatter(code, locale string) (*Formatter, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, fmt.Errorf("pricing: currency %q: %w", code, err)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("pricing: locale %q: %w", locale, err)
	}
	printer := message.NewPrinter(tag)
	scale, _ := currency.Standard.Rounding(unit)
	return &Formatter{
		unit:    unit,
		printer: printer,
		symbol:  printer.Sprint(currency.NarrowSymbol(unit)),
		scale:   scale,
	}, nil
}

// Currency returns the ISO code.
func (f *Formatter) Currency() string { return f.unit.String() }

// Format renders amount with the currency symbol and locale grouping, e.g. "$1,234.50".
func (f *Formatter) Format(amount decimal.Decimal) string {
	rounded := amount.Round(int32(f.scale))
	return f.symbol + f.printer.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(f.scale)))
}
