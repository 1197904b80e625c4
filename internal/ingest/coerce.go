package ingest

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	DefaultMerchant   = "Unknown Merchant"
	DefaultCardNumber = "N/A"
	DefaultCurrency   = "USD"

	maxMerchantLen      = 200
	maxCardNumberLen    = 20
	maxCurrencyLen      = 3
	maxCountryLen       = 2
	maxIPAddressLen     = 45
	maxDeviceIDLen      = 100
	amountDecimalPlaces = 2
)

// Warning describes a field that could not be coerced and fell back to its
// default. Warnings never fail a row.
type Warning struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("row %d: %s %q: %s", w.Row, w.Field, w.Value, w.Message)
}

var amountReplacer = strings.NewReplacer("$", "", "€", "", "£", "", ",", "")

// coerceAmount parses a money value. Currency symbols, thousands separators
// and whitespace are stripped; the result is rounded to two places.
func coerceAmount(raw string, present bool) (decimal.Decimal, *Warning) {
	zero := decimal.Zero.Round(amountDecimalPlaces)
	if !present {
		return zero, &Warning{Field: FieldAmount, Message: "missing amount, defaulted to 0.00"}
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, amountReplacer.Replace(raw))

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return zero, &Warning{Field: FieldAmount, Value: raw, Message: "not a number, defaulted to 0.00"}
	}
	return d.Round(amountDecimalPlaces), nil
}

// coerceDate parses a date in any common layout. Missing or unparsable
// values fall back to now.
func coerceDate(raw string, present bool, now time.Time) (time.Time, *Warning) {
	if !present {
		return now, nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return now, &Warning{Field: FieldDate, Value: raw, Message: "unrecognised date, defaulted to ingestion time"}
	}
	return t.UTC(), nil
}

func coerceMerchant(raw string, present bool) string {
	if !present {
		return DefaultMerchant
	}
	return domain.Truncate(raw, maxMerchantLen)
}

func coerceCardNumber(raw string, present bool) string {
	if !present {
		return DefaultCardNumber
	}
	return domain.Truncate(raw, maxCardNumberLen)
}

func coerceCurrency(raw string, present bool) (string, *Warning) {
	if !present {
		return DefaultCurrency, nil
	}
	c := strings.ToUpper(raw)
	if len(c) > maxCurrencyLen {
		return domain.Truncate(c, maxCurrencyLen), &Warning{Field: FieldCurrency, Value: raw, Message: "truncated to 3 characters"}
	}
	return c, nil
}

func coerceCountry(raw string, present bool) (string, *Warning) {
	if !present {
		return "", nil
	}
	c := strings.ToUpper(raw)
	if len(c) > maxCountryLen {
		return domain.Truncate(c, maxCountryLen), &Warning{Field: FieldCountry, Value: raw, Message: "truncated to 2 characters"}
	}
	return c, nil
}

// transactionID scopes a source id to its principal, or generates one. The
// source part is cut so the principal suffix always fits the column.
func transactionID(raw string, present bool, principal string, ingestedAt time.Time, index int) string {
	if !present {
		suffix := "-" + principal
		head := fmt.Sprintf("AUTO-%d-%d", ingestedAt.UnixNano(), index)
		return domain.Truncate(head, domain.MaxTransactionIDLen-len(suffix)) + suffix
	}
	suffix := "-U" + principal
	return domain.Truncate(raw, domain.MaxTransactionIDLen-len(suffix)) + suffix
}

