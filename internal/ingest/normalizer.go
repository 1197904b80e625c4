package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
)

var (
	// ErrEmptyRow is returned for rows without a single present value.
	ErrEmptyRow = errors.New("row has no values")

	// ErrNegativeAmount is returned for rows whose amount is below zero.
	ErrNegativeAmount = errors.New("amount is negative")
)

// RowError is a row-level failure. The row is skipped and ingestion continues.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// CountryResolver looks up the country of an IP address. An empty result with
// a nil error means unknown.
type CountryResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

// Normalizer maps source rows onto canonical transactions.
type Normalizer struct {
	resolver CountryResolver
}

// NewNormalizer creates a Normalizer. resolver may be nil.
func NewNormalizer(resolver CountryResolver) *Normalizer {
	return &Normalizer{resolver: resolver}
}

// Normalize builds the canonical pending transaction for row. index is the
// zero-based position in the source and ingestedAt is shared by the batch.
func (n *Normalizer) Normalize(ctx context.Context, row Row, index int, principal string, ingestedAt time.Time) (domain.Transaction, []Warning, error) {
	if row.empty() {
		return domain.Transaction{}, nil, &RowError{Row: index, Err: ErrEmptyRow}
	}

	var warnings []Warning
	warn := func(w *Warning) {
		if w == nil {
			return
		}
		w.Row = index
		warnings = append(warnings, *w)
	}

	rawAmount, ok := row.lookup(FieldAmount)
	amount, w := coerceAmount(rawAmount, ok)
	warn(w)
	if amount.IsNegative() {
		return domain.Transaction{}, warnings, &RowError{Row: index, Err: ErrNegativeAmount}
	}

	rawDate, ok := row.lookup(FieldDate)
	date, w := coerceDate(rawDate, ok, ingestedAt)
	warn(w)

	rawCurrency, ok := row.lookup(FieldCurrency)
	currency, w := coerceCurrency(rawCurrency, ok)
	warn(w)

	rawCountry, ok := row.lookup(FieldCountry)
	country, w := coerceCountry(rawCountry, ok)
	warn(w)

	merchant, ok := row.lookup(FieldMerchant)
	merchant = coerceMerchant(merchant, ok)

	card, ok := row.lookup(FieldCardNumber)
	card = coerceCardNumber(card, ok)

	sourceID, ok := row.lookup(FieldTransactionID)
	txID := transactionID(sourceID, ok, principal, ingestedAt, index)

	ip, _ := row.lookup(FieldIPAddress)
	device, _ := row.lookup(FieldDeviceID)

	if country == "" && ip != "" && n.resolver != nil {
		country = n.resolveCountry(ctx, ip)
	}

	return domain.Transaction{
		TransactionID: txID,
		UserID:        principal,
		Amount:        amount,
		Currency:      currency,
		Country:       country,
		Date:          date,
		Merchant:      merchant,
		CardNumber:    card,
		IPAddress:     domain.Truncate(ip, maxIPAddressLen),
		DeviceID:      domain.Truncate(device, maxDeviceIDLen),
		IsFraud:       false,
		Status:        domain.StatusPending,
	}, warnings, nil
}

func (n *Normalizer) resolveCountry(ctx context.Context, ip string) string {
	country, err := n.resolver.Country(ctx, ip)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Str("ip", ip).Msg("Country lookup failed")
		return ""
	}
	c, _ := coerceCountry(country, country != "")
	return c
}
