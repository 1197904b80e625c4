package ingest

import "strings"

// Row is one source record keyed by canonical column name.
type Row map[string]string

// Canonical field names.
const (
	FieldTransactionID = "transaction_id"
	FieldDate          = "date"
	FieldAmount        = "amount"
	FieldMerchant      = "merchant"
	FieldCardNumber    = "card_number"
	FieldCurrency      = "currency"
	FieldCountry       = "country"
	FieldIPAddress     = "ip_address"
	FieldDeviceID      = "device_id"
)

// headerRenames maps canonicalized source headers onto canonical names.
var headerRenames = map[string]string{
	"txn_id":   FieldTransactionID,
	"txn_date": FieldDate,
}

// aliases lists, per canonical field, the columns that may carry it, in
// priority order.
var aliases = map[string][]string{
	FieldTransactionID: {"transaction_id"},
	FieldMerchant:      {"merchant", "description", "merchant_name", "vendor", "store"},
	FieldCardNumber:    {"card_number", "card", "card_num", "card_id"},
	FieldAmount:        {"amount", "amt", "transaction_amount"},
	FieldDate:          {"date", "transaction_date", "timestamp"},
	FieldCurrency:      {"currency", "currency_code"},
	FieldCountry:       {"country", "country_code"},
	FieldIPAddress:     {"ip_address", "ip", "source_ip"},
	FieldDeviceID:      {"device_id", "device"},
}

// CanonicalHeader lower-cases and trims h, replaces spaces with underscores
// and applies the fixed renames.
func CanonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.Join(strings.Fields(h), "_")
	if renamed, ok := headerRenames[h]; ok {
		return renamed
	}
	return h
}

// CanonicalHeaders applies CanonicalHeader to every column.
func CanonicalHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = CanonicalHeader(h)
	}
	return out
}

// NewRow builds a Row from raw key/value pairs, canonicalizing every key.
// The first occurrence of a duplicated column wins.
func NewRow(fields map[string]string) Row {
	row := make(Row, len(fields))
	for k, v := range fields {
		key := CanonicalHeader(k)
		if _, exists := row[key]; exists {
			continue
		}
		row[key] = v
	}
	return row
}

// lookup returns the first present value among field's aliases.
func (r Row) lookup(field string) (string, bool) {
	for _, col := range aliases[field] {
		if v, ok := r[col]; ok && !isAbsent(v) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// empty reports whether every value in the row is absent.
func (r Row) empty() bool {
	for _, v := range r {
		if !isAbsent(v) {
			return false
		}
	}
	return true
}

func isAbsent(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}
