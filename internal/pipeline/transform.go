package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/securepath/internal/ingest"
)

// transformModelOutputToRows converts parsed model output into ingest rows.
// Field coercion is left to the normalizer; only the shape is checked here.
func transformModelOutputToRows(rawOutput map[string]interface{}) ([]ingest.Row, error) {
	txAny, ok := rawOutput["transactions"]
	if !ok {
		return nil, fmt.Errorf("missing 'transactions' key in model output")
	}
	txSlice, ok := txAny.([]interface{})
	if !ok {
		return nil, fmt.Errorf("'transactions' is %T, want []interface{}", txAny)
	}

	rows := make([]ingest.Row, 0, len(txSlice))
	for i, item := range txSlice {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("element %d is %T, want map[string]interface{}", i, item)
		}

		date, err := getStringField(obj, "date", true)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		merchant, err := getStringField(obj, "merchant", true)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		amount, err := getFloat64Field(obj, "amount", true)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}

		row := ingest.Row{
			ingest.FieldDate:     date,
			ingest.FieldMerchant: merchant,
			ingest.FieldAmount:   strconv.FormatFloat(amount, 'f', -1, 64),
		}
		for _, key := range []string{ingest.FieldTransactionID, ingest.FieldCurrency, ingest.FieldCountry, ingest.FieldCardNumber} {
			v, err := getOptionalStringField(obj, key)
			if err != nil {
				return nil, fmt.Errorf("transaction %d: %w", i, err)
			}
			if v != nil {
				row[key] = *v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

func getFloat64Field(m map[string]interface{}, key string, required bool) (float64, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("missing required field %q", key)
		}
		return 0, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case string:
		// some model responses quote numbers
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("field %q is not a number: %q", key, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
