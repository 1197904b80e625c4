package reviewsync

import (
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/jomei/notionapi"
)

// Review board column names.
const (
	PropTransactionID = "Transaction ID"
	PropPrincipal     = "Principal"
	PropMerchant      = "Merchant"
	PropAmount        = "Amount"
	PropCurrency      = "Currency"
	PropCountry       = "Country"
	PropDate          = "Date"
	PropStatus        = "Status"
	PropRiskScore     = "Risk Score"
	PropIsFraud       = "Is Fraud"
	PropReasons       = "Reasons"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}

// TransactionToProperties maps a flagged transaction onto a review board row.
func TransactionToProperties(tx domain.Transaction) notionapi.Properties {
	amount, _ := tx.Amount.Float64()
	date := notionapi.Date(tx.Date.UTC())

	props := notionapi.Properties{
		PropTransactionID: notionapi.TitleProperty{Title: richText(tx.TransactionID)},
		PropPrincipal:     notionapi.RichTextProperty{RichText: richText(tx.UserID)},
		PropMerchant:      notionapi.RichTextProperty{RichText: richText(tx.Merchant)},
		PropAmount:        notionapi.NumberProperty{Number: amount},
		PropDate:          notionapi.DateProperty{Date: &notionapi.DateObject{Start: &date}},
		PropStatus:        notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Status)}},
		PropIsFraud:       notionapi.CheckboxProperty{Checkbox: tx.IsFraud},
	}

	if tx.Currency != "" {
		props[PropCurrency] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Currency}}
	}
	if tx.Country != "" {
		props[PropCountry] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Country}}
	}
	if tx.RiskScore.Valid {
		score, _ := tx.RiskScore.Decimal.Float64()
		props[PropRiskScore] = notionapi.NumberProperty{Number: score}
	}

	reasons := tx.ReasonCode
	if tx.FraudReasons != "" {
		reasons = tx.FraudReasons
	}
	if reasons != "" {
		props[PropReasons] = notionapi.RichTextProperty{RichText: richText(reasons)}
	}
	return props
}

// pageKey identifies a board row by principal and transaction id, matching
// the store's uniqueness constraint.
func pageKey(principal, transactionID string) string {
	return principal + "/" + transactionID
}

// extractKey reads the key back from a page returned by the API.
func extractKey(page notionapi.Page) string {
	var txID, principal string
	switch prop := page.Properties[PropTransactionID].(type) {
	case *notionapi.TitleProperty:
		if len(prop.Title) > 0 {
			txID = prop.Title[0].PlainText
		}
	}
	switch prop := page.Properties[PropPrincipal].(type) {
	case *notionapi.RichTextProperty:
		if len(prop.RichText) > 0 {
			principal = prop.RichText[0].PlainText
		}
	}
	if txID == "" {
		return ""
	}
	return pageKey(principal, txID)
}
