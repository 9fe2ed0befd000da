package coflink

import (
	"strconv"
	"strings"
)

// Order data XML node names, fixed by the bank's contract document.
const (
	xmlRootNode      = "CofContractProductList"
	xmlProductNode   = "CofContractProduct"
	xmlValidTimeNode = "ValidToDtime"
)

// itemCurrency is the only currency the hire-purchase product supports.
const itemCurrency = "EUR"

// OrderItem is one line of the basket sent to the bank. GrossAmount includes
// tax. Items with a non-positive gross amount must be filtered out by the
// caller before building a request; the bank cannot handle them.
type OrderItem struct {
	Name        string
	Code        string
	GrossAmount float64
	VATPercent  float64
}

// xmlEscaper applies XML1 entity escaping to text content.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// OrderDataXML renders the basket plus the validity-expiry timestamp into the
// bank's XML document. Element names and nesting are part of the wire
// contract; the document is emitted as a single line with no declaration.
func OrderDataXML(items []OrderItem, validTo string) string {
	var b strings.Builder
	b.WriteString("<" + xmlRootNode + ">")
	for _, item := range items {
		b.WriteString("<" + xmlProductNode + ">")
		writeNode(&b, "Name", xmlEscaper.Replace(item.Name))
		writeNode(&b, "Code", xmlEscaper.Replace(item.Code))
		writeNode(&b, "Currency", itemCurrency)
		writeNode(&b, "CostInclVatAmount", formatAmount(item.GrossAmount))
		writeNode(&b, "CostVatPercent", formatRate(item.VATPercent))
		b.WriteString("</" + xmlProductNode + ">")
	}
	writeNode(&b, xmlValidTimeNode, validTo)
	b.WriteString("</" + xmlRootNode + ">")
	return b.String()
}

func writeNode(b *strings.Builder, name, text string) {
	b.WriteString("<" + name + ">")
	b.WriteString(text)
	b.WriteString("</" + name + ">")
}

// formatAmount renders a monetary value with two decimal places.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatRate renders a tax rate without trailing zeros, e.g. 20 not 20.00.
func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
