package importer

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	fieldDate          = "date"
	fieldCustomerName  = "customerName"
	fieldContactPhone  = "contactPhone"
	fieldContactEmail  = "contactEmail"
	fieldProduct       = "product"
	fieldQuantity      = "quantity"
	fieldUnitPrice     = "unitPrice"
	fieldTotalAmount   = "totalAmount"
	fieldAmountPaid    = "amountPaid"
	fieldPaymentMethod = "paymentMethod"
	fieldReceiptURL    = "receiptUrl"
)

// headerAliases maps the column names produced by the external POS export
// (and a few common variants) to canonical fields. Matching is exact.
var headerAliases = map[string]string{
	"Date":             fieldDate,
	"Transaction Date": fieldDate,
	"date":             fieldDate,
	"createdAt":        fieldDate,

	"Contact Name":  fieldCustomerName,
	"Customer Name": fieldCustomerName,
	"customerName":  fieldCustomerName,

	"Contact Phone": fieldContactPhone,
	"Phone":         fieldContactPhone,
	"phoneNumber":   fieldContactPhone,

	"Contact Email": fieldContactEmail,
	"Email":         fieldContactEmail,
	"email":         fieldContactEmail,

	"Product":      fieldProduct,
	"Product Name": fieldProduct,
	"productName":  fieldProduct,

	"Quantity": fieldQuantity,
	"Qty":      fieldQuantity,
	"quantity": fieldQuantity,

	"Unit Price": fieldUnitPrice,
	"Price":      fieldUnitPrice,
	"unitPrice":  fieldUnitPrice,

	"Total Amount": fieldTotalAmount,
	"Total":        fieldTotalAmount,
	"totalAmount":  fieldTotalAmount,

	"Amount Paid": fieldAmountPaid,
	"Paid":        fieldAmountPaid,
	"amountPaid":  fieldAmountPaid,

	"paymentMethod":  fieldPaymentMethod,
	"Payment Method": fieldPaymentMethod,

	"receiptUrl":  fieldReceiptURL,
	"Receipt URL": fieldReceiptURL,
}

// columnIndex resolves canonical fields to column positions. The first column
// carrying a given field wins.
func columnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		field, ok := headerAliases[name]
		if !ok {
			continue
		}
		if _, seen := index[field]; !seen {
			index[field] = i
		}
	}
	return index
}

// rowData keeps the original cells keyed by their header so skipped rows can
// be reported verbatim.
func rowData(header, record []string) map[string]string {
	data := make(map[string]string, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		if name == "" {
			continue
		}
		value := ""
		if i < len(record) {
			value = record[i]
		}
		data[name] = value
	}
	return data
}

type row struct {
	number int
	cells  map[string]string
	data   map[string]string
}

func newRow(number int, index map[string]int, header, record []string) row {
	cells := make(map[string]string, len(index))
	for field, i := range index {
		if i < len(record) {
			cells[field] = strings.TrimSpace(record[i])
		}
	}
	return row{number: number, cells: cells, data: rowData(header, record)}
}

func (r row) get(field string) string {
	return r.cells[field]
}

// contacts lists the lookup candidates in preference order: email, then phone.
func (r row) contacts() []string {
	var out []string
	if email := r.get(fieldContactEmail); email != "" {
		out = append(out, email)
	}
	if phone := r.get(fieldContactPhone); phone != "" {
		out = append(out, phone)
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
}

// parseDate accepts the layouts above. Values without a zone are read as UTC.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized date format")
}

var errNotPositiveInteger = errors.New("quantity must be a positive whole number")

func parseQuantity(raw string) (int, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 1 {
			return 0, errNotPositiveInteger
		}
		return n, nil
	}
	// Spreadsheet exports sometimes write whole numbers as "3.0".
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() || !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1_000_000)) {
		return 0, errNotPositiveInteger
	}
	return int(d.IntPart()), nil
}

var currencyTokens = []string{"USD", "usd", "$", "€", "£", "¥", "₱", "Rp"}

// parseAmount reads a money cell. Currency symbols, thousands separators and
// surrounding spaces are ignored; an empty cell is zero.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	for _, token := range currencyTokens {
		s = strings.ReplaceAll(s, token, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, errors.New("amount has no digits")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
