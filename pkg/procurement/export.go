package procurement

import (
	"bytes"
	"encoding/csv"
	"strings"
)

// Header is the fixed CSV column order.
var Header = []string{
	"Product Name",
	"Vendor Name",
	"Product Title",
	"Price",
	"Currency",
	"Bulk Discounts or Deals",
	"Vendor Website",
	"Short Product Description",
	"Minimum Order Quantity",
	"Shipping Time",
}

func (r Row) record() []string {
	return []string{
		r.ProductName,
		r.VendorName,
		r.ProductTitle,
		r.Price,
		r.Currency,
		r.BulkDiscounts,
		r.VendorWebsite,
		r.Description,
		r.MinimumOrderQuantity,
		r.ShippingTime,
	}
}

// EncodeCSV writes the header and rows, with an empty row wherever the
// product changes.
func EncodeCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(Header); err != nil {
		return nil, err
	}

	blank := make([]string, len(Header))
	for i, row := range rows {
		if i > 0 && !strings.EqualFold(row.ProductName, rows[i-1].ProductName) {
			if err := writer.Write(blank); err != nil {
				return nil, err
			}
		}
		if err := writer.Write(row.record()); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarkdownTable renders rows as a comparison table. No rows yield "".
func MarkdownTable(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(Header, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(Header)) + "\n")
	for _, row := range rows {
		cells := row.record()
		for i, cell := range cells {
			cells[i] = strings.ReplaceAll(strings.ReplaceAll(cell, "|", `\|`), "\n", " ")
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	return strings.TrimSuffix(sb.String(), "\n")
}
