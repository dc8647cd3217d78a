package cashbook

import (
	"encoding/csv"
	"io"

	"github.com/shopspring/decimal"
)

// WriteCSV emits the ledger as CSV followed by a totals row.
func WriteCSV(w io.Writer, ledger Ledger) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Date", "Voucher No", "Particulars", "Receipt", "Payment", "Balance"}); err != nil {
		return err
	}
	for _, e := range ledger.Entries {
		if err := writer.Write([]string{
			e.Date.Format(dateLayout),
			e.VoucherNo,
			e.Particulars,
			formatAmount(e.ReceiptAmount),
			formatAmount(e.PaymentAmount),
			formatAmount(e.Balance),
		}); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{
		ledger.To,
		"",
		"Totals " + ledger.From + " to " + ledger.To,
		formatAmount(ledger.TotalReceipts),
		formatAmount(ledger.TotalPayments),
		formatAmount(ledger.ClosingBalance),
	}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
