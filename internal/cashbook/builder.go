package cashbook

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Build merges the sources into a ledger for w. Events outside the window
// are ignored. A cash receipt whose receipt number matches a cash sale's
// non-empty receipt number is dropped so the money is counted once. Entries
// with equal dates keep source precedence: sales, expenses, receipts, each
// in input order.
func Build(w Window, src Sources) Ledger {
	saleVouchers := make(map[string]struct{}, len(src.Sales))
	events := make([]event, 0, len(src.Sales)+len(src.Expenses)+len(src.Receipts))
	for _, s := range src.Sales {
		if !w.Contains(s.CreatedAt) {
			continue
		}
		if s.ReceiptNumber != "" {
			saleVouchers[s.ReceiptNumber] = struct{}{}
		}
		events = append(events, s)
	}
	for _, e := range src.Expenses {
		// DateIncurred is a calendar date in whatever zone it was decoded with.
		e.DateIncurred = truncateDate(e.DateIncurred)
		if w.Contains(e.DateIncurred) {
			events = append(events, e)
		}
	}
	deduplicated := 0
	for _, r := range src.Receipts {
		if !w.Contains(r.PaymentDate) {
			continue
		}
		if _, dup := saleVouchers[r.ReceiptNumber]; dup && r.ReceiptNumber != "" {
			deduplicated++
			continue
		}
		events = append(events, r)
	}

	entries := make([]Entry, len(events))
	for i, ev := range events {
		entries[i] = ev.entry()
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})

	ledger := Ledger{
		From:          w.From.Format(dateLayout),
		To:            w.To.Format(dateLayout),
		Entries:       entries,
		TotalReceipts: decimal.Zero,
		TotalPayments: decimal.Zero,
		Deduplicated:  deduplicated,
	}
	balance := decimal.Zero
	for i := range entries {
		balance = balance.Add(entries[i].ReceiptAmount).Sub(entries[i].PaymentAmount)
		entries[i].Balance = balance
		ledger.TotalReceipts = ledger.TotalReceipts.Add(entries[i].ReceiptAmount)
		ledger.TotalPayments = ledger.TotalPayments.Add(entries[i].PaymentAmount)
	}
	ledger.ClosingBalance = ledger.TotalReceipts.Sub(ledger.TotalPayments)
	return ledger
}
