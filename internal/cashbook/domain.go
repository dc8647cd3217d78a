// Package cashbook derives the cash ledger: cash sales, expenses and cash
// payment receipts merged into one deduplicated, date ordered list with a
// running balance. Nothing it computes is persisted.
package cashbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// ErrInvalidWindow is returned for unparsable or inverted date ranges.
var ErrInvalidWindow = fmt.Errorf("cashbook: invalid date window: %w", httpx.ErrValidation)

// Window is an inclusive range of calendar dates, stored at UTC midnight.
type Window struct {
	From time.Time
	To   time.Time
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewWindow normalises from and to to calendar dates.
func NewWindow(from, to time.Time) (Window, error) {
	w := Window{From: truncateDate(from), To: truncateDate(to)}
	if w.To.Before(w.From) {
		return Window{}, fmt.Errorf("%w: %s is after %s", ErrInvalidWindow, w.From.Format(dateLayout), w.To.Format(dateLayout))
	}
	return w, nil
}

// CurrentMonth spans the first of now's month through now's date.
func CurrentMonth(now time.Time) Window {
	today := truncateDate(now)
	return Window{From: today.AddDate(0, 0, 1-today.Day()), To: today}
}

// ParseWindow reads YYYY-MM-DD bounds. Missing bounds default to the current
// month to date.
func ParseWindow(from, to string, now time.Time) (Window, error) {
	def := CurrentMonth(now)
	start, end := def.From, def.To
	var err error
	if from = strings.TrimSpace(from); from != "" {
		if start, err = time.Parse(dateLayout, from); err != nil {
			return Window{}, fmt.Errorf("%w: from %q", ErrInvalidWindow, from)
		}
	}
	if to = strings.TrimSpace(to); to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return Window{}, fmt.Errorf("%w: to %q", ErrInvalidWindow, to)
		}
	}
	return NewWindow(start, end)
}

// Start is the inclusive lower instant.
func (w Window) Start() time.Time { return w.From }

// End is the exclusive upper instant, midnight after To.
func (w Window) End() time.Time { return w.To.AddDate(0, 0, 1) }

// Contains reports whether t falls on a date inside the window.
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.Start()) && t.Before(w.End())
}

// Key identifies the window in cache keys.
func (w Window) Key() string {
	return w.From.Format(dateLayout) + ":" + w.To.Format(dateLayout)
}

// Kind tags the origin of a ledger entry.
type Kind string

const (
	KindSale    Kind = "sale"
	KindExpense Kind = "expense"
	KindReceipt Kind = "receipt"
)

// EntryID is derived from the source variant and its id. It is a display and
// keying value only and is never parsed back.
type EntryID struct {
	Kind   Kind
	Source uuid.UUID
}

func (id EntryID) String() string {
	return string(id.Kind) + "-" + id.Source.String()
}

// MarshalText renders the id as "<kind>-<source id>".
func (id EntryID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// CashSale is a sale settled in cash.
type CashSale struct {
	ID            uuid.UUID       `json:"id"`
	ReceiptNumber string          `json:"receipt_number"`
	ProductName   string          `json:"product_name"`
	Quantity      int64           `json:"quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Expense is a cash-basis outflow.
type Expense struct {
	ID           uuid.UUID       `json:"id"`
	Category     string          `json:"category"`
	VendorName   string          `json:"vendor_name"`
	Amount       decimal.Decimal `json:"amount"`
	DateIncurred time.Time       `json:"date_incurred"`
}

// CashReceipt is a customer payment received in cash.
type CashReceipt struct {
	ID            uuid.UUID       `json:"id"`
	ReceiptNumber string          `json:"receipt_number"`
	CustomerName  string          `json:"customer_name"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentDate   time.Time       `json:"payment_date"`
}

// Sources holds the raw collections for one window.
type Sources struct {
	Sales    []CashSale    `json:"sales"`
	Expenses []Expense     `json:"expenses"`
	Receipts []CashReceipt `json:"receipts"`
}

// Entry is one ledger line. Exactly one of ReceiptAmount and PaymentAmount
// is non-zero.
type Entry struct {
	ID            EntryID         `json:"id"`
	Kind          Kind            `json:"kind"`
	Date          time.Time       `json:"date"`
	Particulars   string          `json:"particulars"`
	VoucherNo     string          `json:"voucher_no"`
	ReceiptAmount decimal.Decimal `json:"receipt_amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Balance       decimal.Decimal `json:"balance"`
}

// Ledger is the merged view for a window.
type Ledger struct {
	From           string          `json:"from"`
	To             string          `json:"to"`
	Entries        []Entry         `json:"entries"`
	TotalReceipts  decimal.Decimal `json:"total_receipts"`
	TotalPayments  decimal.Decimal `json:"total_payments"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	// Deduplicated counts receipts dropped because a sale carries the same voucher.
	Deduplicated int `json:"deduplicated"`
}

// event is the sealed set of ledger sources.
type event interface {
	entry() Entry
}

func (s CashSale) entry() Entry {
	return Entry{
		ID:            EntryID{Kind: KindSale, Source: s.ID},
		Kind:          KindSale,
		Date:          s.CreatedAt,
		Particulars:   fmt.Sprintf("Cash Sale: %s x%d", s.ProductName, s.Quantity),
		VoucherNo:     voucherOr(s.ReceiptNumber, s.ID),
		ReceiptAmount: s.TotalAmount,
		PaymentAmount: decimal.Zero,
	}
}

func (e Expense) entry() Entry {
	return Entry{
		ID:            EntryID{Kind: KindExpense, Source: e.ID},
		Kind:          KindExpense,
		Date:          e.DateIncurred,
		Particulars:   fmt.Sprintf("%s: %s", e.Category, e.VendorName),
		VoucherNo:     shortID(e.ID),
		ReceiptAmount: decimal.Zero,
		PaymentAmount: e.Amount,
	}
}

func (r CashReceipt) entry() Entry {
	particulars := "Payment Receipt"
	if name := strings.TrimSpace(r.CustomerName); name != "" {
		particulars += ": " + name
	}
	return Entry{
		ID:            EntryID{Kind: KindReceipt, Source: r.ID},
		Kind:          KindReceipt,
		Date:          r.PaymentDate,
		Particulars:   particulars,
		VoucherNo:     voucherOr(r.ReceiptNumber, r.ID),
		ReceiptAmount: r.AmountPaid,
		PaymentAmount: decimal.Zero,
	}
}

func voucherOr(receiptNumber string, id uuid.UUID) string {
	if receiptNumber != "" {
		return receiptNumber
	}
	return shortID(id)
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}
