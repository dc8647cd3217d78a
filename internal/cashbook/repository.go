package cashbook

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// PGRepository reads ledger sources from PostgreSQL.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs PGRepository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const cashSalesSQL = `SELECT id, COALESCE(receipt_number, ''), product_name, quantity, total_amount, created_at
FROM sales
WHERE LOWER(payment_method) = 'cash' AND created_at >= $1 AND created_at < $2
ORDER BY created_at, id`

const expensesSQL = `SELECT id, category, vendor_name, amount, date_incurred
FROM expenses
WHERE date_incurred >= $1 AND date_incurred <= $2
ORDER BY date_incurred, id`

const cashReceiptsSQL = `SELECT id, COALESCE(receipt_number, ''), COALESCE(customer_name, ''), amount_paid, payment_date
FROM payment_receipts
WHERE LOWER(payment_method) = 'cash' AND payment_date >= $1 AND payment_date < $2
ORDER BY payment_date, id`

// CashSales lists cash sales created inside w.
func (r *PGRepository) CashSales(ctx context.Context, w Window) ([]CashSale, error) {
	rows, err := r.db.Query(ctx, cashSalesSQL, w.Start(), w.End())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CashSale, error) {
		var s CashSale
		err := row.Scan(&s.ID, &s.ReceiptNumber, &s.ProductName, &s.Quantity, &s.TotalAmount, &s.CreatedAt)
		return s, err
	})
}

// Expenses lists expenses incurred inside w.
func (r *PGRepository) Expenses(ctx context.Context, w Window) ([]Expense, error) {
	from, to := dateBounds(w)
	rows, err := r.db.Query(ctx, expensesSQL, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Expense, error) {
		var e Expense
		err := row.Scan(&e.ID, &e.Category, &e.VendorName, &e.Amount, &e.DateIncurred)
		return e, err
	})
}

// CashReceipts lists cash payment receipts paid inside w.
func (r *PGRepository) CashReceipts(ctx context.Context, w Window) ([]CashReceipt, error) {
	rows, err := r.db.Query(ctx, cashReceiptsSQL, w.Start(), w.End())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CashReceipt, error) {
		var rc CashReceipt
		err := row.Scan(&rc.ID, &rc.ReceiptNumber, &rc.CustomerName, &rc.AmountPaid, &rc.PaymentDate)
		return rc, err
	})
}

// dateBounds passes the window as DATE values so the comparison does not
// depend on the session TimeZone.
func dateBounds(w Window) (pgtype.Date, pgtype.Date) {
	return pgtype.Date{Time: w.From, Valid: true}, pgtype.Date{Time: w.To, Valid: true}
}
