package adjustments

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/backoffice/internal/catalog"
)

// costImpact is fixed at creation from the catalog cost of the moment.
func costImpact(t Type, returnToStock bool, quantity int64, unitCost decimal.Decimal, supplied *decimal.Decimal) decimal.Decimal {
	switch {
	case t == TypeReturn && returnToStock:
		return decimal.Zero
	case t == TypeReturn, t.writesOff():
		return unitCost.Mul(decimal.NewFromInt(quantity))
	case t == TypeCorrection && supplied != nil:
		return *supplied
	default:
		return decimal.Zero
	}
}

type stockPlan struct {
	effect StockEffect
	delta  int64
}

// planStock decides the catalog delta an approval applies. original is the
// reversed record and is only consulted for reversals. The zero floor is
// enforced by the catalog update, so the applied delta can be smaller.
func planStock(adj Adjustment, original *Adjustment) stockPlan {
	switch {
	case adj.Type == TypeReturn && adj.ReturnToStock:
		return stockPlan{effect: EffectRestock, delta: adj.Quantity}
	case adj.Type.writesOff():
		return stockPlan{effect: EffectWriteOff, delta: -adj.Quantity}
	case adj.Type == TypeReversal && original != nil:
		switch {
		case original.AppliedDelta > 0:
			return stockPlan{effect: EffectReverseRestock, delta: -original.AppliedDelta}
		case original.AppliedDelta < 0:
			return stockPlan{effect: EffectReverseWriteOff, delta: -original.AppliedDelta}
		}
	}
	return stockPlan{effect: EffectNone}
}

var printer = message.NewPrinter(language.English)

func approvalMessage(adj Adjustment, effect StockEffect, change *catalog.StockChange) string {
	cost := adj.CostImpact.StringFixed(2)
	if change != nil {
		switch effect {
		case EffectRestock:
			return printer.Sprintf("Approved return of %d units: restocked, stock %d to %d", adj.Quantity, change.Before, change.After)
		case EffectWriteOff:
			return printer.Sprintf("Approved %s of %d units: written off, stock %d to %d, cost impact %s", adj.Type, adj.Quantity, change.Before, change.After, cost)
		case EffectReverseRestock, EffectReverseWriteOff:
			return printer.Sprintf("Approved reversal of %d units: stock %d to %d, cost impact %s", adj.Quantity, change.Before, change.After, cost)
		}
	}
	switch adj.Type {
	case TypeReturn:
		return printer.Sprintf("Approved return of %d units: discarded, no stock change, cost impact %s", adj.Quantity, cost)
	case TypeCorrection:
		return printer.Sprintf("Approved correction of %d units: no automatic stock change", adj.Quantity)
	default:
		return printer.Sprintf("Approved %s of %d units: no stock change", adj.Type, adj.Quantity)
	}
}
