package workflow

import (
	"fmt"

	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
)

// KgEpsilon is one unit in the last stored decimal place (decimal(20,4)).
// All kg inputs are quantized to that scale on entry, so any |value| below
// KgEpsilon is exactly zero; the clamps guard the comparison without ever
// rewriting a figure the ledger could not replay to.
var KgEpsilon = decimal.New(1, -4)

type AllocationRequest struct {
	BoxesRequested int
	KgRequested    decimal.Decimal
}

// AllocationPlan is the allocator verdict. It is computed without mutating
// anything; commit recomputes it against the locked row before applying.
type AllocationPlan struct {
	Feasible      bool                  `json:"feasible"`
	BoxesToUnbox  int                   `json:"boxes_to_unbox"`
	KgShortage    decimal.Decimal       `json:"kg_shortage"`
	FinalBoxes    int                   `json:"final_boxes"`
	FinalKg       decimal.Decimal       `json:"final_kg"`
	BoxEquivalent int                   `json:"box_equivalent"`
	LowStock      bool                  `json:"low_stock"`
	Warnings      []string              `json:"warnings,omitempty"`
	Infeasibility *utils.InfeasibleError `json:"infeasibility,omitempty"`
}

// PlanAllocation evaluates whether the requested (boxes, kg) can be satisfied
// from the given stock, computing the minimum unboxing needed for any weight
// shortfall. Infeasibility is a structured outcome on the plan, not an error;
// the error return is for invalid input only.
func PlanAllocation(stock *models.ProductStock, req AllocationRequest) (*AllocationPlan, error) {
	// Kg is planned, posted and stored at scale 4; quantizing here keeps the
	// projected finals exactly reproducible from the ledger deltas.
	req.KgRequested = utils.Quantize(req.KgRequested)

	if req.BoxesRequested < 0 {
		return nil, utils.NewValidationError("boxes_quantity", "must not be negative")
	}
	if req.KgRequested.IsNegative() {
		return nil, utils.NewValidationError("kg_quantity", "must not be negative")
	}
	if req.BoxesRequested == 0 && !req.KgRequested.IsPositive() {
		return nil, utils.NewValidationError("quantity", "at least one of boxes or kg must be greater than zero")
	}
	if stock.BoxToKgRatio.LessThanOrEqual(decimal.Zero) {
		return nil, utils.NewValidationError("box_to_kg_ratio", "must be greater than zero")
	}

	plan := &AllocationPlan{}

	if req.BoxesRequested > stock.QuantityBox {
		plan.Infeasibility = &utils.InfeasibleError{
			Reason:         utils.InfeasibilityInsufficientBoxes,
			BoxesRequested: req.BoxesRequested,
			BoxesInStock:   stock.QuantityBox,
			Suggestion:     fmt.Sprintf("reduce boxes to at most %d", stock.QuantityBox),
		}
		return plan, nil
	}

	kgShortage := req.KgRequested.Sub(stock.QuantityKg)
	if kgShortage.IsNegative() {
		kgShortage = decimal.Zero
	}
	plan.KgShortage = kgShortage

	boxesToUnbox := 0
	if kgShortage.IsPositive() {
		// Minimum whole boxes covering the shortage; a box, once opened,
		// contributes its full ratio to loose stock.
		boxesToUnbox = int(kgShortage.Div(stock.BoxToKgRatio).Ceil().IntPart())
	}
	plan.BoxesToUnbox = boxesToUnbox

	spareBoxes := stock.QuantityBox - req.BoxesRequested
	if boxesToUnbox > spareBoxes {
		plan.Infeasibility = &utils.InfeasibleError{
			Reason:         utils.InfeasibilityInsufficientSpare,
			BoxesRequested: req.BoxesRequested,
			BoxesInStock:   stock.QuantityBox,
			BoxesToUnbox:   boxesToUnbox,
			SpareBoxes:     spareBoxes,
			KgShortage:     kgShortage,
			Suggestion: fmt.Sprintf("reduce the kg request by at least %s kg or the boxes by %d",
				kgShortage.Sub(stock.BoxToKgRatio.Mul(decimal.NewFromInt(int64(spareBoxes)))).String(),
				boxesToUnbox-spareBoxes),
		}
		return plan, nil
	}

	plan.Feasible = true
	plan.FinalBoxes = stock.QuantityBox - req.BoxesRequested - boxesToUnbox
	unboxedKg := stock.BoxToKgRatio.Mul(decimal.NewFromInt(int64(boxesToUnbox)))
	finalKg := stock.QuantityKg.Add(unboxedKg).Sub(req.KgRequested)
	if finalKg.Abs().LessThan(KgEpsilon) {
		finalKg = decimal.Zero
	}
	plan.FinalKg = finalKg

	if boxesToUnbox > 0 {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("%d box(es) will be unboxed automatically to cover a %s kg shortage",
				boxesToUnbox, kgShortage.String()))
	}

	plan.BoxEquivalent = plan.FinalBoxes + int(finalKg.Div(stock.BoxToKgRatio).Floor().IntPart())
	if plan.BoxEquivalent <= stock.BoxedLowStockThreshold {
		plan.LowStock = true
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("stock will be low after this sale: %d box-equivalent unit(s) left (threshold %d)",
				plan.BoxEquivalent, stock.BoxedLowStockThreshold))
	}

	return plan, nil
}
