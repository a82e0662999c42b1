package workflow

import (
	"testing"

	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
)

func stockWith(boxes int, kg string, ratio string) *models.ProductStock {
	return &models.ProductStock{
		ID:           1,
		Name:         "Tilapia",
		QuantityBox:  boxes,
		QuantityKg:   decimal.RequireFromString(kg),
		BoxToKgRatio: decimal.RequireFromString(ratio),
	}
}

func TestPlanAllocation_UnboxingCoversShortage(t *testing.T) {
	// 10 boxes of 20kg, no loose kg. Selling 2 boxes + 25kg must open 2 more
	// boxes and leave 6 boxes + 15kg.
	stock := stockWith(10, "0", "20")

	plan, err := PlanAllocation(stock, AllocationRequest{BoxesRequested: 2, KgRequested: decimal.RequireFromString("25")})
	if err != nil {
		t.Fatalf("PlanAllocation: %v", err)
	}
	if !plan.Feasible {
		t.Fatalf("expected feasible plan, got infeasibility: %v", plan.Infeasibility)
	}
	if plan.BoxesToUnbox != 2 {
		t.Fatalf("expected 2 boxes to unbox, got %d", plan.BoxesToUnbox)
	}
	if plan.FinalBoxes != 6 {
		t.Fatalf("expected 6 final boxes, got %d", plan.FinalBoxes)
	}
	if !plan.FinalKg.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("expected 15 final kg, got %s", plan.FinalKg)
	}
	if len(plan.Warnings) == 0 {
		t.Fatalf("expected an unboxing warning")
	}
}

func TestPlanAllocation_InsufficientSpareBoxes(t *testing.T) {
	// Selling 9 of 10 boxes leaves 1 spare box, but covering 25kg needs 2.
	stock := stockWith(10, "0", "20")

	plan, err := PlanAllocation(stock, AllocationRequest{BoxesRequested: 9, KgRequested: decimal.RequireFromString("25")})
	if err != nil {
		t.Fatalf("PlanAllocation: %v", err)
	}
	if plan.Feasible {
		t.Fatalf("expected infeasible plan")
	}
	inf := plan.Infeasibility
	if inf == nil {
		t.Fatalf("expected infeasibility details")
	}
	if inf.Reason != utils.InfeasibilityInsufficientSpare {
		t.Fatalf("expected insufficient spare reason, got %q", inf.Reason)
	}
	if inf.BoxesToUnbox != 2 || inf.SpareBoxes != 1 {
		t.Fatalf("expected need=2 spare=1, got need=%d spare=%d", inf.BoxesToUnbox, inf.SpareBoxes)
	}
	if inf.Suggestion == "" {
		t.Fatalf("expected a suggestion for the caller")
	}
}

func TestPlanAllocation_InsufficientBoxes(t *testing.T) {
	stock := stockWith(3, "10", "20")

	plan, err := PlanAllocation(stock, AllocationRequest{BoxesRequested: 5, KgRequested: decimal.Zero})
	if err != nil {
		t.Fatalf("PlanAllocation: %v", err)
	}
	if plan.Feasible {
		t.Fatalf("expected infeasible plan")
	}
	if plan.Infeasibility.Reason != utils.InfeasibilityInsufficientBoxes {
		t.Fatalf("expected insufficient boxes reason, got %q", plan.Infeasibility.Reason)
	}
}

func TestPlanAllocation_UnboxingCeiling(t *testing.T) {
	cases := []struct {
		shortageKg string
		wantUnbox  int
	}{
		{"5", 1},
		{"20", 1},
		{"20.0001", 2},
		{"40", 2},
		{"41", 3},
	}
	for _, tc := range cases {
		stock := stockWith(10, "0", "20")
		plan, err := PlanAllocation(stock, AllocationRequest{KgRequested: decimal.RequireFromString(tc.shortageKg)})
		if err != nil {
			t.Fatalf("PlanAllocation(%s): %v", tc.shortageKg, err)
		}
		if !plan.Feasible {
			t.Fatalf("shortage %s: expected feasible, got %v", tc.shortageKg, plan.Infeasibility)
		}
		if plan.BoxesToUnbox != tc.wantUnbox {
			t.Fatalf("shortage %s: expected %d boxes unboxed, got %d", tc.shortageKg, tc.wantUnbox, plan.BoxesToUnbox)
		}
	}
}

func TestPlanAllocation_LooseKgPreferredOverUnboxing(t *testing.T) {
	stock := stockWith(10, "30", "20")

	plan, err := PlanAllocation(stock, AllocationRequest{KgRequested: decimal.RequireFromString("25")})
	if err != nil {
		t.Fatalf("PlanAllocation: %v", err)
	}
	if plan.BoxesToUnbox != 0 {
		t.Fatalf("expected no unboxing while loose kg suffices, got %d", plan.BoxesToUnbox)
	}
	if !plan.FinalKg.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected 5 final kg, got %s", plan.FinalKg)
	}
	if plan.FinalBoxes != 10 {
		t.Fatalf("expected boxes untouched, got %d", plan.FinalBoxes)
	}
}

func TestPlanAllocation_QuantizesRequestToStorageScale(t *testing.T) {
	// A request finer than decimal(20,4) is rounded to that scale before
	// planning, so the projected finals equal what replaying the posted
	// deltas against opening stock would give.
	stock := stockWith(1, "0", "20")

	plan, err := PlanAllocation(stock, AllocationRequest{KgRequested: decimal.RequireFromString("19.99994")})
	if err != nil {
		t.Fatalf("PlanAllocation: %v", err)
	}
	if !plan.Feasible {
		t.Fatalf("expected feasible plan, got %v", plan.Infeasibility)
	}
	// 19.99994 rounds to 19.9999; one unboxed box of 20kg leaves 0.0001.
	if !plan.FinalKg.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("expected final kg 0.0001, got %s", plan.FinalKg)
	}
	if plan.BoxesToUnbox != 1 || plan.FinalBoxes != 0 {
		t.Fatalf("expected 1 box unboxed leaving 0, got unbox=%d final=%d", plan.BoxesToUnbox, plan.FinalBoxes)
	}

	// Replay the sale + unboxing deltas against the opening stock and check
	// they land exactly on the planned finals.
	ratio := stock.BoxToKgRatio
	soldKg := utils.Quantize(decimal.RequireFromString("19.99994"))
	replayKg := stock.QuantityKg.
		Add(ratio.Mul(decimal.NewFromInt(int64(plan.BoxesToUnbox)))).
		Sub(soldKg)
	if !replayKg.Equal(plan.FinalKg) {
		t.Fatalf("replayed kg %s differs from planned final %s", replayKg, plan.FinalKg)
	}
}

func TestPlanAllocation_ExactZeroResidualStaysZero(t *testing.T) {
	stock := stockWith(1, "0", "20")

	plan, err := PlanAllocation(stock, AllocationRequest{KgRequested: decimal.RequireFromString("20")})
	if err != nil {
		t.Fatalf("PlanAllocation: %v", err)
	}
	if !plan.Feasible {
		t.Fatalf("expected feasible plan, got %v", plan.Infeasibility)
	}
	if !plan.FinalKg.IsZero() {
		t.Fatalf("expected zero residual, got %s", plan.FinalKg)
	}
}

func TestPlanAllocation_LowStockWarning(t *testing.T) {
	stock := stockWith(5, "0", "20")
	stock.BoxedLowStockThreshold = 3

	plan, err := PlanAllocation(stock, AllocationRequest{BoxesRequested: 3, KgRequested: decimal.Zero})
	if err != nil {
		t.Fatalf("PlanAllocation: %v", err)
	}
	if !plan.LowStock {
		t.Fatalf("expected low stock flag at box-equivalent %d threshold %d", plan.BoxEquivalent, stock.BoxedLowStockThreshold)
	}
	if len(plan.Warnings) == 0 {
		t.Fatalf("expected a low stock warning")
	}
}

func TestPlanAllocation_InvalidRequests(t *testing.T) {
	stock := stockWith(10, "0", "20")

	if _, err := PlanAllocation(stock, AllocationRequest{BoxesRequested: -1}); err == nil {
		t.Fatalf("expected error for negative boxes")
	}
	if _, err := PlanAllocation(stock, AllocationRequest{KgRequested: decimal.RequireFromString("-1")}); err == nil {
		t.Fatalf("expected error for negative kg")
	}
	if _, err := PlanAllocation(stock, AllocationRequest{}); err == nil {
		t.Fatalf("expected error for empty request")
	}

	bad := stockWith(10, "0", "0")
	if _, err := PlanAllocation(bad, AllocationRequest{BoxesRequested: 1}); err == nil {
		t.Fatalf("expected error for non-positive ratio")
	}
}
