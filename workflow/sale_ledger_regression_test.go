package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"bitbucket.org/kivumarket/fishstock_backend/workflow"
	"github.com/shopspring/decimal"
)

// Full-stack regression: a sale with automatic unboxing must post atomically,
// the ledger must replay to the exact stock row, and the audit state machine
// must gate amendments end to end.
func TestSaleCommitLedgerAndAuditLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fishstock_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetCorrelationIdInContext(ctx, "test-lifecycle")

	product, err := models.CreateProductStock(ctx, &models.NewProductStock{
		Name:         "Tilapia",
		BoxToKgRatio: decimal.RequireFromString("20"),
		PricePerBox:  decimal.RequireFromString("30000"),
		PricePerKg:   decimal.RequireFromString("2000"),
		OpeningBoxes: 10,
	})
	if err != nil {
		t.Fatalf("CreateProductStock: %v", err)
	}

	// 1) Sell 2 boxes + 25kg from 10 boxes / 0kg: 2 boxes auto-unboxed.
	sale, plan, err := workflow.CommitSale(ctx, &models.NewSale{
		ProductId:     product.ID,
		BoxesQuantity: 2,
		KgQuantity:    decimal.RequireFromString("25"),
		BoxPrice:      decimal.RequireFromString("30000"),
		KgPrice:       decimal.RequireFromString("2000"),
		PaymentMethod: models.PaymentMethodCash,
		PaymentStatus: models.PaymentStatusPaid,
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	if plan.BoxesToUnbox != 2 {
		t.Fatalf("expected 2 boxes unboxed, got %d", plan.BoxesToUnbox)
	}
	if sale.BoxesUnboxed != 2 {
		t.Fatalf("sale must record unboxed boxes, got %d", sale.BoxesUnboxed)
	}

	after, err := models.GetProductStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProductStock: %v", err)
	}
	if after.QuantityBox != 6 || !after.QuantityKg.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("expected 6 boxes / 15kg after sale, got %d / %s", after.QuantityBox, after.QuantityKg)
	}

	// 2) Ledger replay must reproduce the stock row exactly.
	report, err := workflow.VerifyProductLedger(ctx, product.ID)
	if err != nil {
		t.Fatalf("VerifyProductLedger: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("ledger diverged after commit: %+v", report)
	}
	// opening + sale + unboxing
	if report.Movements != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", report.Movements)
	}

	// 3) An oversized amendment is recorded, but approving it must refuse:
	// the stock cannot cover +100 boxes.
	audit, err := workflow.RequestSaleChange(ctx, sale.ID, &workflow.SaleAmendment{
		AuditType:        models.AuditTypeQuantityChange,
		NewBoxesQuantity: intPtr(102),
		Reason:           "typo in original entry",
	})
	if err != nil {
		t.Fatalf("RequestSaleChange: %v", err)
	}

	// A second pending request on the same sale is refused.
	_, err = workflow.RequestSaleChange(ctx, sale.ID, &workflow.SaleAmendment{
		AuditType: models.AuditTypeDeletion,
		Reason:    "duplicate entry",
	})
	var conflict *utils.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict for second pending audit, got %v", err)
	}

	_, err = workflow.DecideAudit(ctx, audit.ID, models.ApprovalStatusApproved, "looks right")
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict approving an unfillable amendment, got %v", err)
	}

	// 4) Reject it; sale, stock and ledger stay untouched.
	decided, err := workflow.DecideAudit(ctx, audit.ID, models.ApprovalStatusRejected, "cannot fill from stock")
	if err != nil {
		t.Fatalf("DecideAudit reject: %v", err)
	}
	if decided.ApprovalStatus != models.ApprovalStatusRejected {
		t.Fatalf("expected rejected, got %s", decided.ApprovalStatus)
	}
	unchanged, err := models.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if unchanged.BoxesQuantity != 2 {
		t.Fatalf("rejection must not touch the sale, got %d boxes", unchanged.BoxesQuantity)
	}

	// Rejected is terminal.
	_, err = workflow.DecideAudit(ctx, audit.ID, models.ApprovalStatusApproved, "changed my mind")
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict flipping a decided audit, got %v", err)
	}

	// 5) Approved deletion restores the sold quantities; the unboxed kg stays
	// loose.
	deletion, err := workflow.RequestSaleChange(ctx, sale.ID, &workflow.SaleAmendment{
		AuditType: models.AuditTypeDeletion,
		Reason:    "client cancelled",
	})
	if err != nil {
		t.Fatalf("RequestSaleChange deletion: %v", err)
	}
	if _, err := workflow.DecideAudit(ctx, deletion.ID, models.ApprovalStatusApproved, "confirmed with client"); err != nil {
		t.Fatalf("DecideAudit approve deletion: %v", err)
	}

	restored, err := models.GetProductStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProductStock after deletion: %v", err)
	}
	if restored.QuantityBox != 8 || !restored.QuantityKg.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("expected 8 boxes / 40kg after restore, got %d / %s", restored.QuantityBox, restored.QuantityKg)
	}

	if _, err := models.GetSale(ctx, sale.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("deleted sale must be gone, got %v", err)
	}

	report, err = workflow.VerifyProductLedger(ctx, product.ID)
	if err != nil {
		t.Fatalf("VerifyProductLedger after deletion: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("ledger diverged after deletion approval: %+v", report)
	}
}

// Concurrent amendment requests on one sale must leave exactly one pending
// audit: the check and insert share a transaction holding the sale row lock,
// so every other request observes the winner and conflicts.
func TestRequestSaleChange_ConcurrentRequestsSingleWinner(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fishstock_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetCorrelationIdInContext(ctx, "test-concurrent-amend")

	product, err := models.CreateProductStock(ctx, &models.NewProductStock{
		Name:         "Sambaza",
		BoxToKgRatio: decimal.RequireFromString("10"),
		PricePerBox:  decimal.RequireFromString("15000"),
		PricePerKg:   decimal.RequireFromString("1800"),
		OpeningBoxes: 20,
	})
	if err != nil {
		t.Fatalf("CreateProductStock: %v", err)
	}

	sale, _, err := workflow.CommitSale(ctx, &models.NewSale{
		ProductId:     product.ID,
		BoxesQuantity: 3,
		BoxPrice:      decimal.RequireFromString("15000"),
		KgPrice:       decimal.RequireFromString("1800"),
		PaymentMethod: models.PaymentMethodCash,
		PaymentStatus: models.PaymentStatusPaid,
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	const requests = 4
	results := make([]error, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = workflow.RequestSaleChange(ctx, sale.ID, &workflow.SaleAmendment{
				AuditType:        models.AuditTypeQuantityChange,
				NewBoxesQuantity: intPtr(2 + i),
				Reason:           "quantity correction",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var conflict *utils.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("request %d: expected conflict or success, got %v", i, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one request to win, got %d", succeeded)
	}

	audits, err := models.ListAuditRecords(ctx, &models.AuditFilter{
		SaleId:         sale.ID,
		ApprovalStatus: models.ApprovalStatusPending,
	})
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("expected exactly one pending audit, got %d", len(audits))
	}
}

func intPtr(v int) *int { return &v }

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fishstock-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fishstock_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
