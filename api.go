package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"bitbucket.org/kivumarket/fishstock_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

// writeError maps the error taxonomy onto HTTP statuses. Validation problems
// are the caller's fault, infeasibility is a stock fact, conflicts are races
// or state-machine refusals, and an invariant violation is our fault.
func writeError(c *gin.Context, err error) {
	var validationErr *utils.ValidationError
	var infeasibleErr *utils.InfeasibleError
	var conflictErr *utils.ConflictError
	var invariantErr *utils.InvariantViolationError

	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.Is(err, models.ErrorInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "field": validationErr.Field})
	case errors.As(err, &infeasibleErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": infeasibleErr.Error(), "details": infeasibleErr})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Error()})
	case errors.As(err, &invariantErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": invariantErr.Error(), "details": invariantErr})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		token, user, err := models.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user_id": user.ID, "username": user.Username})
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProductStock
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.CreateProductStock(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := models.ListProductStocks(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"products": products})
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		product, err := models.GetProductStock(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"product":        product,
			"box_equivalent": product.BoxEquivalent(),
			"low_stock":      product.IsLowStock(),
		})
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.ProductStockUpdate
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.UpdateProductStock(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

type previewSaleRequest struct {
	ProductId     int             `json:"product_id" binding:"required"`
	BoxesQuantity int             `json:"boxes_quantity"`
	KgQuantity    decimal.Decimal `json:"kg_quantity"`
}

func previewSaleHandler(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "PreviewSale", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var req previewSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		preview, err := workflow.PreviewSale(ctx, req.ProductId, req.BoxesQuantity, req.KgQuantity)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, preview)
	}
}

func commitSaleHandler(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "CommitSale", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var input models.NewSale
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sale, plan, err := workflow.CommitSale(ctx, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusCreated, gin.H{
			"sale":           sale,
			"warnings":       plan.Warnings,
			"boxes_unboxed":  plan.BoxesToUnbox,
			"correlation_id": cid,
		})
	}
}

func listSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.SaleFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sales, err := models.ListSales(c.Request.Context(), &filter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sales": sales})
	}
}

func getSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		sale, err := models.GetSale(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sale)
	}
}

func requestSaleChangeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input workflow.SaleAmendment
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		audit, err := workflow.RequestSaleChange(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, audit)
	}
}

func listAuditsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.AuditFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		audits, err := models.ListAuditRecords(c.Request.Context(), &filter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"audits": audits})
	}
}

type auditDecisionRequest struct {
	Decision models.ApprovalStatus `json:"decision" binding:"required"`
	Reason   string                `json:"reason" binding:"required"`
}

func decideAuditHandler(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "DecideAudit", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req auditDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		audit, err := workflow.DecideAudit(ctx, id, req.Decision, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

func listMovementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.MovementFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		movements, err := models.ListStockMovements(c.Request.Context(), &filter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"movements": movements})
	}
}

func recordNewStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.NewStockEntry
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		movement, err := workflow.RecordNewStock(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, movement)
	}
}

func recordDamageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.DamageEntry
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		movement, err := workflow.RecordDamage(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, movement)
	}
}

func recordCorrectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.CorrectionEntry
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		movement, err := workflow.RecordCorrection(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, movement)
	}
}

func verifyLedgerHandler(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "VerifyProductLedger", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		report, err := workflow.VerifyProductLedger(ctx, id)
		if err != nil {
			var invariantErr *utils.InvariantViolationError
			if errors.As(err, &invariantErr) && report != nil {
				// A divergent ledger is reported, not hidden; the product is
				// now blocked.
				c.JSON(http.StatusConflict, gin.H{"error": invariantErr.Error(), "report": report})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func verifyAllLedgersHandler(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "VerifyAllLedgers", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		reports, err := workflow.VerifyAllLedgers(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		consistent := true
		for _, r := range reports {
			if !r.Consistent {
				consistent = false
				break
			}
		}
		c.JSON(http.StatusOK, gin.H{"consistent": consistent, "reports": reports})
	}
}
