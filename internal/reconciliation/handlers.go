package reconciliation

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/recon-api/internal/cache"
	"github.com/ksred/recon-api/internal/types"
	"github.com/ksred/recon-api/pkg/response"
)

// GinHandlers contains HTTP handlers for reconciliation endpoints
type GinHandlers struct {
	service Service
	engine  *Engine
	cache   *cache.Service
}

// NewGinHandlers creates a new set of HTTP handlers for reconciliation endpoints
func NewGinHandlers(service Service, engine *Engine, cacheService *cache.Service) *GinHandlers {
	return &GinHandlers{
		service: service,
		engine:  engine,
		cache:   cacheService,
	}
}

// CreateRecordRequest is the payload for importing a single record.
type CreateRecordRequest struct {
	TransactionDate time.Time `json:"transaction_date" binding:"required"`
	Type            string    `json:"type" binding:"required"`
	Amount          float64   `json:"amount" binding:"required"`
	Currency        string    `json:"currency" binding:"required"`
	CustomerName    string    `json:"customer_name"`
}

// CreateRecordHandler handles POST requests to import reconciliation records
// Requires a valid JWT token; an Idempotency-Key header makes the
// import safely replayable
func (h *GinHandlers) CreateRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record := &Record{
			TransactionDate: req.TransactionDate,
			Type:            req.Type,
			Amount:          req.Amount,
			Currency:        req.Currency,
			CustomerName:    req.CustomerName,
			CreatedBy:       c.GetString("clientID"),
		}

		err := h.service.CreateRecord(c.Request.Context(), record, c.GetHeader("Idempotency-Key"))
		response.Handle(c, record, err)
	}
}

// ImportRecordsHandler handles POST requests to bulk-import records
// Request body is a JSON array of import rows
func (h *GinHandlers) ImportRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var rows []ImportRow
		if err := c.ShouldBindJSON(&rows); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if len(rows) == 0 {
			response.BadRequest(c, "Import requires at least one row")
			return
		}

		result, err := h.service.ImportRecords(c.Request.Context(), rows, c.GetString("clientID"))
		response.Handle(c, result, err)
	}
}

// GetRecordHandler handles GET requests for a single record
// URL parameter: record_number
func (h *GinHandlers) GetRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recordNumber := c.Param("record_number")
		if recordNumber == "" {
			response.BadRequest(c, "Record number is required")
			return
		}

		record, err := h.service.GetRecord(c.Request.Context(), recordNumber)
		response.Handle(c, record, err)
	}
}

// ListRecordsHandler handles GET requests for filtered record listings
func (h *GinHandlers) ListRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := recordFilterFromQuery(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		records, err := h.service.ListRecords(c.Request.Context(), filter)
		response.Handle(c, records, err)
	}
}

// UpdateRecordHandler handles PUT requests to update a record
// URL parameter: record_number
func (h *GinHandlers) UpdateRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var update RecordUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.service.UpdateRecord(c.Request.Context(), c.Param("record_number"), update)
		response.Handle(c, record, err)
	}
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

// ResolveRecordHandler handles POST requests to resolve a record
// URL parameter: record_number
func (h *GinHandlers) ResolveRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.service.ResolveRecord(c.Request.Context(), c.Param("record_number"), req.Notes)
		response.Handle(c, record, err)
	}
}

// StatsHandler handles GET requests for reconciliation statistics
func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter *types.RecordFilter
		if len(c.Request.URL.Query()) > 0 {
			parsed, err := recordFilterFromQuery(c)
			if err != nil {
				response.BadRequest(c, err.Error())
				return
			}
			filter = &parsed
		}

		stats, err := h.service.Stats(c.Request.Context(), filter)
		response.Handle(c, stats, err)
	}
}

// AutoReconcileHandler handles POST requests to run a full
// auto-reconciliation pass
func (h *GinHandlers) AutoReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.engine.AutoReconcile(c.Request.Context(), c.GetString("clientID"))
		response.Handle(c, result, err)
	}
}

// BulkMatchHandler handles POST requests to match a filtered selection
// of unmatched records
func (h *GinHandlers) BulkMatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter types.RecordFilter
		if err := c.ShouldBindJSON(&filter); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.engine.BulkMatch(c.Request.Context(), filter, c.GetString("clientID"))
		response.Handle(c, result, err)
	}
}

// CreateExceptionRequest is the payload for raising an exception.
type CreateExceptionRequest struct {
	RecordNumber  string `json:"record_number" binding:"required"`
	ExceptionType string `json:"exception_type" binding:"required"`
	Severity      string `json:"severity" binding:"required"`
}

// CreateExceptionHandler handles POST requests to raise an exception
// against a record
func (h *GinHandlers) CreateExceptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateExceptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		exception := &Exception{
			RecordNumber:  req.RecordNumber,
			ExceptionType: req.ExceptionType,
			Severity:      req.Severity,
			CreatedBy:     c.GetString("clientID"),
		}

		err := h.service.CreateException(c.Request.Context(), exception)
		response.Handle(c, exception, err)
	}
}

// ListExceptionsHandler handles GET requests for filtered exception listings
func (h *GinHandlers) ListExceptionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := types.ExceptionFilter{
			Severity:         c.Query("severity"),
			ResolutionStatus: c.Query("resolution_status"),
			ExceptionType:    c.Query("exception_type"),
		}
		filter.Limit, filter.Offset = pagination(c)

		exceptions, err := h.service.ListExceptions(c.Request.Context(), filter)
		response.Handle(c, exceptions, err)
	}
}

// ResolveExceptionHandler handles PUT requests to resolve an exception
// URL parameter: exception_id
func (h *GinHandlers) ResolveExceptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		exception, err := h.service.ResolveException(c.Request.Context(), c.Param("exception_id"), req.Notes)
		response.Handle(c, exception, err)
	}
}

// ListRulesHandler handles GET requests for the active matching rules
func (h *GinHandlers) ListRulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := h.service.ActiveRules(c.Request.Context())
		response.Handle(c, rules, err)
	}
}

// CacheStatsHandler handles GET requests for cache hit/miss counters
func (h *GinHandlers) CacheStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.cache.Stats())
	}
}

func recordFilterFromQuery(c *gin.Context) (types.RecordFilter, error) {
	filter := types.RecordFilter{
		Status:   c.Query("status"),
		Type:     c.Query("type"),
		Currency: c.Query("currency"),
	}
	filter.Limit, filter.Offset = pagination(c)

	if from := c.Query("date_from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, err
		}
		filter.DateFrom = &t
	}
	if to := c.Query("date_to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, err
		}
		filter.DateTo = &t
	}
	if min := c.Query("amount_min"); min != "" {
		v, err := strconv.ParseFloat(min, 64)
		if err != nil {
			return filter, err
		}
		filter.AmountMin = &v
	}
	if max := c.Query("amount_max"); max != "" {
		v, err := strconv.ParseFloat(max, 64)
		if err != nil {
			return filter, err
		}
		filter.AmountMax = &v
	}

	return filter, nil
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
