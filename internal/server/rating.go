package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quentel/ratecore/internal/pipeline"
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type rateRecordRequest struct {
	Account    string             `json:"account" binding:"required"`
	EventStart time.Time          `json:"event_start" binding:"required"`
	EventEnd   time.Time          `json:"event_end" binding:"required"`
	Metrics    map[string]float64 `json:"metrics"`
	PriceGroup string             `json:"price_group" binding:"required"`
	TimeModel  string             `json:"time_model"`
	Splitting  string             `json:"splitting"`
	Attributes map[string]any     `json:"attributes"`
}

type rateBatchRequest struct {
	Records []rateRecordRequest `json:"records" binding:"required,min=1"`
}

type recordErrorResponse struct {
	Kind   string `json:"kind"`
	Module string `json:"module"`
	Detail string `json:"detail"`
}

type impactResponse struct {
	Type         string  `json:"type"`
	BalanceGroup int64   `json:"balance_group"`
	CounterID    int64   `json:"counter_id"`
	Delta        float64 `json:"delta"`
	After        float64 `json:"balance_after"`
	RuleName     string  `json:"rule_name"`
}

type ratedRecordResponse struct {
	ID           string                `json:"id"`
	ChargedValue float64               `json:"charged_value"`
	Metrics      map[string]float64    `json:"metrics"`
	Errors       []recordErrorResponse `json:"errors,omitempty"`
	Impacts      []impactResponse      `json:"impacts,omitempty"`
}

func (s *Server) buildRecords(reqs []rateRecordRequest) []*recorddomain.RatingRecord {
	records := make([]*recorddomain.RatingRecord, 0, len(reqs))
	for _, req := range reqs {
		rec := recorddomain.NewRatingRecord(s.genID.Generate(), req.Account, req.EventStart, req.EventEnd)
		for name, value := range req.Metrics {
			rec.SetMetricValue(name, value)
		}
		if len(req.Attributes) > 0 {
			rec.Attributes = make(datatypes.JSONMap, len(req.Attributes))
			for key, value := range req.Attributes {
				rec.Attributes[key] = value
			}
		}
		rec.ChargePackets = []*recorddomain.ChargePacket{{
			Valid:     true,
			Splitting: parseSplitting(req.Splitting),
			TimePackets: []recorddomain.TimePacket{{
				TimeModel:  req.TimeModel,
				PriceGroup: req.PriceGroup,
			}},
		}}
		records = append(records, rec)
	}
	return records
}

func parseSplitting(raw string) recorddomain.SplittingMode {
	switch recorddomain.SplittingMode(raw) {
	case recorddomain.SplitCheck:
		return recorddomain.SplitCheck
	case recorddomain.SplitHoliday:
		return recorddomain.SplitHoliday
	default:
		return recorddomain.SplitNone
	}
}

// rate runs a batch synchronously under a fresh transaction and returns the
// rated records.
func (s *Server) rate(c *gin.Context) {
	var req rateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txID := s.genID.Generate().Int64()
	records := s.buildRecords(req.Records)

	if err := s.driver.RateBatch(c.Request.Context(), txID, records); err != nil {
		s.arena.Rollback(txID)
		s.arena.Close(txID)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := s.arena.Commit(c.Request.Context(), txID); err != nil {
		s.arena.Rollback(txID)
		s.arena.Close(txID)
		s.log.Error("commit failed", zap.Int64("tx_id", txID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "commit failed"})
		return
	}
	s.arena.Close(txID)

	results := make([]ratedRecordResponse, 0, len(records))
	for _, rec := range records {
		results = append(results, ratedResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": strconv.FormatInt(txID, 10),
		"records":        results,
	})
}

// submitBatch queues a batch for asynchronous rating.
func (s *Server) submitBatch(c *gin.Context) {
	var req rateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txID := s.genID.Generate().Int64()
	batch := pipeline.Batch{TxID: txID, Records: s.buildRecords(req.Records)}

	if err := s.pipeline.Submit(c.Request.Context(), batch); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"transaction_id": strconv.FormatInt(txID, 10)})
}

type authorizeRequest struct {
	PriceModel string     `json:"price_model" binding:"required"`
	Mode       string     `json:"mode" binding:"required"`
	Balance    float64    `json:"balance"`
	At         *time.Time `json:"at"`
}

// authorize answers how much usage the given balance can buy.
func (s *Server) authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	at := time.Now()
	if req.At != nil {
		at = *req.At
	}

	quantity, err := s.driver.Authorize(c.Request.Context(), req.PriceModel, ratemapdomain.Mode(req.Mode), req.Balance, at)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quantity": quantity})
}

// counterBalance reads the committed balance of one counter.
func (s *Server) counterBalance(c *gin.Context) {
	group, err := strconv.ParseInt(c.Param("group"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid balance group"})
		return
	}
	counterID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counter id"})
		return
	}

	balance, ok := s.arena.SharedBalance(group, counterID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "counter not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_group":   group,
		"counter_id":      counterID,
		"current_balance": balance,
	})
}

func ratedResponse(rec *recorddomain.RatingRecord) ratedRecordResponse {
	resp := ratedRecordResponse{
		ID:           rec.ID.String(),
		ChargedValue: rec.ChargedValue(),
		Metrics:      rec.Metrics,
	}
	for _, recErr := range rec.Errors {
		resp.Errors = append(resp.Errors, recordErrorResponse{
			Kind:   string(recErr.Kind),
			Module: recErr.Module,
			Detail: recErr.Detail,
		})
	}
	for _, impact := range rec.Impacts {
		resp.Impacts = append(resp.Impacts, impactResponse{
			Type:         string(impact.Type),
			BalanceGroup: impact.BalanceGroup,
			CounterID:    impact.CounterID,
			Delta:        impact.Delta,
			After:        impact.BalanceAfter,
			RuleName:     impact.RuleName,
		})
	}
	return resp
}
