package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vantagepay/fraudlens/internal/feedback"
	"github.com/vantagepay/fraudlens/internal/pagination"
	"github.com/vantagepay/fraudlens/internal/scoring"
	"github.com/vantagepay/fraudlens/internal/validation"
)

const defaultHistoryLimit = 50

// getPendingReviews handles GET /v1/reviews/pending
func (s *Server) getPendingReviews(c *gin.Context) {
	queries := s.learner.PendingReviews()
	c.JSON(http.StatusOK, gin.H{
		"pending": queries,
		"count":   len(queries),
	})
}

// getPerformance handles GET /v1/performance
func (s *Server) getPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, s.learner.Performance())
}

// getReviewerWorkload handles GET /v1/reviewers/workload
func (s *Server) getReviewerWorkload(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workload": s.learner.ReviewerWorkload()})
}

// getUpdateQueue handles GET /v1/updates/queue
func (s *Server) getUpdateQueue(c *gin.Context) {
	c.JSON(http.StatusOK, s.learner.QueueStatus())
}

// getFeedbackHistory handles GET /v1/feedback?limit=N
func (s *Server) getFeedbackHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	records := s.learner.History(limit)
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// getFeedbackReport handles GET /v1/feedback/report?from=&to= (RFC3339;
// defaults to the trailing 24 hours).
func (s *Server) getFeedbackReport(c *gin.Context) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_from",
				"message": "from must be RFC3339",
			})
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_to",
				"message": "to must be RFC3339",
			})
			return
		}
		to = t
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_range",
			"message": "to must not precede from",
		})
		return
	}

	c.JSON(http.StatusOK, s.learner.GenerateReport(from, to))
}

type feedbackRequest struct {
	TransactionID string  `json:"transactionId" binding:"required"`
	Label         string  `json:"actualLabel" binding:"required"`
	Confidence    float64 `json:"confidence"`
	ReviewerID    string  `json:"reviewerId" binding:"required"`
	EvidenceType  string  `json:"evidenceType"`
	Notes         string  `json:"notes"`
}

// validate runs field checks the JSON binding cannot express.
func (r *feedbackRequest) validate() validation.ValidationErrors {
	errs := validation.Validate(
		validation.Required("reviewerId", r.ReviewerID),
		validation.MaxLength("reviewerId", r.ReviewerID, 64),
		validation.MaxLength("notes", r.Notes, validation.MaxStringLength),
		validation.InRange("confidence", r.Confidence),
		validation.OneOf("actualLabel", r.Label,
			string(feedback.LabelFraud), string(feedback.LabelLegitimate), string(feedback.LabelUnknown)),
		validation.OneOf("evidenceType", r.EvidenceType,
			string(feedback.EvidenceBankConfirmation), string(feedback.EvidenceCustomerReport),
			string(feedback.EvidenceChargeback), string(feedback.EvidenceManualReview)),
	)
	if !validation.IsValidTransactionID(r.TransactionID) {
		errs = append(errs, validation.ValidationError{
			Field:   "transactionId",
			Message: "must be 1-64 characters of [a-zA-Z0-9_-]",
		})
	}
	return errs
}

func (r *feedbackRequest) toRecord() *feedback.Record {
	return &feedback.Record{
		TransactionID: r.TransactionID,
		Label:         feedback.Label(r.Label),
		Confidence:    r.Confidence,
		ReviewerID:    r.ReviewerID,
		EvidenceType:  feedback.EvidenceType(r.EvidenceType),
		Notes:         validation.SanitizeString(r.Notes, validation.MaxStringLength),
	}
}

// submitFeedback handles POST /v1/feedback
func (s *Server) submitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "transactionId, actualLabel and reviewerId required",
		})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_feedback",
			"message": errs.Error(),
			"fields":  errs,
		})
		return
	}

	if err := s.learner.SubmitFeedback(c.Request.Context(), req.toRecord()); err != nil {
		if errors.Is(err, feedback.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_feedback",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to store feedback",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "accepted", "transactionId": req.TransactionID})
}

// submitBatchFeedback handles POST /v1/feedback/batch
func (s *Server) submitBatchFeedback(c *gin.Context) {
	var req struct {
		Records []feedbackRequest `json:"records" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "non-empty records array required",
		})
		return
	}

	records := make([]*feedback.Record, 0, len(req.Records))
	for i := range req.Records {
		if errs := req.Records[i].validate(); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_feedback",
				"message": fmt.Sprintf("record %d: %s", i, errs.Error()),
				"fields":  errs,
			})
			return
		}
		records = append(records, req.Records[i].toRecord())
	}

	if err := s.learner.SubmitBatchFeedback(c.Request.Context(), records); err != nil {
		if errors.Is(err, feedback.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_feedback",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to store feedback batch",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "accepted", "count": len(records)})
}

// getRecentVerdicts handles GET /v1/verdicts/recent?limit=N&cursor=...
func (s *Server) getRecentVerdicts(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var opts []scoring.ListOption
	if cursor := c.Query("cursor"); cursor != "" {
		opts = append(opts, scoring.WithCursor(cursor))
	}

	// Fetch one extra row to detect whether another page exists.
	verdicts, err := s.verdicts.ListRecent(c.Request.Context(), limit+1, opts...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list verdicts",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(verdicts, limit,
		func(v *scoring.FraudVerdict) (time.Time, string) {
			return v.EvaluatedAt, v.TransactionID
		})

	resp := gin.H{
		"verdicts": page,
		"count":    len(page),
		"has_more": hasMore,
	}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
