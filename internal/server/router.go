package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/atopypass/backend/internal/consent"
	"github.com/atopypass/backend/internal/ledger"
	"github.com/atopypass/backend/internal/memo"
	"github.com/atopypass/backend/internal/records"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

var (
	errMissingRecordsService = errors.New("records service dependency required")
	errMissingConsentService = errors.New("consent service dependency required")
)

// Dependencies lists the collaborators the HTTP layer consumes. The router
// owns no state: every authorization decision is re-derived per request
// from the projection tables.
type Dependencies struct {
	RecordsService *records.Service
	ConsentService *consent.Service
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewHTTPHandler builds the API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.RecordsService == nil {
		return nil, errMissingRecordsService
	}
	if deps.ConsentService == nil {
		return nil, errMissingConsentService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		records: deps.RecordsService,
		consent: deps.ConsentService,
		logger:  logger,
		clock:   clock,
	}

	api := router.Group("/api")
	api.POST("/records/draft", handler.handleDraft)
	api.POST("/records/commit", handler.handleCommit)
	api.POST("/consents/apply", handler.handleConsentApply)
	api.GET("/records", handler.handleOwnerRecords)
	api.GET("/doctor/records", handler.handleDoctorRecords)
	api.GET("/doctor/records/:hash", handler.handleDoctorRecord)

	return router, nil
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

type httpHandler struct {
	records *records.Service
	consent *consent.Service
	logger  *zap.Logger
	clock   func() time.Time
}

type draftRequestPayload struct {
	OwnerAddress string `json:"owner_address"`
	RawText      string `json:"raw_text"`
}

type draftResponsePayload struct {
	RecordHash string                  `json:"record_hash"`
	Record     records.CanonicalRecord `json:"record"`
	AI         any                     `json:"ai"`
}

func (h *httpHandler) handleDraft(c *gin.Context) {
	var request draftRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.RawText == "" || request.OwnerAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	owner, err := memo.NewAddress(request.OwnerAddress)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner_address"})
		return
	}

	result, err := h.records.Draft(c.Request.Context(), owner, request.RawText)
	if err != nil {
		h.logger.Error("draft failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "draft_failed"})
		return
	}

	var structured any
	if result.Structured != nil {
		structured = result.Structured
	}
	c.JSON(http.StatusOK, draftResponsePayload{
		RecordHash: result.Hash.String(),
		Record:     result.Record,
		AI:         structured,
	})
}

type commitRequestPayload struct {
	RecordHash   string `json:"record_hash"`
	OwnerAddress string `json:"owner_address"`
	TxSig        string `json:"tx_sig"`
}

func (h *httpHandler) handleCommit(c *gin.Context) {
	var request commitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.TxSig == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	owner, err := memo.NewAddress(request.OwnerAddress)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner_address"})
		return
	}
	hash, err := memo.NewHash(request.RecordHash)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_hash"})
		return
	}

	err = h.records.Commit(c.Request.Context(), owner, hash, request.TxSig)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, ledger.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found"})
	case errors.Is(err, records.ErrSignerMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "signer_mismatch"})
	case errors.Is(err, records.ErrMalformedMemo):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_memo"})
	case errors.Is(err, records.ErrHashMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "hash_mismatch"})
	case errors.Is(err, records.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record_not_found"})
	default:
		h.logger.Error("commit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "commit_failed"})
	}
}

type consentApplyRequestPayload struct {
	OwnerAddress string `json:"owner_address"`
	TxSig        string `json:"tx_sig"`
}

type consentApplyResponsePayload struct {
	OK            bool   `json:"ok"`
	Action        string `json:"action"`
	RecordHash    string `json:"record_hash"`
	DoctorAddress string `json:"doctor_address"`
	ExpiryUnix    *int64 `json:"expiry_unix,omitempty"`
}

func (h *httpHandler) handleConsentApply(c *gin.Context) {
	var request consentApplyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.TxSig == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	owner, err := memo.NewAddress(request.OwnerAddress)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner_address"})
		return
	}

	outcome, err := h.consent.Apply(c.Request.Context(), owner, request.TxSig)
	switch {
	case err == nil:
		response := consentApplyResponsePayload{
			OK:            true,
			Action:        string(outcome.Action),
			RecordHash:    outcome.RecordHash.String(),
			DoctorAddress: outcome.Doctor.String(),
		}
		if outcome.Action == memo.ActionGrant {
			expiry := outcome.ExpiryUnix
			response.ExpiryUnix = &expiry
		}
		c.JSON(http.StatusOK, response)
	case errors.Is(err, ledger.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found"})
	case errors.Is(err, consent.ErrSignerMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "signer_mismatch"})
	case errors.Is(err, consent.ErrMalformedMemo):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_memo"})
	case errors.Is(err, consent.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record_not_found"})
	default:
		h.logger.Error("consent apply failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "consent_apply_failed"})
	}
}

type ownerConsentPayload struct {
	DoctorAddress string `json:"doctor_address"`
	ExpiryUnix    int64  `json:"expiry_unix"`
	Revoked       bool   `json:"revoked"`
}

type ownerRecordPayload struct {
	RecordHash  string                `json:"record_hash"`
	CreatedAt   string                `json:"created_at"`
	RawText     string                `json:"raw_text"`
	AI          json.RawMessage       `json:"ai"`
	Status      string                `json:"status"`
	CommitTxSig *string               `json:"commit_tx_sig"`
	Consents    []ownerConsentPayload `json:"consents"`
}

func (h *httpHandler) handleOwnerRecords(c *gin.Context) {
	owner, err := memo.NewAddress(c.Query("owner"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner_address"})
		return
	}

	entries, err := h.records.ListForOwner(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("owner records query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	response := make([]ownerRecordPayload, 0, len(entries))
	for _, entry := range entries {
		hash, err := memo.NewHash(entry.RecordHash)
		if err != nil {
			h.logger.Error("stored record hash invalid",
				zap.String("record_hash", entry.RecordHash), zap.Error(err))
			continue
		}
		rows, err := h.consent.ListForRecord(c.Request.Context(), hash, owner)
		if err != nil {
			h.logger.Error("record consents query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
			return
		}
		consents := make([]ownerConsentPayload, 0, len(rows))
		for _, row := range rows {
			consents = append(consents, ownerConsentPayload{
				DoctorAddress: row.DoctorAddress,
				ExpiryUnix:    row.ExpiryUnix,
				Revoked:       row.Revoked,
			})
		}
		response = append(response, ownerRecordPayload{
			RecordHash:  entry.RecordHash,
			CreatedAt:   entry.CreatedAt,
			RawText:     entry.RawText,
			AI:          aiPayload(entry.AIJSON),
			Status:      entry.Status,
			CommitTxSig: entry.CommitTxSig,
			Consents:    consents,
		})
	}

	c.JSON(http.StatusOK, gin.H{"records": response})
}

type doctorRecordSummaryPayload struct {
	RecordHash   string `json:"record_hash"`
	OwnerAddress string `json:"owner_address"`
	CreatedAt    string `json:"created_at"`
	AISummary    string `json:"ai_summary,omitempty"`
}

func (h *httpHandler) handleDoctorRecords(c *gin.Context) {
	doctor, err := memo.NewAddress(c.Query("doctor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_doctor_address"})
		return
	}

	granted, err := h.consent.ListGrantedRecords(c.Request.Context(), doctor, h.clock())
	if err != nil {
		h.logger.Error("doctor records query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	response := make([]doctorRecordSummaryPayload, 0, len(granted))
	for _, record := range granted {
		response = append(response, doctorRecordSummaryPayload{
			RecordHash:   record.RecordHash,
			OwnerAddress: record.OwnerAddress,
			CreatedAt:    record.CreatedAt,
			AISummary:    extractSummary(record.AIJSON),
		})
	}

	c.JSON(http.StatusOK, gin.H{"records": response})
}

type doctorRecordPayload struct {
	RecordHash   string          `json:"record_hash"`
	OwnerAddress string          `json:"owner_address"`
	CreatedAt    string          `json:"created_at"`
	RawText      string          `json:"raw_text"`
	AI           json.RawMessage `json:"ai"`
	Status       string          `json:"status"`
}

func (h *httpHandler) handleDoctorRecord(c *gin.Context) {
	hash, err := memo.NewHash(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_hash"})
		return
	}
	doctor, err := memo.NewAddress(c.Query("doctor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_doctor_address"})
		return
	}

	// Re-derived per request; expiry and revocation are time-sensitive.
	allowed, err := h.consent.Authorize(c.Request.Context(), hash, doctor, h.clock())
	if err != nil {
		h.logger.Error("authorization query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
		return
	}

	entry, err := h.records.GetCommitted(c.Request.Context(), hash)
	if errors.Is(err, records.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("record query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": doctorRecordPayload{
		RecordHash:   entry.RecordHash,
		OwnerAddress: entry.OwnerAddress,
		CreatedAt:    entry.CreatedAt,
		RawText:      entry.RawText,
		AI:           aiPayload(entry.AIJSON),
		Status:       entry.Status,
	}})
}

func aiPayload(raw *string) json.RawMessage {
	if raw == nil {
		return nil
	}
	return json.RawMessage(*raw)
}

// extractSummary pulls the summary field out of stored structuring output.
// Unparsable stored JSON yields an empty summary, not an error.
func extractSummary(raw *string) string {
	if raw == nil {
		return ""
	}
	var note struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(*raw), &note); err != nil {
		return ""
	}
	return note.Summary
}
