package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
	"github.com/pesio-ai/be-ledger-approvals/internal/service"
)

// UserIDHeader carries the caller's identity. It is recorded, not verified.
const UserIDHeader = "X-User-ID"

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	accounts      *service.AccountService
	transactions  *service.TransactionService
	approvals     *service.ApprovalService
	notifications *service.NotificationDispatcher
	log           *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	accounts *service.AccountService,
	transactions *service.TransactionService,
	approvals *service.ApprovalService,
	notifications *service.NotificationDispatcher,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		accounts:      accounts,
		transactions:  transactions,
		approvals:     approvals,
		notifications: notifications,
		log:           log,
	}
}

// Register mounts every route under /api/v1.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListAccounts(w, r)
		case http.MethodPost:
			h.SubmitAccountCreation(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/v1/accounts/get", h.GetAccount)
	mux.HandleFunc("/api/v1/accounts/exists", h.AccountExists)
	mux.HandleFunc("/api/v1/accounts/update", h.SubmitAccountUpdate)
	mux.HandleFunc("/api/v1/accounts/delete", h.DeleteAccount)

	mux.HandleFunc("/api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListTransactions(w, r)
		case http.MethodPost:
			h.SubmitTransaction(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/v1/transactions/get", h.GetTransaction)

	mux.HandleFunc("/api/v1/approvals", h.ListApprovals)
	mux.HandleFunc("/api/v1/approvals/get", h.GetApproval)
	mux.HandleFunc("/api/v1/approvals/details", h.GetApprovalDetails)
	mux.HandleFunc("/api/v1/approvals/decide", h.DecideApproval)

	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListNotifications(w, r)
		case http.MethodDelete:
			h.ClearNotifications(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/v1/notifications/get", h.GetNotification)
	mux.HandleFunc("/api/v1/notifications/read", h.MarkNotification)
	mux.HandleFunc("/api/v1/notifications/sweep", h.SweepNotifications)
}

// ── accounts ─────────────────────────────────────────────────────────────────

type createAccountRequest struct {
	service.AccountCreationPayload
	ReviewerID string `json:"reviewer_id"`
}

// SubmitAccountCreation handles account opening requests
func (h *HTTPHandler) SubmitAccountCreation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req createAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.approvals.SubmitAccountCreation(r.Context(), &service.SubmitAccountCreationRequest{
		Payload:     req.AccountCreationPayload,
		ReviewerID:  req.ReviewerID,
		SubmittedBy: callerID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type updateAccountRequest struct {
	AccountID  string `json:"account_id"`
	ReviewerID string `json:"reviewer_id"`
	service.AccountUpdatePayload
}

// SubmitAccountUpdate handles account change requests
func (h *HTTPHandler) SubmitAccountUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req updateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		h.writeError(w, r, errors.InvalidInput("account_id", "account id is required"))
		return
	}

	approval, err := h.approvals.SubmitAccountUpdate(r.Context(), &service.SubmitAccountUpdateRequest{
		AccountID:   req.AccountID,
		Payload:     req.AccountUpdatePayload,
		ReviewerID:  req.ReviewerID,
		SubmittedBy: callerID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, approval)
}

// GetAccount handles get account HTTP requests
func (h *HTTPHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id, ok := h.requiredQuery(w, r, "id")
	if !ok {
		return
	}

	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// DeleteAccount removes an account with no pending approval and no transactions
func (h *HTTPHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}

	id, ok := h.requiredQuery(w, r, "id")
	if !ok {
		return
	}

	if err := h.accounts.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info().Str("caller", callerID(r)).Str("account_id", id).Msg("Account deleted")
	w.WriteHeader(http.StatusNoContent)
}

// AccountExists reports whether an account id or customer id is taken.
func (h *HTTPHandler) AccountExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	var (
		exists bool
		err    error
	)
	q := r.URL.Query()
	switch {
	case q.Get("id") != "":
		exists, err = h.accounts.Exists(r.Context(), q.Get("id"))
	case q.Get("customer_id") != "":
		exists, err = h.accounts.CustomerIDExists(r.Context(), q.Get("customer_id"))
	default:
		err = errors.InvalidInput("id", "id or customer_id is required")
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// ListAccounts handles list accounts HTTP requests
func (h *HTTPHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	f := repository.AccountFilter{Page: pageOf(r)}
	if status := r.URL.Query().Get("status"); status != "" {
		s := repository.AccountStatus(status)
		f.Status = &s
	}

	accounts, total, err := h.accounts.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeList(w, "accounts", accounts, total, f.Page)
}

// ── transactions ─────────────────────────────────────────────────────────────

// SubmitTransaction handles new transaction requests
func (h *HTTPHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req service.SubmitTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.SubmittedBy = callerID(r)

	result, err := h.transactions.Submit(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Outcome == service.GateRequiresApproval {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// GetTransaction handles get transaction HTTP requests
func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id, ok := h.requiredQuery(w, r, "id")
	if !ok {
		return
	}

	txn, err := h.transactions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

// ListTransactions handles list transactions HTTP requests
func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.TransactionFilter{
		AccountID: optional(q.Get("account_id")),
		Flag:      optional(q.Get("flag")),
		Page:      pageOf(r),
	}
	if v := q.Get("type"); v != "" {
		t := repository.TransactionType(v)
		f.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := repository.TransactionStatus(v)
		f.Status = &s
	}

	txns, total, err := h.transactions.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeList(w, "transactions", txns, total, f.Page)
}

// ── approvals ────────────────────────────────────────────────────────────────

// ListApprovals handles list approvals HTTP requests
func (h *HTTPHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	f := repository.ApprovalFilter{
		ReviewerID: optional(q.Get("reviewer_id")),
		Page:       pageOf(r),
	}
	if v := q.Get("decision"); v != "" {
		d := repository.Decision(v)
		f.Decision = &d
	}
	if v := q.Get("type"); v != "" {
		t := repository.ApprovalType(v)
		f.Type = &t
	}

	approvals, total, err := h.approvals.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeList(w, "approvals", approvals, total, f.Page)
}

// GetApproval handles get approval HTTP requests
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id, ok := h.requiredQuery(w, r, "id")
	if !ok {
		return
	}

	approval, err := h.approvals.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, approval)
}

// GetApprovalDetails returns the approval with its pending change and audit trail
func (h *HTTPHandler) GetApprovalDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id, ok := h.requiredQuery(w, r, "id")
	if !ok {
		return
	}

	details, err := h.approvals.Details(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

type decideRequest struct {
	ApprovalID string              `json:"approval_id"`
	Decision   repository.Decision `json:"decision"`
	Comments   string              `json:"comments"`
}

// DecideApproval handles approve/reject HTTP requests
func (h *HTTPHandler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req decideRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ApprovalID == "" {
		h.writeError(w, r, errors.InvalidInput("approval_id", "approval id is required"))
		return
	}

	approval, err := h.approvals.Decide(r.Context(), &service.DecideRequest{
		ApprovalID: req.ApprovalID,
		Decision:   req.Decision,
		Comments:   req.Comments,
		DecidedBy:  callerID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, approval)
}

// ── notifications ────────────────────────────────────────────────────────────

// ListNotifications handles list notifications HTTP requests
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.NotificationFilter{
		UserID: optional(q.Get("user_id")),
		Page:   pageOf(r),
	}
	if v := q.Get("type"); v != "" {
		t := repository.NotificationType(v)
		f.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := repository.NotificationStatus(v)
		f.Status = &s
	}

	notes, total, err := h.notifications.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeList(w, "notifications", notes, total, f.Page)
}

// GetNotification handles get notification HTTP requests
func (h *HTTPHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id, ok := h.requiredQuery(w, r, "id")
	if !ok {
		return
	}

	n, err := h.notifications.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, n)
}

type markRequest struct {
	ID     string                        `json:"id"`
	Status repository.NotificationStatus `json:"status"`
}

// MarkNotification sets a notification's read status
func (h *HTTPHandler) MarkNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req markRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		req.Status = repository.NotificationStatusRead
	}

	n, err := h.notifications.MarkRead(r.Context(), req.ID, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, n)
}

// ClearNotifications deletes every notification
func (h *HTTPHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	removed, err := h.notifications.ClearAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info().Str("caller", callerID(r)).Int64("removed", removed).Msg("Notifications cleared over HTTP")
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// SweepNotifications removes notifications of resolved approvals and transactions
func (h *HTTPHandler) SweepNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	removed, err := h.notifications.SweepOrphaned(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func callerID(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func pageOf(r *http.Request) repository.Page {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return repository.Page{Number: page, Size: pageSize}.Normalize()
}

func (h *HTTPHandler) requiredQuery(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		h.writeError(w, r, errors.InvalidInput(key, key+" is required"))
		return "", false
	}
	return v, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code"`
	Field string      `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		if code == errors.ErrCodeInternal {
			msg = "internal error"
		}
	}

	writeJSON(w, status, errorResponse{Error: msg, Code: code, Field: errors.FieldOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeList(w http.ResponseWriter, key string, items any, total int64, page repository.Page) {
	writeJSON(w, http.StatusOK, map[string]any{
		key:         items,
		"total":     total,
		"page":      page.Number,
		"page_size": page.Size,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
