// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
	"github.com/dmitrymomot/ches/internal/transformer"
)

// ClientHeader carries the caller's client identifier.
const ClientHeader = "X-Client-ID"

// Orchestrator is the service behind the routes. *ches.Service satisfies it.
type Orchestrator interface {
	SendEmail(ctx context.Context, client string, email *model.Email, devMode bool) (model.Transaction, error)
	SendEmailMerge(ctx context.Context, client string, tpl *model.Template, devMode bool) (model.Transaction, error)
	PreviewMerge(tpl *model.Template) ([]model.Email, error)
	CancelMessage(ctx context.Context, client string, messageID uuid.UUID) error
	GetStatus(ctx context.Context, client string, messageID uuid.UUID, includeHistory bool) (model.Message, error)
	FindStatuses(ctx context.Context, filter model.MessageFilter) ([]model.Message, error)
}

// Handler serves the /api/v1 routes.
type Handler struct {
	svc          Orchestrator
	log          *slog.Logger
	maxBodyBytes int64
}

// NewHandler creates a Handler. maxBodyBytes <= 0 means 10 MiB.
func NewHandler(svc Orchestrator, log *slog.Logger, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &Handler{svc: svc, log: log, maxBodyBytes: maxBodyBytes}
}

// Routes returns the versioned API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/email", h.sendEmail)
	r.Post("/emailMerge", h.sendEmailMerge)
	r.Post("/emailMerge/preview", h.previewMerge)
	r.Get("/status", h.findStatuses)
	r.Get("/status/{msgId}", h.getStatus)
	r.Post("/cancel/{msgId}", h.cancelMessage)
	return r
}

func (h *Handler) sendEmail(w http.ResponseWriter, r *http.Request) {
	var email model.Email
	if err := h.decode(w, r, &email); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateEmail(&email); err != nil {
		h.fail(w, r, err)
		return
	}

	trx, err := h.svc.SendEmail(r.Context(), client(r), &email, flag(r, "devMode"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transformer.ToTransactionResponse(trx))
}

func (h *Handler) sendEmailMerge(w http.ResponseWriter, r *http.Request) {
	var tpl model.Template
	if err := h.decode(w, r, &tpl); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateTemplate(&tpl); err != nil {
		h.fail(w, r, err)
		return
	}

	trx, err := h.svc.SendEmailMerge(r.Context(), client(r), &tpl, flag(r, "devMode"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transformer.ToTransactionResponse(trx))
}

func (h *Handler) previewMerge(w http.ResponseWriter, r *http.Request) {
	var tpl model.Template
	if err := h.decode(w, r, &tpl); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validateTemplate(&tpl); err != nil {
		h.fail(w, r, err)
		return
	}

	emails, err := h.svc.PreviewMerge(&tpl)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emails)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msg, err := h.svc.GetStatus(r.Context(), client(r), id, flag(r, "includeHistory"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transformer.ToStatusResponse(msg))
}

func (h *Handler) findStatuses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.MessageFilter{
		Client: client(r),
		Status: q.Get("status"),
		Tag:    q.Get("tag"),
	}
	var err error
	if filter.TransactionID, err = optionalID(q.Get("txId"), "txId"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.MessageID, err = optionalID(q.Get("msgId"), "msgId"); err != nil {
		h.fail(w, r, err)
		return
	}
	msgs, err := h.svc.FindStatuses(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transformer.ToStatusResponses(msgs))
}

func (h *Handler) cancelMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.CancelMessage(r.Context(), client(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return problem.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return problem.Validation("malformed JSON body: %v", err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if problem.StatusOf(err) >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	problem.Write(w, err)
}

func client(r *http.Request) string {
	return r.Header.Get(ClientHeader)
}

func flag(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "msgId"))
	if err != nil {
		return uuid.Nil, problem.Validation("msgId must be a UUID").WithField("msgId", "must be a UUID")
	}
	return id, nil
}

func optionalID(v, field string) (uuid.UUID, error) {
	if v == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, problem.Validation("%s must be a UUID", field).WithField(field, "must be a UUID")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RequestIDExtractor adds chi's request id to log records.
// Compatible with logger.ContextExtractor.
func RequestIDExtractor(ctx context.Context) (slog.Attr, bool) {
	id := middleware.GetReqID(ctx)
	if id == "" {
		return slog.Attr{}, false
	}
	return slog.String("request_id", id), true
}
