package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeventeLantos/wa-ledger/internal/mapper"
	"github.com/LeventeLantos/wa-ledger/internal/model"
	"github.com/LeventeLantos/wa-ledger/internal/repo"
	"github.com/LeventeLantos/wa-ledger/internal/scheduler"
	"github.com/LeventeLantos/wa-ledger/internal/service"
	"github.com/LeventeLantos/wa-ledger/internal/webhook"
)

const maxBodyBytes = 1 << 20

type Options struct {
	Ingestor    *service.Ingestor
	Dispatcher  *service.Dispatcher
	Ledger      repo.LedgerRepository
	Replay      *scheduler.Scheduler // nil unless unmatched patches are buffered
	VerifyToken string
	AppSecret   string
	Logger      *slog.Logger
}

type Handler struct {
	ingest      *service.Ingestor
	dispatcher  *service.Dispatcher
	ledger      repo.LedgerRepository
	replay      *scheduler.Scheduler
	verifyToken string
	signature   webhook.SignatureVerifier
	logger      *slog.Logger
}

func NewHandler(o Options) *Handler {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingest:      o.Ingestor,
		dispatcher:  o.Dispatcher,
		ledger:      o.Ledger,
		replay:      o.Replay,
		verifyToken: o.VerifyToken,
		signature:   webhook.SignatureVerifier{Secret: o.AppSecret},
		logger:      logger,
	}
}

func (h *Handler) log(r *http.Request) *slog.Logger {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// VerifyWebhook answers the platform's subscription handshake.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := webhook.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if !ok {
		h.log(r).Warn("webhook verification refused", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if err := h.signature.Verify(r.Header.Get(webhook.SignatureHeader), body); err != nil {
		log.Warn("webhook signature rejected", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	payload, err := webhook.Decode(body)
	if err != nil {
		log.Warn("webhook body rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	res, err := h.ingest.Process(r.Context(), payload)
	if err != nil {
		log.Error("webhook processing failed", "error", err, "applied", res)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed",
		"inserted", res.Inserted,
		"patched", res.Patched,
		"unmatched", res.Unmatched,
		"rejected", res.Rejected,
	)
	writeJSON(w, http.StatusOK, res)
}

// SendMessage forwards the body to the messaging API and relays its answer.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	req := service.SendRequest{
		BusinessPhoneID: r.URL.Query().Get("businessPhoneId"),
		Authorization:   r.Header.Get("Authorization"),
		Payload:         body,
	}

	res, err := h.dispatcher.Send(r.Context(), req)
	switch {
	case err == nil:
		relay(w, res)
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
	case errors.Is(err, service.ErrUpstream), errors.Is(err, mapper.ErrMissingMessageID):
		log.Error("send message failed", "business_phone_id", req.BusinessPhoneID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "Failed to send message", "details": err.Error()})
	default:
		log.Error("send message failed", "business_phone_id", req.BusinessPhoneID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to send message", "details": err.Error()})
	}
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := model.ListFilter{
		Type:            model.Direction(q.Get("type")),
		Contact:         q.Get("contact"),
		BusinessPhoneID: q.Get("businessPhoneId"),
		Status:          model.Status(q.Get("status")),
		Limit:           parseInt(q.Get("limit"), 50),
		Offset:          parseInt(q.Get("offset"), 0),
	}
	if f.Type != "" && f.Type != model.Received && f.Type != model.Sent {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "type must be received or sent"})
		return
	}

	items, err := h.ledger.List(r.Context(), f)
	if err != nil {
		h.log(r).Error("list messages failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if items == nil {
		items = []model.LedgerRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")

	items, err := h.ledger.FindByMessageID(r.Context(), id)
	if err != nil {
		h.log(r).Error("find message failed", "message_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "no records for message id " + id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ReplayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.replayState())
}

func (h *Handler) ReplayStart(w http.ResponseWriter, r *http.Request) {
	h.replay.Start()
	writeJSON(w, http.StatusOK, h.replayState())
}

func (h *Handler) ReplayStop(w http.ResponseWriter, r *http.Request) {
	h.replay.Stop()
	writeJSON(w, http.StatusOK, h.replayState())
}

// ReplayRun retries the buffered patch backlog once, synchronously.
func (h *Handler) ReplayRun(w http.ResponseWriter, r *http.Request) {
	if err := h.replay.RunNow(r.Context()); err != nil {
		h.log(r).Error("manual replay failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.replayState())
}

func (h *Handler) replayState() map[string]any {
	state := map[string]any{"running": h.replay.IsRunning()}
	if run, ok := h.replay.LastRun(); ok {
		state["lastRun"] = run
	}
	return state
}

// readBody writes the error response itself when it returns false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"message": "request body too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "failed to read request body"})
		return nil, false
	}
	return body, true
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
