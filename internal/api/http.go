package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/logging"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
	"github.com/bountyforge/bountyforge-ledger/internal/service"
)

type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

func NewHandler(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /v1/attestations", h.handleAttest)
	mux.HandleFunc("GET /v1/attestations/{task_id}", h.handleGetAttestation)
	mux.HandleFunc("POST /v1/bounties/{bounty_id}/submit", h.handleSubmit)
	mux.HandleFunc("POST /v1/bounties/{bounty_id}/settle", h.handleSettle)
	mux.HandleFunc("GET /v1/bounties/{bounty_id}", h.handleGetBounty)
	mux.HandleFunc("GET /v1/reputation/{agent}", h.handleGetReputation)
	mux.HandleFunc("GET /v1/token-accounts/{address}", h.handleGetTokenAccount)
	mux.HandleFunc("GET /v1/events/{index}", h.handleGetEvent)
	mux.HandleFunc("GET /v1/events/{index}/proof", h.handleProveEvent)
	mux.HandleFunc("GET /v1/journal/head", h.handleJournalHead)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	logging.AddField(r.Context(), "latest_event_index", resp.LatestIndex)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req protocol.AttestRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	req.Caller, _ = CallerFrom(r.Context())
	logging.AddField(r.Context(), "op", "attest")
	logging.AddField(r.Context(), "task_id", req.TaskID)
	resp, err := h.service.Attest(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "agent", resp.Attestation.Agent.String())
	logging.AddField(r.Context(), "event_index", resp.Ack.EventIndex)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	bountyID, ok := h.pathUint(w, r, "bounty_id")
	if !ok {
		return
	}
	var req protocol.SubmitRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	req.BountyID = bountyID
	req.Caller, _ = CallerFrom(r.Context())
	logging.AddField(r.Context(), "op", "submit")
	logging.AddField(r.Context(), "bounty_id", bountyID)
	logging.AddField(r.Context(), "task_id", req.AttestationTaskID)
	resp, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "agent", req.Caller.String())
	logging.AddField(r.Context(), "event_index", resp.Ack.EventIndex)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	bountyID, ok := h.pathUint(w, r, "bounty_id")
	if !ok {
		return
	}
	var req protocol.SettleRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	req.BountyID = bountyID
	req.Caller, _ = CallerFrom(r.Context())
	logging.AddField(r.Context(), "op", "settle")
	logging.AddField(r.Context(), "bounty_id", bountyID)
	resp, err := h.service.Settle(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "agent", resp.Reputation.Agent.String())
	logging.AddField(r.Context(), "transfer_id", resp.TransferID)
	logging.AddField(r.Context(), "event_index", resp.Ack.EventIndex)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetBounty(w http.ResponseWriter, r *http.Request) {
	bountyID, ok := h.pathUint(w, r, "bounty_id")
	if !ok {
		return
	}
	logging.AddField(r.Context(), "op", "get_bounty")
	logging.AddField(r.Context(), "bounty_id", bountyID)
	resp, err := h.service.GetBounty(r.Context(), bountyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathUint(w, r, "task_id")
	if !ok {
		return
	}
	logging.AddField(r.Context(), "op", "get_attestation")
	logging.AddField(r.Context(), "task_id", taskID)
	resp, err := h.service.GetAttestation(r.Context(), taskID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.pathAddress(w, r, "agent")
	if !ok {
		return
	}
	logging.AddField(r.Context(), "op", "get_reputation")
	logging.AddField(r.Context(), "agent", agent.String())
	resp, err := h.service.GetReputation(r.Context(), agent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetTokenAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathAddress(w, r, "address")
	if !ok {
		return
	}
	logging.AddField(r.Context(), "op", "get_token_account")
	resp, err := h.service.GetTokenAccount(r.Context(), addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(r.PathValue("index"), 10, 64)
	if err != nil || index < 1 {
		h.writeError(w, r, service.BadRequest("index must be a positive integer", err))
		return
	}
	logging.AddField(r.Context(), "op", "get_event")
	logging.AddField(r.Context(), "event_index", index)
	resp, err := h.service.GetEvent(r.Context(), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProveEvent(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(r.PathValue("index"), 10, 64)
	if err != nil || index < 1 {
		h.writeError(w, r, service.BadRequest("index must be a positive integer", err))
		return
	}
	logging.AddField(r.Context(), "op", "prove_event")
	logging.AddField(r.Context(), "event_index", index)
	resp, err := h.service.ProveEvent(r.Context(), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "tree_size", resp.Head.TreeSize)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleJournalHead(w http.ResponseWriter, r *http.Request) {
	logging.AddField(r.Context(), "op", "journal_head")
	resp, err := h.service.JournalHead(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "tree_size", resp.TreeSize)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		h.writeError(w, r, service.BadRequest(name+" must be an unsigned integer", err))
		return 0, false
	}
	return v, true
}

func (h *Handler) pathAddress(w http.ResponseWriter, r *http.Request, name string) (address.Address, bool) {
	addr, err := address.Parse(r.PathValue(name))
	if err != nil {
		h.writeError(w, r, service.BadRequest(name+" must be a base58 address", err))
		return address.Address{}, false
	}
	return addr, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_kind", string(appErr.Kind))
		logging.AddField(r.Context(), "error_message", appErr.Message)
		if appErr.HTTPStatus >= http.StatusInternalServerError && h.logger != nil {
			h.logger.Error("request failed", slog.String("code", appErr.Code), slog.Any("error", err))
		}
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", "INTERNAL_ERROR")
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      "INTERNAL_ERROR",
		Message:   "internal server error",
		Retryable: true,
	}})
}

// decodeJSON reads exactly one JSON object. allowEmpty accepts a missing
// body as the zero request.
func decodeJSON(r *http.Request, out any, allowEmpty bool) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if allowEmpty && len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
