package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/relay"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
	"github.com/LeventeLantos/whatsapp-relay/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-relay/internal/session"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

type Bots interface {
	Create(botID, customerID, botName string) (model.BotSnapshot, error)
	Destroy(ctx context.Context, botID string) error
	RefreshPairing(ctx context.Context, botID string) error
	Get(botID string) (model.BotSnapshot, error)
	PairingPayload(botID string) (session.PairingView, error)
	List(customerID string) []model.BotSnapshot
	Rename(botID, name string) (model.BotSnapshot, error)
	SendDirect(ctx context.Context, botID, destination, text string) (string, error)
	ReloadRelayTarget(ctx context.Context, botID string) error
	Count() int
}

type Relay interface {
	SendToGroups(ctx context.Context, botID string, req relay.BroadcastRequest) (model.BroadcastResult, error)
	Groups(ctx context.Context, botID string) ([]model.Group, error)
}

type JobStatus interface {
	Status() scheduler.Status
}

type Handler struct {
	bots    Bots
	relay   Relay
	groups  repo.DistributionGroupRepository
	jobs    []JobStatus
	locks   *keyedMutex
	started time.Time
}

func NewHandler(b Bots, r Relay) *Handler {
	return &Handler{
		bots:    b,
		relay:   r,
		locks:   newKeyedMutex(),
		started: time.Now(),
	}
}

// WithDistributionGroups enables the distribution group endpoints.
func (h *Handler) WithDistributionGroups(g repo.DistributionGroupRepository) *Handler {
	h.groups = g
	return h
}

func (h *Handler) WithJobs(jobs ...JobStatus) *Handler {
	h.jobs = append(h.jobs, jobs...)
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"bots":   h.bots.Count(),
		"uptime": time.Since(h.started).Seconds(),
	}
	if len(h.jobs) > 0 {
		jobs := make([]scheduler.Status, 0, len(h.jobs))
		for _, j := range h.jobs {
			jobs = append(jobs, j.Status())
		}
		resp["jobs"] = jobs
	}
	writeJSON(w, http.StatusOK, resp)
}

type botResponse struct {
	ID            string       `json:"id"`
	ExternalBotID string       `json:"external_bot_id"`
	BotName       string       `json:"bot_name"`
	CustomerID    string       `json:"customer_id,omitempty"`
	UserID        string       `json:"user_id,omitempty"`
	Status        model.Status `json:"status"`
	PhoneNumber   *string      `json:"phone_number"`
	ConnectedAt   *time.Time   `json:"connected_at"`
	LastActive    time.Time    `json:"last_active"`
	CreatedAt     time.Time    `json:"created_at"`
}

func toBotResponse(s model.BotSnapshot) botResponse {
	resp := botResponse{
		ID:            s.BotID,
		ExternalBotID: s.BotID,
		BotName:       s.BotName,
		CustomerID:    s.CustomerID,
		Status:        s.Status,
		ConnectedAt:   s.ConnectedAt,
		LastActive:    s.LastActiveAt,
		CreatedAt:     s.CreatedAt,
	}
	if s.PhoneNumber != "" {
		p := s.PhoneNumber
		resp.PhoneNumber = &p
	}
	return resp
}

func (h *Handler) ListBots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("customerId")
	if owner == "" {
		owner = q.Get("userId")
	}

	snaps := h.bots.List(owner)
	out := make([]botResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toBotResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

type createBotRequest struct {
	BotName    string `json:"bot_name"`
	UserID     string `json:"user_id"`
	CustomerID string `json:"customer_id"`
}

func (h *Handler) CreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.BotName = strings.TrimSpace(req.BotName)
	if req.BotName == "" {
		writeError(w, http.StatusBadRequest, "bot_name is required")
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "Missing customer_id in request")
		return
	}

	botID := req.BotName
	unlock := h.locks.Lock(botID)
	defer unlock()

	snap, err := h.bots.Create(botID, req.CustomerID, req.BotName)
	if err != nil {
		h.fail(w, r, err, "Failed to create bot")
		return
	}

	resp := toBotResponse(snap)
	resp.UserID = req.UserID
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetQR(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	view, err := h.bots.PairingPayload(botID)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	switch {
	case view.Status == model.Connected:
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      botID,
			"status":  model.Connected,
			"message": "Bot is already connected",
		})
	case view.Generating:
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      botID,
			"status":  model.Pending,
			"message": "QR code is being generated, please wait...",
		})
	case view.Payload == "":
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      botID,
			"status":  view.Status,
			"message": "QR code not available, request a refresh",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      botID,
			"qr_code": view.Payload,
			"status":  view.Status,
		})
	}
}

func (h *Handler) RefreshQR(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	unlock := h.locks.Lock(botID)
	defer unlock()

	if err := h.bots.RefreshPairing(r.Context(), botID); err != nil {
		h.fail(w, r, err, "Failed to refresh QR code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      botID,
		"status":  model.Pending,
		"message": "QR code refresh initiated",
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	snap, err := h.bots.Get(botID)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	resp := toBotResponse(snap)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           botID,
		"status":       resp.Status,
		"phone_number": resp.PhoneNumber,
		"connected_at": resp.ConnectedAt,
		"last_active":  resp.LastActive,
	})
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

// PutStatus only records the caller's view. The live status is never
// overwritten from outside.
func (h *Handler) PutStatus(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	snap, err := h.bots.Get(botID)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	slog.Info("status update requested", "bot_id", botID, "requested", req.Status, "actual", snap.Status)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      botID,
		"status":  snap.Status,
		"message": "Status logged",
	})
}

type renameRequest struct {
	BotName string `json:"bot_name"`
}

func (h *Handler) RenameBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	var req renameRequest
	if !decodeBody(w, r, &req) {
		return
	}

	snap, err := h.bots.Rename(botID, strings.TrimSpace(req.BotName))
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              botID,
		"external_bot_id": botID,
		"bot_name":        snap.BotName,
		"status":          snap.Status,
	})
}

func (h *Handler) DeleteBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	unlock := h.locks.Lock(botID)
	defer unlock()

	if err := h.bots.Destroy(r.Context(), botID); err != nil {
		h.fail(w, r, err, "Failed to delete bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Bot deleted successfully",
	})
}

func (h *Handler) ListJoinedGroups(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	groups, err := h.relay.Groups(r.Context(), botID)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch groups")
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type sendMessageRequest struct {
	Message string `json:"message"`
	GroupID string `json:"groupId"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" || strings.TrimSpace(req.GroupID) == "" {
		writeError(w, http.StatusBadRequest, "Missing message or groupId")
		return
	}

	addr := transport.GroupAddress(req.GroupID)
	if _, err := h.bots.SendDirect(r.Context(), botID, addr, req.Message); err != nil {
		var sendErr *session.SendFailedError
		if errors.As(err, &sendErr) {
			slog.Error("send message failed", "bot_id", botID, "group_id", addr, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   "Failed to send message",
				"details": sendErr.Cause.Error(),
			})
			return
		}
		h.fail(w, r, err, "Failed to send message")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Message sent successfully",
		"groupId": addr,
	})
}

type sendToGroupsRequest struct {
	GroupIDs     []string `json:"groupIds"`
	Message      string   `json:"message"`
	DelaySeconds *int     `json:"delaySeconds"`
}

func (h *Handler) SendToGroups(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	var req sendToGroupsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.GroupIDs) == 0 || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Missing message or groupIds")
		return
	}

	breq := relay.BroadcastRequest{DestinationIDs: req.GroupIDs, Message: req.Message}
	if req.DelaySeconds != nil {
		if *req.DelaySeconds < 0 {
			writeError(w, http.StatusBadRequest, "delaySeconds must be >= 0")
			return
		}
		breq.DelaySeconds = *req.DelaySeconds
	}

	res, err := h.relay.SendToGroups(r.Context(), botID, breq)
	if err != nil {
		h.fail(w, r, err, "Failed to send messages")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListDistributionGroups(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	groups, err := h.groups.ListGroups(r.Context(), botID)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch distribution groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type addGroupRequest struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
}

func (h *Handler) AddDistributionGroup(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	var req addGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.GroupID) == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}

	g, err := h.groups.AddGroup(r.Context(), botID, transport.GroupAddress(req.GroupID), strings.TrimSpace(req.GroupName))
	if err != nil {
		h.fail(w, r, err, "Failed to add distribution group")
		return
	}
	h.reloadRelay(r.Context(), botID)
	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) DeleteDistributionGroup(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "id")
	rowID, err := strconv.ParseInt(chi.URLParam(r, "groupRowID"), 10, 64)
	if err != nil || rowID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	if err := h.groups.DeleteGroup(r.Context(), botID, rowID); err != nil {
		h.fail(w, r, err, "Failed to delete distribution group")
		return
	}
	h.reloadRelay(r.Context(), botID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// reloadRelay refreshes the cached relay target of a live bot after its
// destinations changed. Bots without a live session are skipped.
func (h *Handler) reloadRelay(ctx context.Context, botID string) {
	err := h.bots.ReloadRelayTarget(ctx, botID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Warn("relay target reload failed", "bot_id", botID, "err", err)
	}
}

// fail maps domain errors to HTTP statuses. fallback is the message used for
// unexpected errors; the cause is logged, not returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var initErr *session.TransportInitError
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Bot not found")
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusBadRequest, "Bot is not connected")
	case errors.Is(err, session.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, "Bot already exists")
	case errors.Is(err, session.ErrInvalidBotID),
		errors.Is(err, relay.ErrNoDestinations),
		errors.Is(err, relay.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &initErr):
		slog.Error("transport init failed", "bot_id", initErr.BotID, "err", initErr.Cause)
		writeError(w, http.StatusInternalServerError, "Failed to create bot")
	default:
		if fallback == "" {
			fallback = "Internal server error"
		}
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
