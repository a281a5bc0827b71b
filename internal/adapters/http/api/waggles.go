package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/wddbridge/internal/adapters/mq/queue"
	"github.com/okian/wddbridge/internal/adapters/wdd"
	"github.com/okian/wddbridge/internal/domain/dedupe"
	"github.com/okian/wddbridge/internal/domain/model"
)

// waggleRequest is the body of POST /waggles. Only cam_id and the position
// are required; the timestamp defaults to now.
type waggleRequest struct {
	CamID          string   `json:"cam_id"`
	X              *float64 `json:"x"`
	Y              *float64 `json:"y"`
	WaggleAngle    *float64 `json:"waggle_angle"`
	WaggleDuration *float64 `json:"waggle_duration"`
	Timestamp      string   `json:"timestamp_waggle"`
	WaggleID       string   `json:"waggle_id"`
}

func (req waggleRequest) event(now time.Time) (model.WaggleEvent, error) {
	switch {
	case strings.TrimSpace(req.CamID) == "":
		return model.WaggleEvent{}, errors.New("missing cam_id")
	case req.X == nil || req.Y == nil:
		return model.WaggleEvent{}, errors.New("missing x or y")
	case math.IsNaN(*req.X) || math.IsNaN(*req.Y):
		return model.WaggleEvent{}, errors.New("position is NaN")
	}
	ts := now.UTC()
	if req.Timestamp != "" {
		parsed, err := wdd.ParseTimestamp(req.Timestamp)
		if err != nil {
			return model.WaggleEvent{}, err
		}
		ts = parsed
	}
	id := req.WaggleID
	if id == "" {
		id = uuid.NewString()
	}
	return model.WaggleEvent{
		X:               *req.X,
		Y:               *req.Y,
		Angle:           req.WaggleAngle,
		Duration:        req.WaggleDuration,
		Timestamp:       ts,
		SystemTimestamp: now.UTC(),
		CameraID:        req.CamID,
		EventID:         id,
	}, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	WaggleID  string `json:"waggle_id"`
}

// WagglesHandler injects synthetic waggles, e.g. to test the comb wiring.
type WagglesHandler struct {
	deps Dependencies
	now  func() time.Time
}

// NewWagglesHandler creates a new waggles handler.
func NewWagglesHandler(deps Dependencies) *WagglesHandler {
	return &WagglesHandler{deps: deps, now: time.Now}
}

// HandlePostWaggle handles POST /waggles requests.
func (h *WagglesHandler) HandlePostWaggle(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_waggle"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req waggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	ev, err := req.event(h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	key := dedupe.Key(ev.CameraID, ev.EventID)
	if h.deps.SeenAndRecord(r.Context(), key) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true, WaggleID: ev.EventID})
		return
	}

	if err := h.deps.Enqueue(r.Context(), ev); err != nil {
		h.deps.Unrecord(r.Context(), key)
		if errors.Is(err, queue.ErrFull) {
			writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", WaggleID: ev.EventID})
}
