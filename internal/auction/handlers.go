package auction

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cpl/auction-engine/internal/accounting"
	"github.com/cpl/auction-engine/internal/lock"
	"github.com/cpl/auction-engine/internal/model"
	"github.com/cpl/auction-engine/internal/store"
	"github.com/cpl/auction-engine/internal/validation"
)

// Handler exposes the Service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the HTTP handlers for svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the auction API on r. The caller picks the prefix
// (/api/v1 in cmd/server).
func (h *Handler) Routes(r chi.Router) {
	r.Get("/teams", h.ListTeams)
	r.Post("/teams", h.CreateTeam)
	r.Get("/teams/{teamID}", h.GetTeam)
	r.Get("/teams/{teamID}/members", h.ListTeamMembers)
	r.Get("/teams/{teamID}/summary", h.TeamSummary)
	r.Get("/teams/{teamID}/max-bid", h.MaxBid)

	r.Get("/players", h.ListPlayers)
	r.Post("/players", h.CreatePlayer)
	r.Get("/players/{playerID}", h.GetPlayer)
	r.Get("/players/{playerID}/bid-options", h.BidOptions)

	r.Get("/bids", h.ListBids)
	r.Post("/bids", h.SettleBid)
	r.Delete("/bids/{bidID}", h.ReverseBid)

	r.Get("/audit", h.Audit)
}

// --- Teams ---

// CreateTeam handles POST /api/v1/teams
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	team, err := h.svc.CreateTeam(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

// ListTeams handles GET /api/v1/teams
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.svc.ListTeams(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if teams == nil {
		teams = []model.Team{}
	}
	writeJSON(w, http.StatusOK, teams)
}

// GetTeam handles GET /api/v1/teams/{teamID}
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.svc.GetTeam(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// ListTeamMembers handles GET /api/v1/teams/{teamID}/members
func (h *Handler) ListTeamMembers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListTeamMembers(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// TeamSummary handles GET /api/v1/teams/{teamID}/summary
func (h *Handler) TeamSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.TeamRosterSummary(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// MaxBid handles GET /api/v1/teams/{teamID}/max-bid?player_id=
func (h *Handler) MaxBid(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		writeError(w, "player_id is required", http.StatusBadRequest)
		return
	}

	maxBid, err := h.svc.ComputeMaxBid(r.Context(), teamID, playerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"team_id":   teamID,
		"player_id": playerID,
		"max_bid":   maxBid,
	})
}

// --- Players ---

// CreatePlayer handles POST /api/v1/players
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	player, err := h.svc.CreatePlayer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, player)
}

// ListPlayers handles GET /api/v1/players
// Optional ?sold=true|false narrows the listing; sold=false is the list of
// players still open for bidding.
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	var filter model.PlayerFilter
	if raw := r.URL.Query().Get("sold"); raw != "" {
		sold, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, "sold must be true or false", http.StatusBadRequest)
			return
		}
		filter.Sold = &sold
	}

	players, err := h.svc.ListPlayers(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if players == nil {
		players = []model.Player{}
	}
	writeJSON(w, http.StatusOK, players)
}

// GetPlayer handles GET /api/v1/players/{playerID}
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.svc.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// BidOptions handles GET /api/v1/players/{playerID}/bid-options
func (h *Handler) BidOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.svc.BidOptionsFor(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// --- Bids ---

// SettleBid handles POST /api/v1/bids
func (h *Handler) SettleBid(w http.ResponseWriter, r *http.Request) {
	var req SettleBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bid, err := h.svc.ValidateAndSettleBid(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// ListBids handles GET /api/v1/bids?team_id=&player_id=
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bids, err := h.svc.ListBids(r.Context(), model.BidFilter{
		TeamID:   q.Get("team_id"),
		PlayerID: q.Get("player_id"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// ReverseBid handles DELETE /api/v1/bids/{bidID}
func (h *Handler) ReverseBid(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ReverseBid(r.Context(), chi.URLParam(r, "bidID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Audit handles GET /api/v1/audit
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Audit(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Responses ---

// writeServiceError maps service errors onto HTTP statuses. Validation
// failures carry the violated rule next to the message.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	var cerr *ConsistencyError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": verr.Message,
			"rule":  string(verr.Rule),
		})
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, accounting.ErrInvalidEntity),
		errors.Is(err, accounting.ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, lock.ErrLockHeld):
		writeError(w, "another bid for this team or player is in progress, retry", http.StatusConflict)
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       "inconsistent auction state",
			"consistency": cerr,
		})
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
