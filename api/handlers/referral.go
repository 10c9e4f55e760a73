package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/api"
	"github.com/tokenfight/tokenfight-api/config"
	"github.com/tokenfight/tokenfight-api/referrals"
)

// Referral exported for testing purposes
type Referral struct {
	Service *referrals.Service
}

// actionEnvelope carries just the action tag; each action decodes the body
// again into its own typed request and validates it at the boundary.
type actionEnvelope struct {
	Action string `json:"action"`
}

type trackReferralRequest struct {
	ReferrerCode   string `json:"referrerCode"`
	ReferredUserID string `json:"referredUserId"`
}

type userReferralsRequest struct {
	UserID string `json:"userId"`
}

type dummyReferralRequest struct {
	UserID        string `json:"userId"`
	DummyUsername string `json:"dummyUsername"`
	DummyAvatar   string `json:"dummyAvatar"`
}

type trackReferralResponse struct {
	Success  bool        `json:"success"`
	Referrer interface{} `json:"referrer"`
}

// ActionsHandler is the action-dispatch endpoint the web client calls. It
// keeps the wire contract of the original serverless function: unknown
// actions get a 400, anything unexpected gets a generic 500.
func (h Referral) ActionsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.serverError(w, err)
		return
	}
	// an empty body is an empty envelope, which dispatches as an unknown
	// action rather than a server error
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var env actionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.serverError(w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	switch env.Action {
	case "createUser":
		var params referrals.UpsertParams
		if err := json.Unmarshal(body, &params); err != nil {
			h.serverError(w, err)
			return
		}
		if params.PrivyUserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "privyUserId is required"}`))
			return
		}
		user, err := h.Service.UpsertUser(ctx, params)
		if err != nil {
			h.serverError(w, err)
			return
		}
		json.NewEncoder(w).Encode(user)

	case "trackReferral":
		var req trackReferralRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.serverError(w, err)
			return
		}
		if req.ReferrerCode == "" || req.ReferredUserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "referrerCode and referredUserId are required"}`))
			return
		}
		tracked, err := h.Service.TrackReferral(ctx, req.ReferrerCode, req.ReferredUserID)
		if err != nil {
			h.serverError(w, err)
			return
		}
		resp := trackReferralResponse{Success: tracked}
		if tracked {
			if referrer, err := h.Service.UserByReferralCode(ctx, req.ReferrerCode); err == nil {
				resp.Referrer = referrer
			}
		}
		json.NewEncoder(w).Encode(resp)

	case "getUserReferrals":
		var req userReferralsRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.serverError(w, err)
			return
		}
		if req.UserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "userId is required"}`))
			return
		}
		referralList, err := h.Service.ReferralsForUser(ctx, req.UserID)
		if err != nil {
			h.serverError(w, err)
			return
		}
		json.NewEncoder(w).Encode(referralList)

	case "addDummyReferral":
		var req dummyReferralRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.serverError(w, err)
			return
		}
		if req.UserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "userId is required"}`))
			return
		}
		result, err := h.Service.AddDummyReferral(ctx, req.UserID, req.DummyUsername, req.DummyAvatar)
		if err != nil {
			if errors.Is(err, referrals.ErrReferrerNotFound) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error": "Referrer not found"}`))
				return
			}
			h.serverError(w, err)
			return
		}
		json.NewEncoder(w).Encode(result)

	default:
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "Invalid action"}`))
	}
}

func (h Referral) serverError(w http.ResponseWriter, err error) {
	zap.S().Errorw("referral action failed", "error", err)
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"error": "Server error"}`))
}

// TrackReferralHandler records a referral
func (h Referral) TrackReferralHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req trackReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	if req.ReferrerCode == "" || req.ReferredUserID == "" {
		config.ErrorStatus("referrerCode and referredUserId are required", http.StatusBadRequest, w, fmt.Errorf("missing fields"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	tracked, err := h.Service.TrackReferral(ctx, req.ReferrerCode, req.ReferredUserID)
	if err != nil {
		config.ErrorStatus("failed to track referral", http.StatusInternalServerError, w, err)
		return
	}

	resp := trackReferralResponse{Success: tracked}
	if tracked {
		if referrer, err := h.Service.UserByReferralCode(ctx, req.ReferrerCode); err == nil {
			resp.Referrer = referrer
		}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// UserReferralsHandler returns the referrals a user is the referrer of
func (h Referral) UserReferralsHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	referralList, err := h.Service.ReferralsForUser(ctx, userID)
	if err != nil {
		config.ErrorStatus("failed to get referrals", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(referralList)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UserReferrerHandler returns the user who invited the given user
func (h Referral) UserReferrerHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	referrer, err := h.Service.ReferrerForUser(ctx, userID)
	if err != nil {
		config.ErrorStatus("failed to get referrer", http.StatusInternalServerError, w, err)
		return
	}
	if referrer == nil {
		config.ErrorStatus("referrer not found", http.StatusNotFound, w, fmt.Errorf("user %s was not referred", userID))
		return
	}

	b, err := json.Marshal(referrer)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// AddDummyReferralHandler fabricates a referral for a user, test tooling only
func (h Referral) AddDummyReferralHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	var req dummyReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	result, err := h.Service.AddDummyReferral(ctx, userID, req.DummyUsername, req.DummyAvatar)
	if err != nil {
		if errors.Is(err, referrals.ErrReferrerNotFound) {
			config.ErrorStatus("referrer not found", http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to add dummy referral", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(result)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// RemoveReferralHandler deletes a referral and walks the counter back,
// cleanup counterpart of the dummy referral tooling
func (h Referral) RemoveReferralHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["user_id"]
	referredID := vars["referred_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if err := h.Service.RemoveReferral(ctx, userID, referredID); err != nil {
		if errors.Is(err, referrals.ErrReferralNotFound) {
			config.ErrorStatus("referral not found", http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to remove referral", http.StatusInternalServerError, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// ReconcileHandler runs the invite count reconciliation on demand
func (h Referral) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	updated, err := h.Service.ReconcileInviteCounts(ctx)
	if err != nil {
		config.ErrorStatus("failed to reconcile invite counts", http.StatusInternalServerError, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int{"countersUpdated": updated})
}
