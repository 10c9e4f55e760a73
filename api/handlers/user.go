package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/api"
	"github.com/tokenfight/tokenfight-api/config"
	"github.com/tokenfight/tokenfight-api/referrals"
)

const defaultLeaderboardLimit = 10
const maxLeaderboardLimit = 100

// User exported for testing purposes
type User struct {
	Service *referrals.Service
}

// UserUpsertHandler creates or updates a user from the identity provider
// login payload
func (u User) UserUpsertHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var params referrals.UpsertParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	if params.PrivyUserID == "" {
		config.ErrorStatus("privyUserId is required", http.StatusBadRequest, w, fmt.Errorf("missing privyUserId"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := u.Service.UpsertUser(ctx, params)
	if err != nil {
		config.ErrorStatus("failed to upsert user", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(user)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UserHandler returns a user given a userID
func (u User) UserHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	zap.S().Debugf("user_id: %v", userID)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := u.Service.UserByID(ctx, userID)
	if err != nil {
		config.ErrorStatus("failed to get user by ID", http.StatusInternalServerError, w, err)
		return
	}
	if user == nil {
		config.ErrorStatus("user not found", http.StatusNotFound, w, fmt.Errorf("no user with id %s", userID))
		return
	}

	b, err := json.Marshal(user)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UserByReferralCodeHandler returns the user holding a referral code
func (u User) UserByReferralCodeHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["referral_code"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := u.Service.UserByReferralCode(ctx, code)
	if err != nil {
		config.ErrorStatus("failed to get user by referral code", http.StatusInternalServerError, w, err)
		return
	}
	if user == nil {
		config.ErrorStatus("user not found", http.StatusNotFound, w, fmt.Errorf("no user with referral code %s", code))
		return
	}

	b, err := json.Marshal(user)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// GenesisCountHandler returns the genesis cohort counter for the landing page
func (u User) GenesisCountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	count, err := u.Service.GenesisUsersCount(ctx)
	if err != nil {
		config.ErrorStatus("failed to count genesis users", http.StatusInternalServerError, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    count,
		"capacity": u.Service.GenesisCapacity,
	})
}

// LeaderboardHandler returns the top referrers by invite count
func (u User) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	users, err := u.Service.Leaderboard(ctx, int64(limit))
	if err != nil {
		config.ErrorStatus("failed to get leaderboard", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(users)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
