package handlers_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tokenfight/tokenfight-api/api/handlers"
	"github.com/tokenfight/tokenfight-api/databases"
	"github.com/tokenfight/tokenfight-api/databases/mocks"
	"github.com/tokenfight/tokenfight-api/models"
	"github.com/tokenfight/tokenfight-api/referrals"
)

func newTestService() (*referrals.Service, *mocks.UserDatabase, *mocks.ReferralDatabase) {
	users := &mocks.UserDatabase{}
	refs := &mocks.ReferralDatabase{}
	return &referrals.Service{
		Users:           users,
		Referrals:       refs,
		GenesisCapacity: 500,
	}, users, refs
}

func TestUser_UserHandler(t *testing.T) {
	svc, users, _ := newTestService()

	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-1"}).
		Return(&models.User{ID: "privy-1", ReferralCode: "alice"}, nil)

	u := handlers.User{Service: svc}

	req, _ := http.NewRequest("GET", "/api/v1/user/privy-1", nil)
	req = mux.SetURLVars(req, map[string]string{"user_id": "privy-1"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.UserHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"referral_code":"alice"`)
}

func TestUser_UserHandlerNotFound(t *testing.T) {
	svc, users, _ := newTestService()

	users.On("FindOne", mock.Anything, bson.M{"_id": "missing"}).
		Return(nil, databases.ErrNoDocuments)

	u := handlers.User{Service: svc}

	req, _ := http.NewRequest("GET", "/api/v1/user/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"user_id": "missing"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.UserHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "user not found")
}

func TestUser_UserHandlerStoreError(t *testing.T) {
	svc, users, _ := newTestService()

	users.On("FindOne", mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))

	u := handlers.User{Service: svc}

	req, _ := http.NewRequest("GET", "/api/v1/user/privy-1", nil)
	req = mux.SetURLVars(req, map[string]string{"user_id": "privy-1"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.UserHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "mocked-error")
}

func TestUser_UserByReferralCodeHandler(t *testing.T) {
	svc, users, _ := newTestService()

	users.On("FindOne", mock.Anything, bson.M{"referral_code": "alice"}).
		Return(&models.User{ID: "privy-1", ReferralCode: "alice"}, nil)

	u := handlers.User{Service: svc}

	req, _ := http.NewRequest("GET", "/api/v1/user/code/alice", nil)
	req = mux.SetURLVars(req, map[string]string{"referral_code": "alice"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.UserByReferralCodeHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"privy-1"`)
}

func TestUser_UserUpsertHandler(t *testing.T) {
	svc, users, _ := newTestService()

	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-1"}).
		Return(&models.User{ID: "privy-1", ReferralCode: "alice"}, nil)

	u := handlers.User{Service: svc}

	body := strings.NewReader(`{"privyUserId": "privy-1"}`)
	req, _ := http.NewRequest("POST", "/api/v1/user", body)
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.UserUpsertHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"referral_code":"alice"`)
}

func TestUser_UserUpsertHandlerMissingID(t *testing.T) {
	svc, users, _ := newTestService()

	u := handlers.User{Service: svc}

	body := strings.NewReader(`{"referralCode": "alice"}`)
	req, _ := http.NewRequest("POST", "/api/v1/user", body)
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.UserUpsertHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "privyUserId is required")
	users.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestUser_GenesisCountHandler(t *testing.T) {
	svc, users, _ := newTestService()

	users.On("CountDocuments", mock.Anything, bson.M{"is_genesis": true}).
		Return(int64(123), nil)

	u := handlers.User{Service: svc}

	req, _ := http.NewRequest("GET", "/api/v1/genesis/count", nil)
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.GenesisCountHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":123`)
	assert.Contains(t, rr.Body.String(), `"capacity":500`)
}

func TestUser_LeaderboardHandler(t *testing.T) {
	svc, users, _ := newTestService()

	users.On("Find", mock.Anything, bson.M{"invite_count": bson.M{"$gt": 0}}, mock.Anything).
		Return([]models.User{{ID: "a", InviteCount: 7}}, nil)

	u := handlers.User{Service: svc}

	req, _ := http.NewRequest("GET", "/api/v1/leaderboard?limit=bogus", nil)
	rr := httptest.NewRecorder()

	http.HandlerFunc(u.LeaderboardHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"invite_count":7`)
}
