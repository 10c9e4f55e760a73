package referrals_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tokenfight/tokenfight-api/databases"
	"github.com/tokenfight/tokenfight-api/databases/mocks"
	"github.com/tokenfight/tokenfight-api/models"
	"github.com/tokenfight/tokenfight-api/referrals"
)

func newService() (*referrals.Service, *mocks.UserDatabase, *mocks.ReferralDatabase) {
	users := &mocks.UserDatabase{}
	refs := &mocks.ReferralDatabase{}
	svc := &referrals.Service{
		Users:           users,
		Referrals:       refs,
		GenesisCapacity: 500,
	}
	return svc, users, refs
}

func TestUpsertUser_CreatesNewUser(t *testing.T) {
	svc, users, _ := newService()

	created := &models.User{
		ID:           "privy-1",
		ReferralCode: "alice",
		IsGenesis:    true,
	}

	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-1"}).
		Return(nil, databases.ErrNoDocuments).Once()
	users.On("CountDocuments", mock.Anything, bson.M{
		"referral_code": "alice",
		"_id":           bson.M{"$ne": "privy-1"},
	}).Return(int64(0), nil)
	users.On("CountDocuments", mock.Anything, bson.M{"is_genesis": true}).
		Return(int64(10), nil)
	users.On("UpdateOne", mock.Anything, bson.M{"_id": "privy-1"}, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{UpsertedCount: 1}, nil)
	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-1"}).
		Return(created, nil).Once()

	user, err := svc.UpsertUser(context.TODO(), referrals.UpsertParams{
		PrivyUserID:  "privy-1",
		ReferralCode: "alice",
	})

	assert.NoError(t, err)
	assert.Equal(t, "alice", user.ReferralCode)
	assert.True(t, user.IsGenesis)
	users.AssertExpectations(t)
}

func TestUpsertUser_RequiresPrivyUserID(t *testing.T) {
	svc, users, _ := newService()

	_, err := svc.UpsertUser(context.TODO(), referrals.UpsertParams{})

	assert.Error(t, err)
	users.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestUpsertUser_ExistingUserKeepsReferralCode(t *testing.T) {
	svc, users, _ := newService()

	existing := &models.User{ID: "privy-1", ReferralCode: "alice", InviteCount: 3}

	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-1"}).
		Return(existing, nil)
	users.On("UpdateOne", mock.Anything, bson.M{"_id": "privy-1"},
		bson.M{"$set": bson.M{"twitter_username": "alice2"}}).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	user, err := svc.UpsertUser(context.TODO(), referrals.UpsertParams{
		PrivyUserID:     "privy-1",
		ReferralCode:    "something-else",
		TwitterUsername: "alice2",
	})

	assert.NoError(t, err)
	assert.Equal(t, "alice", user.ReferralCode)
	assert.Equal(t, 3, user.InviteCount)
	// the requested code is never checked for an existing user
	users.AssertNotCalled(t, "CountDocuments", mock.Anything, mock.Anything)
}

func TestUpsertUser_ReferralCodeCollisionGetsSuffix(t *testing.T) {
	svc, users, _ := newService()

	var insertedCode string

	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-2"}).
		Return(nil, databases.ErrNoDocuments).Once()
	// "alice" is taken by someone else
	users.On("CountDocuments", mock.Anything, bson.M{
		"referral_code": "alice",
		"_id":           bson.M{"$ne": "privy-2"},
	}).Return(int64(1), nil)
	// any suffixed variant is free
	users.On("CountDocuments", mock.Anything, mock.MatchedBy(func(filter bson.M) bool {
		code, ok := filter["referral_code"].(string)
		return ok && strings.HasPrefix(code, "alice_")
	})).Return(int64(0), nil)
	users.On("CountDocuments", mock.Anything, bson.M{"is_genesis": true}).
		Return(int64(0), nil)
	users.On("UpdateOne", mock.Anything, bson.M{"_id": "privy-2"}, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			update := args.Get(2).(bson.M)
			insertedCode = update["$setOnInsert"].(bson.M)["referral_code"].(string)
		}).
		Return(&mongo.UpdateResult{UpsertedCount: 1}, nil)
	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-2"}).
		Return(&models.User{ID: "privy-2"}, nil).Once()

	_, err := svc.UpsertUser(context.TODO(), referrals.UpsertParams{
		PrivyUserID:  "privy-2",
		ReferralCode: "alice",
	})

	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(insertedCode, "alice_"),
		"expected a suffixed variant of alice, got %q", insertedCode)
}

func TestUpsertUser_GenesisCohortFull(t *testing.T) {
	svc, users, _ := newService()
	svc.GenesisCapacity = 500

	var isGenesis interface{}

	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-3"}).
		Return(nil, databases.ErrNoDocuments).Once()
	users.On("CountDocuments", mock.Anything, mock.MatchedBy(func(filter bson.M) bool {
		_, ok := filter["referral_code"]
		return ok
	})).Return(int64(0), nil)
	users.On("CountDocuments", mock.Anything, bson.M{"is_genesis": true}).
		Return(int64(500), nil)
	users.On("UpdateOne", mock.Anything, bson.M{"_id": "privy-3"}, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			update := args.Get(2).(bson.M)
			isGenesis = update["$setOnInsert"].(bson.M)["is_genesis"]
		}).
		Return(&mongo.UpdateResult{UpsertedCount: 1}, nil)
	users.On("FindOne", mock.Anything, bson.M{"_id": "privy-3"}).
		Return(&models.User{ID: "privy-3"}, nil).Once()

	_, err := svc.UpsertUser(context.TODO(), referrals.UpsertParams{PrivyUserID: "privy-3", ReferralCode: "bob"})

	assert.NoError(t, err)
	assert.Equal(t, false, isGenesis)
}

func TestTrackReferral_Success(t *testing.T) {
	svc, users, refs := newService()

	referrer := &models.User{ID: "alice-id", ReferralCode: "alice", InviteCount: 1}

	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(int64(0), nil)
	users.On("FindOne", mock.Anything, bson.M{"referral_code": "alice"}).
		Return(referrer, nil)
	refs.On("InsertOne", mock.Anything, mock.MatchedBy(func(r models.Referral) bool {
		return r.ID == "alice-id_ext-1" &&
			r.ReferrerID == "alice-id" &&
			r.ReferredID == "ext-1" &&
			r.Status == models.ReferralStatusCompleted
	})).Return(&mocks.InsertOneResultHelper{}, nil)
	users.On("UpdateOne", mock.Anything, bson.M{"_id": "alice-id"},
		bson.M{"$inc": bson.M{"invite_count": 1}}).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	tracked, err := svc.TrackReferral(context.TODO(), "alice", "ext-1")

	assert.NoError(t, err)
	assert.True(t, tracked)
	refs.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestTrackReferral_AlreadyReferred(t *testing.T) {
	svc, users, refs := newService()

	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(int64(1), nil)

	tracked, err := svc.TrackReferral(context.TODO(), "bob", "ext-1")

	assert.NoError(t, err)
	assert.False(t, tracked)
	refs.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrackReferral_UnknownCode(t *testing.T) {
	svc, users, refs := newService()

	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(int64(0), nil)
	users.On("FindOne", mock.Anything, bson.M{"referral_code": "nobody"}).
		Return(nil, databases.ErrNoDocuments)

	tracked, err := svc.TrackReferral(context.TODO(), "nobody", "ext-1")

	assert.NoError(t, err)
	assert.False(t, tracked)
	refs.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestTrackReferral_SelfReferral(t *testing.T) {
	svc, users, refs := newService()

	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "alice-id"}).
		Return(int64(0), nil)
	users.On("FindOne", mock.Anything, bson.M{"referral_code": "alice"}).
		Return(&models.User{ID: "alice-id", ReferralCode: "alice"}, nil)

	tracked, err := svc.TrackReferral(context.TODO(), "alice", "alice-id")

	assert.NoError(t, err)
	assert.False(t, tracked)
	refs.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestTrackReferral_EmptyInputs(t *testing.T) {
	svc, _, refs := newService()

	tracked, err := svc.TrackReferral(context.TODO(), "", "ext-1")
	assert.NoError(t, err)
	assert.False(t, tracked)

	tracked, err = svc.TrackReferral(context.TODO(), "alice", "")
	assert.NoError(t, err)
	assert.False(t, tracked)

	refs.AssertNotCalled(t, "CountDocuments", mock.Anything, mock.Anything)
}

func TestTrackReferral_DuplicateInsertLosesRace(t *testing.T) {
	svc, users, refs := newService()

	dupErr := mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{Code: 11000}},
	}

	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(int64(0), nil)
	users.On("FindOne", mock.Anything, bson.M{"referral_code": "alice"}).
		Return(&models.User{ID: "alice-id", ReferralCode: "alice"}, nil)
	refs.On("InsertOne", mock.Anything, mock.Anything).
		Return(nil, dupErr)

	tracked, err := svc.TrackReferral(context.TODO(), "alice", "ext-1")

	assert.NoError(t, err)
	assert.False(t, tracked)
	users.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrackReferral_IncrementFailureStillSucceeds(t *testing.T) {
	svc, users, refs := newService()

	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(int64(0), nil)
	users.On("FindOne", mock.Anything, bson.M{"referral_code": "alice"}).
		Return(&models.User{ID: "alice-id", ReferralCode: "alice"}, nil)
	refs.On("InsertOne", mock.Anything, mock.Anything).
		Return(&mocks.InsertOneResultHelper{}, nil)
	users.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))

	tracked, err := svc.TrackReferral(context.TODO(), "alice", "ext-1")

	assert.NoError(t, err)
	assert.True(t, tracked)
}

func TestReferralsForUser_JoinsReferredFields(t *testing.T) {
	svc, users, refs := newService()

	refs.On("Find", mock.Anything, bson.M{"referrer_id": "alice-id"}).
		Return([]models.Referral{
			{ID: "alice-id_ext-1", ReferrerID: "alice-id", ReferredID: "ext-1"},
			{ID: "alice-id_ext-2", ReferrerID: "alice-id", ReferredID: "ext-2"},
		}, nil)
	users.On("FindOne", mock.Anything, bson.M{"_id": "ext-1"}).
		Return(&models.User{ID: "ext-1", TwitterUsername: "first"}, nil)
	// the second referred user was deleted, the referral still comes back
	users.On("FindOne", mock.Anything, bson.M{"_id": "ext-2"}).
		Return(nil, databases.ErrNoDocuments)

	result, err := svc.ReferralsForUser(context.TODO(), "alice-id")

	assert.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, "first", result[0].Referred.TwitterUsername)
	assert.Nil(t, result[1].Referred)
}

func TestReferralsForUser_NoReferrals(t *testing.T) {
	svc, _, refs := newService()

	refs.On("Find", mock.Anything, bson.M{"referrer_id": "loner"}).
		Return(nil, nil)

	result, err := svc.ReferralsForUser(context.TODO(), "loner")

	assert.NoError(t, err)
	assert.NotNil(t, result)
	assert.Len(t, result, 0)
}

func TestReferrerForUser_NotReferred(t *testing.T) {
	svc, _, refs := newService()

	refs.On("FindOne", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(nil, databases.ErrNoDocuments)

	referrer, err := svc.ReferrerForUser(context.TODO(), "ext-1")

	assert.NoError(t, err)
	assert.Nil(t, referrer)
}

func TestReferrerForUser_Found(t *testing.T) {
	svc, users, refs := newService()

	refs.On("FindOne", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(&models.Referral{ID: "alice-id_ext-1", ReferrerID: "alice-id"}, nil)
	users.On("FindOne", mock.Anything, bson.M{"_id": "alice-id"}).
		Return(&models.User{ID: "alice-id", ReferralCode: "alice"}, nil)

	referrer, err := svc.ReferrerForUser(context.TODO(), "ext-1")

	assert.NoError(t, err)
	assert.Equal(t, "alice-id", referrer.ID)
}

func TestAddDummyReferral_ReferrerNotFound(t *testing.T) {
	svc, users, refs := newService()

	users.On("FindOne", mock.Anything, bson.M{"_id": "missing"}).
		Return(nil, databases.ErrNoDocuments)

	_, err := svc.AddDummyReferral(context.TODO(), "missing", "dummy", "")

	assert.ErrorIs(t, err, referrals.ErrReferrerNotFound)
	refs.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestAddDummyReferral_Success(t *testing.T) {
	svc, users, refs := newService()

	referrer := &models.User{ID: "alice-id", ReferralCode: "alice", InviteCount: 1}
	updated := &models.User{ID: "alice-id", ReferralCode: "alice", InviteCount: 2}

	users.On("FindOne", mock.Anything, bson.M{"_id": "alice-id"}).
		Return(referrer, nil).Once()
	users.On("InsertOne", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return strings.HasPrefix(u.ID, "dummy_") && strings.HasPrefix(u.ReferralCode, "DUMMY")
	})).Return(&mocks.InsertOneResultHelper{}, nil)
	refs.On("InsertOne", mock.Anything, mock.MatchedBy(func(r models.Referral) bool {
		return r.ReferrerID == "alice-id" && r.ReferralCode == "alice" &&
			r.Status == models.ReferralStatusCompleted
	})).Return(&mocks.InsertOneResultHelper{}, nil)
	users.On("UpdateOne", mock.Anything, bson.M{"_id": "alice-id"},
		bson.M{"$inc": bson.M{"invite_count": 1}}).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)
	users.On("FindOne", mock.Anything, bson.M{"_id": "alice-id"}).
		Return(updated, nil).Once()

	result, err := svc.AddDummyReferral(context.TODO(), "alice-id", "testuser", "https://pic")

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Referrer.InviteCount)
	assert.NotNil(t, result.DummyUser)
}

func TestRemoveReferral_Success(t *testing.T) {
	svc, users, refs := newService()

	refs.On("FindOne", mock.Anything, bson.M{"_id": "alice-id_ext-1"}).
		Return(&models.Referral{ID: "alice-id_ext-1", ReferrerID: "alice-id", ReferredID: "ext-1"}, nil)
	refs.On("DeleteOne", mock.Anything, bson.M{"_id": "alice-id_ext-1"}).
		Return(nil)
	users.On("UpdateOne", mock.Anything,
		bson.M{"_id": "alice-id", "invite_count": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"invite_count": -1}}).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	err := svc.RemoveReferral(context.TODO(), "alice-id", "ext-1")

	assert.NoError(t, err)
	refs.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestRemoveReferral_NotFound(t *testing.T) {
	svc, users, refs := newService()

	refs.On("FindOne", mock.Anything, bson.M{"_id": "alice-id_ext-9"}).
		Return(nil, databases.ErrNoDocuments)

	err := svc.RemoveReferral(context.TODO(), "alice-id", "ext-9")

	assert.ErrorIs(t, err, referrals.ErrReferralNotFound)
	refs.AssertNotCalled(t, "DeleteOne", mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveReferral_DecrementFailureStillSucceeds(t *testing.T) {
	svc, users, refs := newService()

	refs.On("FindOne", mock.Anything, bson.M{"_id": "alice-id_ext-1"}).
		Return(&models.Referral{ID: "alice-id_ext-1", ReferrerID: "alice-id", ReferredID: "ext-1"}, nil)
	refs.On("DeleteOne", mock.Anything, bson.M{"_id": "alice-id_ext-1"}).
		Return(nil)
	users.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))

	err := svc.RemoveReferral(context.TODO(), "alice-id", "ext-1")

	assert.NoError(t, err)
}

func TestGenesisUsersCount(t *testing.T) {
	svc, users, _ := newService()

	users.On("CountDocuments", mock.Anything, bson.M{"is_genesis": true}).
		Return(int64(42), nil)

	count, err := svc.GenesisUsersCount(context.TODO())

	assert.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestLeaderboard(t *testing.T) {
	svc, users, _ := newService()

	users.On("Find", mock.Anything, bson.M{"invite_count": bson.M{"$gt": 0}}, mock.Anything).
		Return([]models.User{
			{ID: "a", InviteCount: 9},
			{ID: "b", InviteCount: 4},
		}, nil)

	leaders, err := svc.Leaderboard(context.TODO(), 10)

	assert.NoError(t, err)
	assert.Len(t, leaders, 2)
	assert.Equal(t, "a", leaders[0].ID)
}

func TestTrackReferral_TwoDistinctReferralsIncrementTwice(t *testing.T) {
	svc, users, refs := newService()

	referrer := &models.User{ID: "alice-id", ReferralCode: "alice"}

	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-1"}).
		Return(int64(0), nil)
	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-2"}).
		Return(int64(0), nil).Once()
	users.On("FindOne", mock.Anything, bson.M{"referral_code": "alice"}).
		Return(referrer, nil)
	refs.On("InsertOne", mock.Anything, mock.Anything).
		Return(&mocks.InsertOneResultHelper{}, nil)
	users.On("UpdateOne", mock.Anything, bson.M{"_id": "alice-id"},
		bson.M{"$inc": bson.M{"invite_count": 1}}).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	tracked, err := svc.TrackReferral(context.TODO(), "alice", "ext-1")
	assert.NoError(t, err)
	assert.True(t, tracked)

	tracked, err = svc.TrackReferral(context.TODO(), "alice", "ext-2")
	assert.NoError(t, err)
	assert.True(t, tracked)

	// ext-2 is now referred, tracking them again is a no-op
	refs.On("CountDocuments", mock.Anything, bson.M{"referred_id": "ext-2"}).
		Return(int64(1), nil).Once()

	tracked, err = svc.TrackReferral(context.TODO(), "alice", "ext-2")
	assert.NoError(t, err)
	assert.False(t, tracked)

	users.AssertNumberOfCalls(t, "UpdateOne", 2)
	refs.AssertNumberOfCalls(t, "InsertOne", 2)
}

func TestReconcileInviteCounts(t *testing.T) {
	svc, users, refs := newService()

	cursor := &mocks.CursorHelper{}
	cursor.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		rows := args.Get(0).(*[]struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		})
		*rows = []struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}{
			{ID: "alice-id", Count: 5},
			{ID: "bob-id", Count: 2},
		}
	})

	refs.On("Aggregate", mock.Anything, mock.Anything).Return(cursor, nil)
	// alice's counter drifted, bob's already matches
	users.On("UpdateOne", mock.Anything,
		bson.M{"_id": "alice-id", "invite_count": bson.M{"$ne": 5}},
		bson.M{"$set": bson.M{"invite_count": 5}}).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)
	users.On("UpdateOne", mock.Anything,
		bson.M{"_id": "bob-id", "invite_count": bson.M{"$ne": 2}},
		bson.M{"$set": bson.M{"invite_count": 2}}).
		Return(&mongo.UpdateResult{ModifiedCount: 0}, nil)

	updated, err := svc.ReconcileInviteCounts(context.TODO())

	assert.NoError(t, err)
	assert.Equal(t, 1, updated)
}
