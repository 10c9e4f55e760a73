package referrals

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/databases"
	"github.com/tokenfight/tokenfight-api/models"
)

// maxCodeAttempts bounds the suffix loop when disambiguating a referral code.
// With a 0-999 suffix space a handful of retries is plenty.
const maxCodeAttempts = 10

// ErrReferrerNotFound is returned by AddDummyReferral when the target user
// does not exist.
var ErrReferrerNotFound = errors.New("referrer not found")

// ErrReferralNotFound is returned by RemoveReferral when no referral links
// the two users.
var ErrReferralNotFound = errors.New("referral not found")

// Service implements the referral business rules on top of the users and
// referrals collections. Uniqueness and at-most-one-referral checks are
// read-then-write and therefore best effort; the store offers no
// multi-document transactions in these paths.
type Service struct {
	Users     databases.UserDatabase
	Referrals databases.ReferralDatabase

	// GenesisCapacity is the size of the genesis cohort. New users are
	// flagged is_genesis while fewer than this many genesis users exist.
	GenesisCapacity int
}

// UpsertParams carries the createUser action payload. ReferralCode is the
// candidate code derived client-side from the display name; it is only used
// at first creation.
type UpsertParams struct {
	PrivyUserID       string `json:"privyUserId"`
	ReferralCode      string `json:"referralCode"`
	Email             string `json:"email,omitempty"`
	TwitterUsername   string `json:"twitterUsername,omitempty"`
	TwitterProfilePic string `json:"twitterProfilePic,omitempty"`
}

// DummyReferralResult is the addDummyReferral action response.
type DummyReferralResult struct {
	Success   bool         `json:"success"`
	DummyUser *models.User `json:"dummyUser"`
	Referrer  *models.User `json:"referrer"`
}

// UpsertUser creates or updates the user keyed by the Privy user ID.
// referral_code and is_genesis are written with $setOnInsert so repeated
// calls can never change them; profile fields are overwritten every time.
func (s *Service) UpsertUser(ctx context.Context, p UpsertParams) (*models.User, error) {
	if p.PrivyUserID == "" {
		return nil, errors.New("privy user id is required")
	}

	existing, err := s.Users.FindOne(ctx, bson.M{"_id": p.PrivyUserID})
	if err != nil && !errors.Is(err, databases.ErrNoDocuments) {
		return nil, err
	}

	set := bson.M{}
	if p.Email != "" {
		set["email"] = p.Email
	}
	if p.TwitterUsername != "" {
		set["twitter_username"] = p.TwitterUsername
	}
	if p.TwitterProfilePic != "" {
		set["twitter_profile_pic"] = p.TwitterProfilePic
	}

	if existing != nil {
		if len(set) > 0 {
			if _, err := s.Users.UpdateOne(ctx, bson.M{"_id": existing.ID}, bson.M{"$set": set}); err != nil {
				return nil, err
			}
		}
		return s.Users.FindOne(ctx, bson.M{"_id": existing.ID})
	}

	code, err := s.uniqueReferralCode(ctx, p.ReferralCode, p.PrivyUserID)
	if err != nil {
		return nil, err
	}

	isGenesis, err := s.genesisSpotAvailable(ctx)
	if err != nil {
		return nil, err
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"referral_code": code,
			"invite_count":  0,
			"is_genesis":    isGenesis,
			"created_at":    time.Now().UTC(),
		},
	}
	if len(set) > 0 {
		update["$set"] = set
	}
	if _, err := s.Users.UpdateOne(ctx, bson.M{"_id": p.PrivyUserID}, update, options.Update().SetUpsert(true)); err != nil {
		return nil, err
	}

	return s.Users.FindOne(ctx, bson.M{"_id": p.PrivyUserID})
}

// uniqueReferralCode resolves the requested code against the rest of the user
// base, appending a random numeric suffix until no other user holds it.
func (s *Service) uniqueReferralCode(ctx context.Context, requested, ownerID string) (string, error) {
	base := strings.TrimSpace(requested)
	if base == "" {
		base = "tf" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	}

	code := base
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		taken, err := s.Users.CountDocuments(ctx, bson.M{
			"referral_code": code,
			"_id":           bson.M{"$ne": ownerID},
		})
		if err != nil {
			return "", err
		}
		if taken == 0 {
			return code, nil
		}
		zap.S().Debugw("referral code already in use, generating variant", "code", code)
		code = fmt.Sprintf("%s_%d", base, rand.Intn(1000))
	}
	return "", fmt.Errorf("could not find a free referral code for %q", base)
}

// genesisSpotAvailable reports whether the genesis cohort still has capacity.
func (s *Service) genesisSpotAvailable(ctx context.Context) (bool, error) {
	if s.GenesisCapacity <= 0 {
		return false, nil
	}
	taken, err := s.Users.CountDocuments(ctx, bson.M{"is_genesis": true})
	if err != nil {
		return false, err
	}
	return taken < int64(s.GenesisCapacity), nil
}

// IsAlreadyReferred reports whether any referral names the user as referred.
func (s *Service) IsAlreadyReferred(ctx context.Context, userID string) (bool, error) {
	count, err := s.Referrals.CountDocuments(ctx, bson.M{"referred_id": userID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TrackReferral records that referredUserID signed up through referrerCode.
// It returns false, with no writes, when the user was already referred, the
// code matches no user, or the code belongs to the referred user themselves.
// The referral insert and the invite counter increment are two separate
// writes; a failure in between leaves the counter behind by one until the
// reconcile job trues it up.
func (s *Service) TrackReferral(ctx context.Context, referrerCode, referredUserID string) (bool, error) {
	if referrerCode == "" || referredUserID == "" {
		return false, nil
	}

	already, err := s.IsAlreadyReferred(ctx, referredUserID)
	if err != nil {
		return false, err
	}
	if already {
		zap.S().Debugw("user already referred, skipping", "userId", referredUserID)
		return false, nil
	}

	referrer, err := s.UserByReferralCode(ctx, referrerCode)
	if err != nil {
		return false, err
	}
	if referrer == nil {
		zap.S().Debugw("no user found for referral code", "code", referrerCode)
		return false, nil
	}

	// Codes are unique, so the code being the referred user's own means the
	// two sides are the same document.
	if referrer.ID == referredUserID {
		zap.S().Debugw("self-referral rejected", "userId", referredUserID)
		return false, nil
	}

	referral := models.Referral{
		ID:           fmt.Sprintf("%s_%s", referrer.ID, referredUserID),
		ReferrerID:   referrer.ID,
		ReferredID:   referredUserID,
		ReferralCode: referrerCode,
		Status:       models.ReferralStatusCompleted,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.Referrals.InsertOne(ctx, referral); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// lost the race with a concurrent request, the referral exists
			return false, nil
		}
		return false, err
	}

	if _, err := s.Users.UpdateOne(ctx, bson.M{"_id": referrer.ID}, bson.M{"$inc": bson.M{"invite_count": 1}}); err != nil {
		zap.S().Errorw("failed to increment invite count",
			"referrerId", referrer.ID,
			"error", err,
		)
		return true, nil
	}

	go s.notifyReferrer(*referrer, referredUserID)

	return true, nil
}

// ReferralsForUser returns the referrals the user is the referrer of, with
// the invited user's display fields joined in. One lookup per referral; fine
// at this data scale.
func (s *Service) ReferralsForUser(ctx context.Context, userID string) ([]models.Referral, error) {
	referrals, err := s.Referrals.Find(ctx, bson.M{"referrer_id": userID})
	if err != nil {
		return nil, err
	}

	for i := range referrals {
		referred, err := s.Users.FindOne(ctx, bson.M{"_id": referrals[i].ReferredID})
		if err != nil {
			if !errors.Is(err, databases.ErrNoDocuments) {
				return nil, err
			}
			zap.S().Debugw("referred user missing", "referredId", referrals[i].ReferredID)
			continue
		}
		referrals[i].Referred = &models.ReferredUser{
			UserID:            referred.ID,
			TwitterUsername:   referred.TwitterUsername,
			TwitterProfilePic: referred.TwitterProfilePic,
			Email:             referred.Email,
		}
	}

	if referrals == nil {
		referrals = []models.Referral{}
	}
	return referrals, nil
}

// UserByReferralCode returns the user holding the code, or nil when no user
// does. Codes are unique so at most one match exists.
func (s *Service) UserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	user, err := s.Users.FindOne(ctx, bson.M{"referral_code": code})
	if err != nil {
		if errors.Is(err, databases.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// UserByID returns the user document, or nil when it does not exist.
func (s *Service) UserByID(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.Users.FindOne(ctx, bson.M{"_id": userID})
	if err != nil {
		if errors.Is(err, databases.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ReferrerForUser returns the user who invited userID, or nil when nobody did.
func (s *Service) ReferrerForUser(ctx context.Context, userID string) (*models.User, error) {
	referral, err := s.Referrals.FindOne(ctx, bson.M{"referred_id": userID})
	if err != nil {
		if errors.Is(err, databases.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}

	referrer, err := s.Users.FindOne(ctx, bson.M{"_id": referral.ReferrerID})
	if err != nil {
		if errors.Is(err, databases.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return referrer, nil
}

// GenesisUsersCount counts the genesis cohort, for the landing page counter.
func (s *Service) GenesisUsersCount(ctx context.Context) (int64, error) {
	return s.Users.CountDocuments(ctx, bson.M{"is_genesis": true})
}

// Leaderboard returns the top referrers ordered by invite count.
func (s *Service) Leaderboard(ctx context.Context, limit int64) ([]models.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "invite_count", Value: -1}}).
		SetLimit(limit)
	users, err := s.Users.Find(ctx, bson.M{"invite_count": bson.M{"$gt": 0}}, opts)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// AddDummyReferral fabricates a referred user and a completed referral for
// the target user. Test tooling only; wired behind the admin routes.
func (s *Service) AddDummyReferral(ctx context.Context, userID, dummyUsername, dummyAvatar string) (*DummyReferralResult, error) {
	referrer, err := s.Users.FindOne(ctx, bson.M{"_id": userID})
	if err != nil {
		if errors.Is(err, databases.ErrNoDocuments) {
			return nil, ErrReferrerNotFound
		}
		return nil, err
	}

	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")
	dummy := models.User{
		ID:                fmt.Sprintf("dummy_%d_%s", time.Now().Unix(), rnd[:5]),
		ReferralCode:      "DUMMY" + strings.ToUpper(rnd[5:11]),
		TwitterUsername:   dummyUsername,
		TwitterProfilePic: dummyAvatar,
		CreatedAt:         time.Now().UTC(),
	}
	if _, err := s.Users.InsertOne(ctx, dummy); err != nil {
		return nil, err
	}

	referral := models.Referral{
		ID:           fmt.Sprintf("%s_%s", referrer.ID, dummy.ID),
		ReferrerID:   referrer.ID,
		ReferredID:   dummy.ID,
		ReferralCode: referrer.ReferralCode,
		Status:       models.ReferralStatusCompleted,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.Referrals.InsertOne(ctx, referral); err != nil {
		return nil, err
	}

	if _, err := s.Users.UpdateOne(ctx, bson.M{"_id": referrer.ID}, bson.M{"$inc": bson.M{"invite_count": 1}}); err != nil {
		zap.S().Errorw("failed to increment invite count", "referrerId", referrer.ID, "error", err)
	}

	updated, err := s.Users.FindOne(ctx, bson.M{"_id": referrer.ID})
	if err != nil {
		return nil, err
	}

	return &DummyReferralResult{
		Success:   true,
		DummyUser: &dummy,
		Referrer:  updated,
	}, nil
}

// RemoveReferral deletes the referral linking referrerID and referredID and
// walks the referrer's invite counter back by one. Cleanup counterpart of
// AddDummyReferral, wired behind the admin routes.
func (s *Service) RemoveReferral(ctx context.Context, referrerID, referredID string) error {
	id := fmt.Sprintf("%s_%s", referrerID, referredID)

	if _, err := s.Referrals.FindOne(ctx, bson.M{"_id": id}); err != nil {
		if errors.Is(err, databases.ErrNoDocuments) {
			return ErrReferralNotFound
		}
		return err
	}

	if err := s.Referrals.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return err
	}

	// counters never go negative; a failed decrement is left for the
	// reconcile job to true up
	if _, err := s.Users.UpdateOne(ctx,
		bson.M{"_id": referrerID, "invite_count": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"invite_count": -1}},
	); err != nil {
		zap.S().Errorw("failed to decrement invite count", "referrerId", referrerID, "error", err)
	}

	return nil
}

// ReconcileInviteCounts sets every referrer's invite_count to the number of
// referral documents naming them, closing the drift the non-transactional
// track path can leave behind. Returns how many counters moved.
func (s *Service) ReconcileInviteCounts(ctx context.Context) (int, error) {
	pipeline := []bson.M{
		{"$group": bson.M{
			"_id":   "$referrer_id",
			"count": bson.M{"$sum": 1},
		}},
	}
	cursor, err := s.Referrals.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}

	var rows []struct {
		ID    string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cursor.Decode(&rows); err != nil {
		return 0, err
	}

	updated := 0
	for _, row := range rows {
		res, err := s.Users.UpdateOne(ctx,
			bson.M{"_id": row.ID, "invite_count": bson.M{"$ne": row.Count}},
			bson.M{"$set": bson.M{"invite_count": row.Count}},
		)
		if err != nil {
			zap.S().Errorw("failed to reconcile invite count", "referrerId", row.ID, "error", err)
			continue
		}
		if res.ModifiedCount > 0 {
			zap.S().Infow("reconciled invite count", "referrerId", row.ID, "count", row.Count)
			updated++
		}
	}
	return updated, nil
}
