package models

import "time"

// Referral status values. Every referral is written as completed; pending
// exists for older documents and future flows that confirm asynchronously.
const (
	ReferralStatusPending   = "pending"
	ReferralStatusCompleted = "completed"
)

// Referral holds the structure for the referral collection in mongo. The
// document ID is "<referrerID>_<referredID>" so a referred user can only ever
// produce one document per referrer.
type Referral struct {
	ID           string        `json:"id" bson:"_id"`
	ReferrerID   string        `json:"referrer_id" bson:"referrer_id"`
	ReferredID   string        `json:"referred_id" bson:"referred_id"`
	ReferralCode string        `json:"referral_code" bson:"referral_code"`
	Status       string        `json:"status" bson:"status"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	Referred     *ReferredUser `json:"referred,omitempty" bson:"-"`
}

// ReferredUser carries the display fields of the invited user, joined in by
// the service when listing referrals. Never persisted on the referral doc.
type ReferredUser struct {
	UserID            string `json:"user_id"`
	TwitterUsername   string `json:"twitter_username,omitempty"`
	TwitterProfilePic string `json:"twitter_profile_pic,omitempty"`
	Email             string `json:"email,omitempty"`
}
