package models

import "time"

// User holds the structure for the user collection in mongo. The document ID
// is the Privy user ID, so upserts keyed by the identity provider are a plain
// _id lookup.
type User struct {
	ID                string    `json:"id" bson:"_id"`
	ReferralCode      string    `json:"referral_code" bson:"referral_code" index:"unique"`
	InviteCount       int       `json:"invite_count" bson:"invite_count"`
	IsGenesis         bool      `json:"is_genesis" bson:"is_genesis"`
	Email             string    `json:"email,omitempty" bson:"email,omitempty"`
	TwitterUsername   string    `json:"twitter_username,omitempty" bson:"twitter_username,omitempty"`
	TwitterProfilePic string    `json:"twitter_profile_pic,omitempty" bson:"twitter_profile_pic,omitempty"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
}
