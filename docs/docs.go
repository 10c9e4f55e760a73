// Package docs TokenFight Referral API.
//
// Documentation of the TokenFight referral API.
//
//	Schemes: https
//	BasePath: /
//	Version: 1.0.0
//	Host: https://api.tokenfight.lol
//
//	Consumes:
//	- application/json
//
//	Produces:
//	- application/json
//
//	Security:
//	- basic
//
//	SecurityDefinitions:
//	basic:
//	  type: basic
//
// swagger:meta
package docs

import (
	"github.com/tokenfight/tokenfight-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route GET /api/v1/user/{user_id} user userByID
// Gets a single user by their Privy user ID.
// responses:
//   200: userResponse

// Shows a single user by the given {user_id}
// swagger:response userResponse
type userResponseWrapper struct {
	// in:body
	Body models.User
}

// swagger:route GET /api/v1/user/{user_id}/referrals referral referralsByUser
// Lists the referrals the user is the referrer of.
// responses:
//   200: referralsResponse

// The referrals with the invited user's display fields joined in
// swagger:response referralsResponse
type referralsResponseWrapper struct {
	// in:body
	Body []models.Referral
}
