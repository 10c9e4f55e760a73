package referrals

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/models"
	templates "github.com/tokenfight/tokenfight-api/templates/html"
)

// notifyReferrer emails the referrer that someone joined with their code.
// Fire and forget: runs in its own goroutine, skipped entirely when sendgrid
// is not configured or the referrer has no email on file.
func (s *Service) notifyReferrer(referrer models.User, referredUserID string) {
	if os.Getenv("SENDGRID_API_KEY") == "" || referrer.Email == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	referredName := "A new fighter"
	if referred, err := s.Users.FindOne(ctx, bson.M{"_id": referredUserID}); err == nil && referred.TwitterUsername != "" {
		referredName = "@" + referred.TwitterUsername
	}

	subject := "Your invite just landed - TokenFight"
	htmlContent := templates.RenderReferralJoinedEmail(referrer.TwitterUsername, referredName, referrer.InviteCount+1)
	plainText := fmt.Sprintf("%s just joined TokenFight with your invite link.", referredName)

	if err := sendEmail(referrer.Email, referrer.TwitterUsername, subject, htmlContent, plainText); err != nil {
		zap.S().Errorw("failed to send referral email",
			"referrerId", referrer.ID,
			"error", err,
		)
	}
}

func sendEmail(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail("TokenFight", "no-reply@tokenfight.lol")
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
	}
	return nil
}
