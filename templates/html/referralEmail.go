package templates

import (
	"fmt"
	"html"
)

// RenderReferralJoinedEmail generates branded HTML telling a referrer that
// someone signed up through their invite link.
func RenderReferralJoinedEmail(referrerName, referredName string, inviteCount int) string {
	safeReferrer := html.EscapeString(referrerName)
	if safeReferrer == "" {
		safeReferrer = "fighter"
	}
	safeReferred := html.EscapeString(referredName)

	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, minimum-scale=1, maximum-scale=1">
  <title>Your invite just landed</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; background-color: #0a0a0f; }
    .container { max-width: 600px; margin: 0 auto; background-color: #12121f; }
    .header { background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 40px 30px; text-align: center; }
    .header h1 { color: #fff; margin: 0; font-size: 24px; font-weight: 700; }
    .content { padding: 40px 30px; color: #e5e7eb; line-height: 1.6; font-size: 15px; }
    .stat { font-size: 32px; font-weight: 700; color: #667eea; text-align: center; padding: 10px 0; }
    .footer { padding: 30px; text-align: center; color: #6b7280; font-size: 12px; border-top: 1px solid rgba(255,255,255,0.1); }
    .footer a { color: #667eea; text-decoration: none; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>Your invite just landed</h1>
    </div>
    <div class="content">
      <p>Hey %s,</p>
      <p>%s just joined TokenFight with your invite link.</p>
      <div class="stat">%d invites</div>
      <p>Keep sharing your link to climb the leaderboard.</p>
    </div>
    <div class="footer">
      <p>&copy; TokenFight | <a href="https://tokenfight.lol">tokenfight.lol</a></p>
    </div>
  </div>
</body>
</html>`, safeReferrer, safeReferred, inviteCount)
}
