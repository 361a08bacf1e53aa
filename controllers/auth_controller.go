package controller

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"mailpilot/config"
	"mailpilot/models"
	"mailpilot/utils"
)

type AuthController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewAuthController(db *gorm.DB, logger *log.Logger) *AuthController {
	return &AuthController{DB: db, Logger: logger}
}

func oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config.AppConfig.Google.ClientID,
		ClientSecret: config.AppConfig.Google.ClientSecret,
		RedirectURL:  config.AppConfig.Google.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			"openid", "email", "profile",
			gmailv1.GmailReadonlyScope, gmailv1.GmailSendScope,
		},
	}
}

// GoogleOAuth redirects to Google's consent screen. offline access is
// required so the background jobs keep a refresh token.
func (ac *AuthController) GoogleOAuth(c *fiber.Ctx) error {
	url := oauthConfig().AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

func (ac *AuthController) GoogleOAuthCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing authorization code"})
	}

	token, err := oauthConfig().Exchange(c.Context(), code)
	if err != nil {
		utils.LogError("oauth_exchange", err, nil)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to exchange authorization code"})
	}

	email, name, err := fetchProfile(c, token)
	if err != nil {
		utils.LogError("oauth_profile", err, nil)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to fetch Google profile"})
	}

	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store credentials"})
	}

	var user models.User
	err = ac.DB.Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		if uerr := ac.DB.Model(&user).Updates(map[string]interface{}{
			"gmail_token": string(tokenJSON),
			"provider":    "gmail",
			"is_active":   true,
		}).Error; uerr != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update account"})
		}
	case err == gorm.ErrRecordNotFound:
		user = models.User{
			Email:      email,
			Name:       &name,
			Provider:   "gmail",
			GmailToken: string(tokenJSON),
			Timezone:   config.AppConfig.Timezone,
			IsActive:   true,
		}
		if cerr := ac.DB.Create(&user).Error; cerr != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create account"})
		}
		ac.Logger.Printf("Created account for %s", email)
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to look up account"})
	}

	accessToken, refreshToken, err := utils.GenerateJWTToken(&user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue session"})
	}
	ac.DB.Create(&models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	})

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return c.JSON(fiber.Map{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// fetchProfile reads the account's address from the Gmail profile endpoint,
// which the granted scopes already cover.
func fetchProfile(c *fiber.Ctx, token *oauth2.Token) (email, name string, err error) {
	svc, err := gmailv1.NewService(c.Context(),
		option.WithTokenSource(oauthConfig().TokenSource(c.Context(), token)))
	if err != nil {
		return "", "", err
	}
	profile, err := svc.Users.GetProfile("me").Do()
	if err != nil {
		return "", "", err
	}
	return profile.EmailAddress, models.ExtractName(profile.EmailAddress), nil
}

func (ac *AuthController) RefreshToken(c *fiber.Ctx) error {
	var input struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var stored models.RefreshToken
	if err := ac.DB.Where("token = ? AND revoked = ?", input.RefreshToken, false).First(&stored).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid refresh token"})
	}
	if time.Now().After(stored.ExpiresAt) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Refresh token expired"})
	}

	accessToken, refreshToken, err := utils.RefreshTokens(input.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	ac.DB.Model(&stored).Update("revoked", true)
	ac.DB.Create(&models.RefreshToken{
		UserID:    stored.UserID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	})
	return c.JSON(fiber.Map{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

func (ac *AuthController) GetCurrentUser(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	return c.JSON(user)
}

// Logout bumps the token version, invalidating every outstanding JWT.
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if err := ac.DB.Model(user).Update("token_version", user.TokenVersion+1).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to log out"})
	}
	ac.DB.Model(&models.RefreshToken{}).Where("user_id = ?", user.ID).Update("revoked", true)

	c.ClearCookie("access_token")
	return c.JSON(fiber.Map{"message": "Logged out"})
}
