package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"backend/models"
)

// AuthService exchanges short-lived single-use codes, minted by the main
// application after login, for session tokens the socket endpoints accept.
type AuthService struct {
	codes *models.ExchangeCodeStore
}

func NewAuthService(codes *models.ExchangeCodeStore) *AuthService {
	return &AuthService{codes: codes}
}

// Exchange handles POST /auth/exchange. A code redeems exactly once; a
// second attempt fails even inside the validity window.
func (s *AuthService) Exchange(c *gin.Context) {
	var body struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": "code is required"})
		return
	}

	identity, err := s.codes.Redeem(c.Request.Context(), body.Code)
	if err != nil {
		log.Printf("AuthService: Exchange: error redeeming code: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"status": "nok", "message": "invalid, expired or already used code"})
		return
	}

	token := models.CreateSessionToken(identity)
	if token == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "nok", "message": "could not create session token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"token":       token,
		"userId":      identity.UserId,
		"email":       identity.Email,
		"role":        identity.Role,
		"franchiseId": identity.FranchiseId,
		"message":     "code exchanged",
	})
}
