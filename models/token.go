package models

import (
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"backend/entities"
	"backend/utils"
)

// Claims is the JWT payload issued after a successful code exchange.
type Claims struct {
	UserId      string `json:"userId"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	FranchiseId string `json:"franchiseId"`
	jwt.RegisteredClaims
}

// CreateSessionToken creates the JWT session token for a verified identity.
func CreateSessionToken(identity entities.Identity) string {
	secretKey, err := utils.GetEnvVariable("SecretKey")
	if err != nil {
		log.Printf("Token: CreateSessionToken: Error retrieving the secret key: %v", err)
		return ""
	}

	claims := &Claims{
		UserId:      identity.UserId.String(),
		Email:       identity.Email,
		Role:        identity.Role,
		FranchiseId: identity.FranchiseId.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			Issuer:    "TeamHub",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(secretKey))
	if err != nil {
		log.Println("Token: CreateSessionToken: Error generating the token: ", err)
		return ""
	}
	return signedToken
}

// ValidateSessionToken validates a JWT token and returns the identity it
// carries.
func ValidateSessionToken(tokenStr string) (entities.Identity, error) {
	secretKey, err := utils.GetEnvVariable("SecretKey")
	if err != nil {
		return entities.Identity{}, fmt.Errorf("Token: ValidateSessionToken: error retrieving the secret key: %v", err)
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("Token: ValidateSessionToken: unexpected signing method in token: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return entities.Identity{}, fmt.Errorf("Token: ValidateSessionToken: error parsing the token: %v", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return entities.Identity{}, fmt.Errorf("Token: ValidateSessionToken: invalid token")
	}
	if claims.ExpiresAt.Time.Before(time.Now()) {
		return entities.Identity{}, fmt.Errorf("Token: ValidateSessionToken: the token has expired")
	}

	userId, err := uuid.Parse(claims.UserId)
	if err != nil {
		return entities.Identity{}, fmt.Errorf("Token: ValidateSessionToken: invalid userId claim: %v", err)
	}
	franchiseId, _ := uuid.Parse(claims.FranchiseId)

	return entities.Identity{
		UserId:      userId,
		Email:       claims.Email,
		Role:        claims.Role,
		FranchiseId: franchiseId,
	}, nil
}
