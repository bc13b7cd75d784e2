package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles user registration and authentication
type AuthService struct {
	DB     *db.DB
	Secret []byte
}

// NewAuthService creates a new auth service
func NewAuthService(database *db.DB, secret string) *AuthService {
	return &AuthService{DB: database, Secret: []byte(secret)}
}

// Register creates a new user with hashed password. The store creates
// the user's empty cash account in the same transaction.
func (s *AuthService) Register(ctx context.Context, fullName, username, email, password string) (*models.User, error) {
	if fullName == "" {
		return nil, fmt.Errorf("%w: full name cannot be empty", models.ErrInvalidArgument)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", models.ErrInvalidArgument)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", models.ErrInvalidArgument)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", models.ErrInvalidArgument)
	}
	if len(username) > 100 {
		return nil, fmt.Errorf("%w: username too long (max 100 characters)", models.ErrInvalidArgument)
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("%w: password too long (max 72 characters)", models.ErrInvalidArgument)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.DB.CreateUser(ctx, fullName, username, email, string(hashedPassword))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.DB.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts user ID from JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	})
	if err != nil {
		return 0, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(float64)
		if !ok {
			return 0, fmt.Errorf("invalid token claims")
		}
		return int(userID), nil
	}
	return 0, fmt.Errorf("invalid token")
}
