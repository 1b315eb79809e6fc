package service

import (
	"context"
	"errors"
	"fmt"

	appErr "ownide/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// UserInfo is the identity carried by a valid access token.
type UserInfo struct {
	ID   string
	Role string
}

// AuthService validates bearer tokens issued by the account service.
type AuthService struct {
	jwtSecret []byte
	jwtIssuer string
}

func NewAuthService(jwtSecret, jwtIssuer string) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		jwtIssuer: jwtIssuer,
	}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

func (s *AuthService) Authenticate(ctx context.Context, raw string) (UserInfo, error) {
	if raw == "" {
		return UserInfo{}, appErr.New(appErr.TokenInvalid)
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{ID: claims.Subject, Role: claims.Role}, nil
}

// OptionalAuthenticate never fails: any problem with the token means anonymous.
func (s *AuthService) OptionalAuthenticate(ctx context.Context, raw string) (UserInfo, bool) {
	if s == nil || raw == "" {
		return UserInfo{}, false
	}
	info, err := s.Authenticate(ctx, raw)
	if err != nil {
		return UserInfo{}, false
	}
	return info, true
}

func (s *AuthService) parseToken(raw string) (*tokenClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErr.New(appErr.TokenExpired)
		}
		return nil, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if s.jwtIssuer != "" && claims.Issuer != s.jwtIssuer {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if claims.Subject == "" {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	return claims, nil
}
