package jwttoken

import (
	adminmw "trackgate/pkg/platform/middleware/admin"
)

func ToMiddlewareClaims(claims *Claims) *adminmw.Claims {
	return &adminmw.Claims{
		Subject: claims.Subject,
		Role:    claims.Role,
	}
}

// JWTServiceAdapter exposes JWTService through the admin middleware's validator interface.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*adminmw.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
