package handler

import (
	"time"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// --- Domain → Response ---

type accountResponse struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	ProfilePicture *string    `json:"profile_picture"`
	Role           string     `json:"role"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at"`
}

type sessionResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	TokenType    string          `json:"token_type"`
	Account      accountResponse `json:"account"`
}

type accountPageResponse struct {
	Items      []accountResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

func toAccountResponse(a domain.AccountSummary) accountResponse {
	return accountResponse{
		ID:             a.ID.String(),
		Username:       a.Username,
		Email:          a.Email,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		ProfilePicture: a.ProfilePicture,
		Role:           a.Role,
		CreatedAt:      a.CreatedAt,
		LastLoginAt:    a.LastLoginAt,
	}
}

func toSessionResponse(b *domain.SessionBundle) sessionResponse {
	return sessionResponse{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		ExpiresAt:    b.ExpiresAt,
		TokenType:    b.TokenType,
		Account:      toAccountResponse(b.Account),
	}
}

func toAccountPageResponse(p *domain.Page[domain.AccountSummary]) accountPageResponse {
	items := make([]accountResponse, 0, len(p.Items))
	for _, a := range p.Items {
		items = append(items, toAccountResponse(a))
	}
	return accountPageResponse{
		Items:      items,
		Total:      p.Total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages,
	}
}
