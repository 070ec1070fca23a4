package authapi

import "invoicechat/cmd/internal/credential"

// bundleRequest is the client-held bundle. realmId is accepted as an alias of tenantId.
type bundleRequest struct {
	AccessToken  string                `json:"accessToken"`
	RefreshToken string                `json:"refreshToken"`
	TenantID     string                `json:"tenantId"`
	RealmID      string                `json:"realmId"`
	ExpiresAt    *credential.Timestamp `json:"expiresAt"`
}

func (r bundleRequest) tenant() string {
	if r.TenantID != "" {
		return r.TenantID
	}
	return r.RealmID
}

type validateResponse struct {
	Valid           bool                  `json:"valid"`
	Message         string                `json:"message"`
	NeedsAuth       bool                  `json:"needsAuth,omitempty"`
	NeedsRefresh    bool                  `json:"needsRefresh,omitempty"`
	HasRefreshToken *bool                 `json:"hasRefreshToken,omitempty"`
	TenantID        string                `json:"tenantId,omitempty"`
	ExpiresAt       *credential.Timestamp `json:"expiresAt,omitempty"`
}

type refreshResponse struct {
	Success      bool                  `json:"success"`
	Message      string                `json:"message"`
	AccessToken  string                `json:"accessToken,omitempty"`
	RefreshToken string                `json:"refreshToken,omitempty"`
	TenantID     string                `json:"tenantId,omitempty"`
	ExpiresAt    *credential.Timestamp `json:"expiresAt,omitempty"`
	Error        string                `json:"error,omitempty"`
}

type statusResponse struct {
	Connected bool                  `json:"connected"`
	Valid     bool                  `json:"valid"`
	TenantID  string                `json:"tenantId,omitempty"`
	ExpiresAt *credential.Timestamp `json:"expiresAt,omitempty"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
