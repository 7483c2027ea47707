package keycloak

// TokenResponse — ответ token endpoint.
type TokenResponse struct {
	AccessToken      string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
}

// OAuthError — тело ошибки token endpoint (RFC 6749, 5.2).
type OAuthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// RealmRepresentation — публичная информация о realm.
type RealmRepresentation struct {
	Realm     string `json:"realm"`
	PublicKey string `json:"public_key,omitempty"`
}
