package sfmce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// getAccessToken retrieves a valid access token, using cache if available.
// Tokens are valid for 20 minutes; the cached copy is refreshed 30 seconds early.
func (s *Salesforce) getAccessToken(ctx context.Context) (string, error) {
	s.tokenCache.mu.RLock()
	if s.tokenCache.accessToken != "" && time.Now().Before(s.tokenCache.expiresAt) {
		token := s.tokenCache.accessToken
		s.tokenCache.mu.RUnlock()
		return token, nil
	}
	s.tokenCache.mu.RUnlock()

	s.tokenCache.mu.Lock()
	defer s.tokenCache.mu.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if s.tokenCache.accessToken != "" && time.Now().Before(s.tokenCache.expiresAt) {
		return s.tokenCache.accessToken, nil
	}

	s.logger.Info("Access token expired or not available, authenticating")
	authResp, err := s.Authenticate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}

	expiresIn := time.Duration(authResp.ExpiresIn) * time.Second
	if expiresIn == 0 {
		expiresIn = 20 * time.Minute
	}
	s.tokenCache.accessToken = authResp.AccessToken
	s.tokenCache.expiresAt = time.Now().Add(expiresIn - 30*time.Second)

	s.logger.Info("Successfully authenticated and cached access token",
		zap.Duration("expires_in", expiresIn),
		zap.Time("expires_at", s.tokenCache.expiresAt))

	return authResp.AccessToken, nil
}

// Authenticate retrieves an OAuth access token
func (s *Salesforce) Authenticate(ctx context.Context) (*AuthResponse, error) {
	url := fmt.Sprintf("%s/v2/token", s.config.AuthBaseURI)
	s.logger.Info("Authenticating with Salesforce", zap.String("url", url), zap.String("account_id", s.config.AccountID))

	authReq := AuthRequest{
		GrantType:    "client_credentials",
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		Scope:        s.config.Scope,
		AccountID:    s.config.AccountID,
	}

	resp, err := s.httpClient.Post(ctx, url, nil, authReq)
	if err != nil {
		s.logger.Error("Authentication request failed", zap.Error(err), zap.String("url", url))
		return nil, fmt.Errorf("authentication request failed: %w", err)
	}

	var authResp AuthResponse
	if err := json.Unmarshal(resp.Body, &authResp); err != nil {
		s.logger.Error("Failed to parse authentication response", zap.Error(err))
		return nil, fmt.Errorf("failed to parse authentication response: %w", err)
	}
	if authResp.AccessToken == "" {
		return nil, fmt.Errorf("authentication response did not contain an access token")
	}

	return &authResp, nil
}

// Ping verifies the credentials by obtaining (or reusing) an access token.
func (s *Salesforce) Ping(ctx context.Context) error {
	_, err := s.getAccessToken(ctx)
	return err
}

func (s *Salesforce) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := s.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}, nil
}
