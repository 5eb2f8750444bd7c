// Package sfmce provides a client for the Salesforce Marketing Cloud Engagement (MCE) REST API.
//
// Only the calls needed to inventory and remove folders and data extensions
// are implemented: folder listing, data extension listing with pagination,
// field and row count lookups, dependent object discovery and deletes.
// Authentication uses the client-credentials grant and the access token is
// cached until shortly before it expires.
package sfmce

import (
	"errors"
	"sync"
	"time"

	httpclient "github.com/natserract/sfclean/pkg/http"
	"go.uber.org/zap"
)

// Config holds the installed package credentials for one business unit.
type Config struct {
	AuthBaseURI  string
	RestBaseURI  string
	ClientID     string
	ClientSecret string
	Scope        string
	AccountID    string
}

// Validate checks that every credential needed to authenticate is present.
func (c *Config) Validate() error {
	if c.AuthBaseURI == "" {
		return errors.New("MCE_AUTH_BASE_URI is required")
	}
	if c.RestBaseURI == "" {
		return errors.New("MCE_REST_BASE_URI is required")
	}
	if c.ClientID == "" {
		return errors.New("MCE_CLIENT_ID is required")
	}
	if c.ClientSecret == "" {
		return errors.New("MCE_CLIENT_SECRET is required")
	}
	if c.AccountID == "" {
		return errors.New("MCE_ACCOUNT_ID is required")
	}
	return nil
}

// Salesforce is the main client for interacting with Salesforce Marketing Cloud API
type Salesforce struct {
	config     *Config
	httpClient *httpclient.Client
	tokenCache *tokenCache
	logger     *zap.Logger
	pageSize   int
}

// tokenCache manages the OAuth access token with thread-safe access
type tokenCache struct {
	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

// NewSalesforceWithLogger creates a new Salesforce client with a custom logger
func NewSalesforceWithLogger(cfg *Config, logger *zap.Logger) *Salesforce {
	return NewSalesforceWithHTTPClient(cfg, httpclient.NewClientWithLogger(logger), logger)
}

// NewSalesforceWithHTTPClient creates a client on top of an existing transport.
func NewSalesforceWithHTTPClient(cfg *Config, hc *httpclient.Client, logger *zap.Logger) *Salesforce {
	return &Salesforce{
		config:     cfg,
		httpClient: hc,
		tokenCache: &tokenCache{},
		logger:     logger,
		pageSize:   96,
	}
}

// Tenant returns the business unit (MID) the client acts on.
func (s *Salesforce) Tenant() string {
	return s.config.AccountID
}
