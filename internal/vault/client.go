// Package vault reads encryption passphrases from HashiCorp Vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	api "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

// ErrClientInit indicates failure to initialize the Vault API client.
var ErrClientInit = errors.New("vault client initialization failed")

// ErrSecretNotFound is returned when a path or field holds no value.
var ErrSecretNotFound = errors.New("vault secret not found")

type Option func(*settings)

type settings struct {
	address  string
	token    string
	roleID   string
	roleName string
	secretID string
	timeout  time.Duration
}

func WithAddress(address string) Option {
	return func(s *settings) {
		if address != "" {
			s.address = address
		}
	}
}

func WithToken(token string) Option {
	return func(s *settings) {
		if token != "" {
			s.token = token
		}
	}
}

// WithAppRole logs in as roleID. The secret id is minted for roleName with
// the client's initial token unless WithSecretID supplies one.
func WithAppRole(roleID, roleName string) Option {
	return func(s *settings) {
		s.roleID = roleID
		s.roleName = roleName
	}
}

func WithSecretID(secretID string) Option {
	return func(s *settings) { s.secretID = secretID }
}

// WithTimeout bounds each HTTP request to Vault.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

type Client struct {
	api *api.Client
}

// NewClient builds a client from VAULT_ADDR and VAULT_TOKEN overridden by
// opts. With an AppRole configured it logs in before returning.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	s := settings{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}

	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, cfg.Error)
	}
	if s.address != "" {
		cfg.Address = s.address
	}
	cfg.Timeout = s.timeout

	raw, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}
	if s.token != "" {
		raw.SetToken(s.token)
	}

	c := &Client{api: raw}
	if s.roleID != "" && (s.roleName != "" || s.secretID != "") {
		if err := c.login(ctx, s); err != nil {
			return nil, fmt.Errorf("approle login: %w", err)
		}
	}
	return c, nil
}

func (c *Client) login(ctx context.Context, s settings) error {
	sid := s.secretID
	if sid == "" {
		var err error
		if sid, err = c.mintSecretID(ctx, s.roleName); err != nil {
			return err
		}
	}

	resp, err := c.api.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]any{
		"role_id":   s.roleID,
		"secret_id": sid,
	})
	if err != nil {
		return err
	}
	if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
		return errors.New("no client token in login response")
	}
	c.api.SetToken(resp.Auth.ClientToken)
	return nil
}

func (c *Client) mintSecretID(ctx context.Context, roleName string) (string, error) {
	path := fmt.Sprintf("auth/approle/role/%s/secret-id", roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return "", fmt.Errorf("mint secret id: %w", err)
	}
	var out struct {
		SecretID string `mapstructure:"secret_id"`
	}
	if resp != nil {
		_ = mapstructure.Decode(resp.Data, &out)
	}
	if out.SecretID == "" {
		return "", fmt.Errorf("no secret_id returned from %s", path)
	}
	return out.SecretID, nil
}

// kvV2 is the envelope KV version 2 wraps secret fields in.
type kvV2 struct {
	Data map[string]any `mapstructure:"data"`
}

// GetField reads one string field of the secret at path. Both KV v1 and KV
// v2 (fields nested under "data") layouts are accepted.
func (c *Client) GetField(ctx context.Context, path, field string) (string, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}
	return fieldFromData(secret.Data, path, field)
}

func fieldFromData(data map[string]any, path, field string) (string, error) {
	fields := data
	var envelope kvV2
	if err := mapstructure.Decode(data, &envelope); err == nil && envelope.Data != nil {
		fields = envelope.Data
	}

	var value string
	if err := mapstructure.Decode(fields[field], &value); err != nil {
		return "", fmt.Errorf("invalid data format at %s#%s: %w", path, field, err)
	}
	if value == "" {
		return "", fmt.Errorf("%w: %s#%s", ErrSecretNotFound, path, field)
	}
	return value, nil
}
