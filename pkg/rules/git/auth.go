package git

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Authentication types accepted by AuthConfig.Type.
const (
	AuthNone  = "none"
	AuthToken = "token"
	AuthSSH   = "ssh"
)

// AuthConfig selects how the rules repository is accessed.
type AuthConfig struct {
	// Type is one of "none", "token" or "ssh". Empty means none.
	Type string `yaml:"type"`

	// Token is the personal access token for HTTPS access.
	Token string `yaml:"token"`

	// SSHKeyPath points at a private key with no group or world permissions.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHPassphrase unlocks an encrypted key.
	SSHPassphrase string `yaml:"ssh_passphrase"`
}

// AuthProvider supplies transport credentials.
type AuthProvider interface {
	GetAuth() (transport.AuthMethod, error)
	Type() string
}

// TokenAuth authenticates over HTTPS with a token.
type TokenAuth struct {
	token string
}

// GetAuth returns basic auth using the token as the password.
func (a *TokenAuth) GetAuth() (transport.AuthMethod, error) {
	if a.token == "" {
		return nil, fmt.Errorf("token is empty")
	}
	// Hosting providers accept any username alongside a token.
	return &http.BasicAuth{Username: "git", Password: a.token}, nil
}

func (a *TokenAuth) Type() string { return AuthToken }

// SSHAuth authenticates with a private key file.
type SSHAuth struct {
	keyPath    string
	passphrase string
}

// GetAuth loads the key after checking its permissions.
func (a *SSHAuth) GetAuth() (transport.AuthMethod, error) {
	info, err := os.Stat(a.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat SSH key %s: %w", a.keyPath, err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("SSH key %s has insecure permissions %o, expected 0600", a.keyPath, info.Mode().Perm())
	}

	keys, err := ssh.NewPublicKeysFromFile("git", a.keyPath, a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	return keys, nil
}

func (a *SSHAuth) Type() string { return AuthSSH }

// NoAuth is used for public and local repositories.
type NoAuth struct{}

func (NoAuth) GetAuth() (transport.AuthMethod, error) { return nil, nil }

func (NoAuth) Type() string { return AuthNone }

// NewAuthProvider builds the provider for cfg.
func NewAuthProvider(cfg AuthConfig) (AuthProvider, error) {
	switch cfg.Type {
	case "", AuthNone:
		return NoAuth{}, nil
	case AuthToken:
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires a token")
		}
		return &TokenAuth{token: cfg.Token}, nil
	case AuthSSH:
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		return &SSHAuth{keyPath: cfg.SSHKeyPath, passphrase: cfg.SSHPassphrase}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
}
