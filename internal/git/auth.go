package git

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	appcfg "git.home.luguber.info/inful/matrixci/internal/config"
)

// createAuth returns a go-git AuthMethod for the given AuthConfig.
func createAuth(authCfg *appcfg.AuthConfig) (transport.AuthMethod, error) {
	if authCfg == nil {
		return nil, nil
	}

	switch authCfg.Type {
	case "", "none":
		return nil, nil
	case "token":
		if authCfg.Token == "" {
			return nil, fmt.Errorf("token authentication requires a token")
		}
		// Most Git hosting services use "token" as the username for token auth
		return &http.BasicAuth{Username: "token", Password: authCfg.Token}, nil
	case "basic":
		if authCfg.Username == "" || authCfg.Password == "" {
			return nil, fmt.Errorf("basic authentication requires username and password")
		}
		return &http.BasicAuth{Username: authCfg.Username, Password: authCfg.Password}, nil
	case "ssh":
		keyPath := authCfg.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		publicKeys, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
		}
		return publicKeys, nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", authCfg.Type)
	}
}
