package git

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/systmms/vaultops/internal/config"
	"github.com/systmms/vaultops/internal/logging"
)

// DefaultBranch receives every environment without an explicit mapping.
const DefaultBranch = "ct-dev"

var branches = map[string]string{
	"dev":  "ct-dev",
	"uat":  "ct-uat",
	"prod": "ct-prod",
}

// BranchFor maps a deployment environment to its configuration branch.
// Matching is case-insensitive; unknown environments land on DefaultBranch.
func BranchFor(env string) string {
	if b, ok := branches[strings.ToLower(strings.TrimSpace(env))]; ok {
		return b
	}
	return DefaultBranch
}

// AuthURL embeds the identity's credentials into an HTTPS remote URL.
// Other remotes, including scp-style git@host:org/repo.git, and identities
// without both a username and a token are returned unchanged.
func AuthURL(id config.GitConfig) (string, error) {
	if !strings.HasPrefix(strings.ToLower(id.URL), "https://") || id.Username == "" || id.Token == "" {
		return id.URL, nil
	}
	u, err := url.Parse(id.URL)
	if err != nil {
		return "", fmt.Errorf("invalid git repository URL: %s", logging.Redact(err.Error(), []string{id.Token}))
	}
	u.User = url.UserPassword(id.Username, id.Token)
	return u.String(), nil
}
