package auth

import (
	"fmt"
	"strings"
)

// Environment selects which Mercury API deployment credentials belong to.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// ParseEnvironment normalizes a configured environment name. Empty means production.
func ParseEnvironment(value string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "production", "prod", "live":
		return EnvironmentProduction, nil
	case "sandbox", "test":
		return EnvironmentSandbox, nil
	default:
		return "", fmt.Errorf("unsupported mercury environment: %s", value)
	}
}

// Credentials are the Mercury API credentials of a trigger instance.
type Credentials struct {
	AccessToken string
	Environment Environment
}

// Empty reports whether no access token is present.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.AccessToken) == ""
}

// String never includes the access token.
func (c Credentials) String() string {
	token := "<none>"
	if !c.Empty() {
		token = "<redacted>"
	}
	return fmt.Sprintf("mercury(%s token=%s)", c.Environment, token)
}

// Config contains Mercury credential configuration, keyed by environment.
type Config struct {
	Environment string `yaml:"environment"`
	AccessToken string `yaml:"access_token"`

	// SandboxAccessToken is used for subscriptions created against the sandbox
	// when the primary environment is production.
	SandboxAccessToken string `yaml:"sandbox_access_token"`
}
