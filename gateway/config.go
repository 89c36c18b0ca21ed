package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultMaxPageSize = 5

// Config captures the gateway configuration loaded from YAML and
// environment variables. The env names mirror the dotenv surface of the
// hosted sample apps (PORT, CLIENT_ID, ...), so an existing .env works
// unchanged.
type Config struct {
	// Port the local HTTP listener binds to.
	Port string `yaml:"port"`
	// ClientID identifies this app at the authorization server.
	ClientID string `yaml:"client_id"`
	// ClientSecret is empty for public clients; when set, the token
	// endpoint is called with HTTP Basic auth instead of a client_id
	// body field.
	ClientSecret string `yaml:"client_secret"`
	// RedirectURI must match the one registered for the client.
	RedirectURI string `yaml:"redirect_uri"`
	// AuthDomain hosts the login UI and the /oauth2/token endpoint.
	AuthDomain string `yaml:"auth_domain"`
	// ManageAPIDomain hosts the site-management REST API.
	ManageAPIDomain string `yaml:"manage_api_domain"`
	// APIKey is sent as an Api-Key header on management calls when set.
	APIKey string `yaml:"api_key"`
	// BrokerDomain hosts the MQTT-over-WSS endpoint. Defaults to
	// ManageAPIDomain, which is where the platform exposes /mqtt.
	BrokerDomain string `yaml:"broker_domain"`
}

// LoadConfig reads the optional YAML file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.BrokerDomain == "" {
		cfg.BrokerDomain = cfg.ManageAPIDomain
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"PORT":              func(v string) { cfg.Port = v },
		"CLIENT_ID":         func(v string) { cfg.ClientID = v },
		"CLIENT_SECRET":     func(v string) { cfg.ClientSecret = v },
		"REDIRECT_URI":      func(v string) { cfg.RedirectURI = v },
		"AUTH_DOMAIN":       func(v string) { cfg.AuthDomain = v },
		"MANAGE_API_DOMAIN": func(v string) { cfg.ManageAPIDomain = v },
		"API_KEY":           func(v string) { cfg.APIKey = v },
		"BROKER_DOMAIN":     func(v string) { cfg.BrokerDomain = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			fn(val)
		}
	}
}

// Validate checks the required settings. A gateway that cannot reach the
// authorization server or the management API is not worth starting.
func (c Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"port (PORT)", c.Port},
		{"client_id (CLIENT_ID)", c.ClientID},
		{"redirect_uri (REDIRECT_URI)", c.RedirectURI},
		{"auth_domain (AUTH_DOMAIN)", c.AuthDomain},
		{"manage_api_domain (MANAGE_API_DOMAIN)", c.ManageAPIDomain},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if !strings.HasPrefix(c.RedirectURI, "http://") && !strings.HasPrefix(c.RedirectURI, "https://") {
		return fmt.Errorf("redirect_uri must start with http:// or https://, got: %s", c.RedirectURI)
	}
	for _, domain := range []string{c.AuthDomain, c.ManageAPIDomain, c.BrokerDomain} {
		if strings.Contains(domain, "://") {
			return errors.New("domains must be bare hostnames, without a scheme")
		}
	}

	return nil
}

// ListenAddr returns the local bind address derived from Port.
func (c Config) ListenAddr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
