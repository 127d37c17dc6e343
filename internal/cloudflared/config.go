// Package cloudflared manages the in-cluster cloudflared connector workload
// for a ClusterTunnel: the credentials Secret, the rendered config ConfigMap,
// and the Deployment running the connector.
package cloudflared

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflare"
)

const (
	// CredentialsKey is the Secret key holding the connector credentials JSON.
	CredentialsKey = "credentials.json"

	// ConfigKey is the ConfigMap key holding the rendered cloudflared config.
	ConfigKey = "config.yaml"

	// CredentialsPath is where the connector reads its credentials.
	CredentialsPath = "/credentials/credentials.json"

	// ConfigPath is where the connector reads its configuration.
	ConfigPath = "/config/config.yaml"
)

// Credentials is the connector registration file cloudflared expects,
// PascalCase keys included.
type Credentials struct {
	AccountTag   string `json:"AccountTag"`
	TunnelSecret string `json:"TunnelSecret"`
	TunnelID     string `json:"TunnelID"`
}

// MarshalCredentials renders the credentials file content.
func MarshalCredentials(creds Credentials) ([]byte, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, errors.Wrap(err, "marshal tunnel credentials")
	}

	return raw, nil
}

// ParseCredentials reads a credentials file back.
func ParseCredentials(raw []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, errors.Wrap(err, "parse tunnel credentials")
	}

	if creds.TunnelID == "" || creds.TunnelSecret == "" {
		return Credentials{}, errors.New("tunnel credentials incomplete")
	}

	return creds, nil
}

// Config is the cloudflared configuration file. Ingress rules are evaluated
// in order with the catch-all last, mirroring the remote tunnel configuration.
type Config struct {
	Tunnel          string                   `json:"tunnel"`
	CredentialsFile string                   `json:"credentials-file"`
	Ingress         []cloudflare.IngressRule `json:"ingress"`
}

// NewConfig builds the connector configuration for a tunnel and rule set.
func NewConfig(tunnelID string, rules []cloudflare.IngressRule) Config {
	if len(rules) == 0 {
		rules = []cloudflare.IngressRule{{Service: cloudflare.CatchAllService}}
	}

	return Config{
		Tunnel:          tunnelID,
		CredentialsFile: CredentialsPath,
		Ingress:         rules,
	}
}

// Render marshals the configuration to YAML and returns it with its hash.
// The hash lands in the pod template annotation so a config change rolls the
// Deployment.
func (c Config) Render() (content []byte, hash string, err error) {
	content, err = yaml.Marshal(c)
	if err != nil {
		return nil, "", errors.Wrap(err, "marshal cloudflared config")
	}

	sum := sha256.Sum256(content)

	return content, hex.EncodeToString(sum[:]), nil
}
