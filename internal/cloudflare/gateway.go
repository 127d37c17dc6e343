// Package cloudflare is the narrow gateway to the Cloudflare API surface the
// operator needs: tunnel CRUD, tunnel-configuration replacement and DNS
// record CRUD. All remote errors are classified here (see errors.go) so the
// reconciler only ever branches on the sentinel classes.
package cloudflare

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	cf "github.com/cloudflare/cloudflare-go/v6"
	"github.com/cloudflare/cloudflare-go/v6/dns"
	"github.com/cloudflare/cloudflare-go/v6/option"
	"github.com/cloudflare/cloudflare-go/v6/zero_trust"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/credentials"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/metrics"
)

const (
	// TunnelDomain is the apex under which Cloudflare exposes tunnel CNAMEs.
	TunnelDomain = "cfargotunnel.com"

	// CatchAllService terminates every tunnel ingress rule list.
	CatchAllService = "http_status:404"

	// callTimeout bounds every remote call. Exceeding it classifies as
	// transient and the reconciler requeues with backoff.
	callTimeout = 30 * time.Second

	tunnelSecretLen = 32
)

// IngressRule is one hostname-to-service mapping in a tunnel configuration.
// Rules are evaluated in order; the terminal rule has an empty hostname.
type IngressRule struct {
	Hostname string `json:"hostname,omitempty"`
	Path     string `json:"path,omitempty"`
	Service  string `json:"service"`
}

// IsCatchAll reports whether the rule is the terminal catch-all.
func (r IngressRule) IsCatchAll() bool {
	return r.Hostname == ""
}

// TunnelHandle identifies a remote tunnel. Secret is only populated when the
// tunnel was created by this call; fetching an existing tunnel never returns
// its secret.
type TunnelHandle struct {
	ID      string
	Secret  string
	Created bool
}

// DNSRecord is the slice of a zone record the gateway cares about.
type DNSRecord struct {
	ID       string
	Hostname string
	Target   string
}

// Gateway abstracts the Cloudflare API for the reconciler. All operations are
// idempotent: EnsureTunnel is create-or-fetch by name, EnsureDNSRecord is
// create-or-update-or-noop, deletes tolerate already-gone resources.
type Gateway interface {
	EnsureTunnel(ctx context.Context, name, presetSecret string) (TunnelHandle, error)
	FindTunnel(ctx context.Context, name string) (string, error)
	PutConfiguration(ctx context.Context, tunnelID string, rules []IngressRule) error
	EnsureDNSRecord(ctx context.Context, hostname, target string) error
	DeleteDNSRecord(ctx context.Context, hostname string) error
	ListManagedHostnames(ctx context.Context, tunnelID string) ([]string, error)
	DeleteTunnel(ctx context.Context, tunnelID string) error
}

// client implements Gateway over cloudflare-go.
type client struct {
	api       *cf.Client
	accountID string
	zoneID    string
	metrics   metrics.Collector
}

// NewGateway builds a Gateway bound to one account and zone, authenticated
// with the resolved ClusterTunnel credentials. Extra request options are
// appended after the credential options; tests use this to swap the base URL.
func NewGateway(creds credentials.Credentials, accountID, zoneID string, m metrics.Collector,
	extra ...option.RequestOption,
) Gateway {
	var opts []option.RequestOption
	if creds.APIToken != "" {
		opts = append(opts, option.WithAPIToken(creds.APIToken))
	} else {
		opts = append(opts, option.WithAPIKey(creds.APIKey), option.WithAPIEmail(creds.Email))
	}

	opts = append(opts, extra...)

	return &client{
		api:       cf.NewClient(opts...),
		accountID: accountID,
		zoneID:    zoneID,
		metrics:   m,
	}
}

// EnsureTunnel returns the existing non-deleted tunnel with the given name,
// creating it when absent. The name is the external idempotency key: the
// ClusterTunnel may be deleted and recreated without minting a duplicate
// remote tunnel. A non-empty presetSecret is used for the create; otherwise a
// random one is generated.
func (c *client) EnsureTunnel(ctx context.Context, name, presetSecret string) (TunnelHandle, error) {
	existingID, err := c.FindTunnel(ctx, name)
	if err != nil {
		return TunnelHandle{}, err
	}

	if existingID != "" {
		return TunnelHandle{ID: existingID}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	secret := presetSecret
	if secret == "" {
		secret, err = newTunnelSecret()
		if err != nil {
			return TunnelHandle{}, err
		}
	}

	startTime := time.Now()

	tunnel, err := c.api.ZeroTrust.Tunnels.Cloudflared.New(ctx, zero_trust.TunnelCloudflaredNewParams{
		AccountID:    cf.F(c.accountID),
		Name:         cf.F(name),
		TunnelSecret: cf.F(secret),
		ConfigSrc:    cf.F(zero_trust.TunnelCloudflaredNewParamsConfigSrcLocal),
	})
	if err != nil {
		c.metrics.RecordAPICall(ctx, "create", "tunnel", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "create", metrics.ClassifyCloudflareError(err))

		return TunnelHandle{}, Classify(errors.Wrapf(err, "create tunnel %q", name))
	}

	c.metrics.RecordAPICall(ctx, "create", "tunnel", "success", time.Since(startTime))

	return TunnelHandle{ID: tunnel.ID, Secret: secret, Created: true}, nil
}

// FindTunnel returns the ID of the non-deleted tunnel with the given name, or
// empty when no such tunnel exists. Never creates.
func (c *client) FindTunnel(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	startTime := time.Now()

	iter := c.api.ZeroTrust.Tunnels.Cloudflared.ListAutoPaging(ctx, zero_trust.TunnelCloudflaredListParams{
		AccountID: cf.F(c.accountID),
		Name:      cf.F(name),
		IsDeleted: cf.F(false),
	})

	for iter.Next() {
		tunnel := iter.Current()
		if tunnel.Name != name {
			continue
		}

		c.metrics.RecordAPICall(ctx, "list", "tunnel", "success", time.Since(startTime))

		if uuid.Validate(tunnel.ID) != nil {
			return "", errors.Mark(
				errors.Newf("tunnel %q has malformed id %q", name, tunnel.ID), ErrTransient)
		}

		return tunnel.ID, nil
	}

	if err := iter.Err(); err != nil {
		c.metrics.RecordAPICall(ctx, "list", "tunnel", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "list", metrics.ClassifyCloudflareError(err))

		return "", Classify(errors.Wrapf(err, "list tunnels named %q", name))
	}

	c.metrics.RecordAPICall(ctx, "list", "tunnel", "success", time.Since(startTime))

	return "", nil
}

// PutConfiguration replaces the tunnel's ingress rule list wholesale. The
// Cloudflare configuration API is replace-not-patch, so callers always pass
// the full desired list with the catch-all last.
func (c *client) PutConfiguration(ctx context.Context, tunnelID string, rules []IngressRule) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	wire := make([]zero_trust.TunnelCloudflaredConfigurationUpdateParamsConfigIngress, 0, len(rules))

	for _, rule := range rules {
		entry := zero_trust.TunnelCloudflaredConfigurationUpdateParamsConfigIngress{
			Service: cf.F(rule.Service),
		}

		if rule.Hostname != "" {
			entry.Hostname = cf.F(rule.Hostname)
		}

		if rule.Path != "" {
			entry.Path = cf.F(rule.Path)
		}

		wire = append(wire, entry)
	}

	startTime := time.Now()

	_, err := c.api.ZeroTrust.Tunnels.Cloudflared.Configurations.Update(ctx, tunnelID,
		zero_trust.TunnelCloudflaredConfigurationUpdateParams{
			AccountID: cf.String(c.accountID),
			Config: cf.F(zero_trust.TunnelCloudflaredConfigurationUpdateParamsConfig{
				Ingress: cf.F(wire),
			}),
		})
	if err != nil {
		c.metrics.RecordAPICall(ctx, "update", "tunnel_configuration", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "update", metrics.ClassifyCloudflareError(err))

		return Classify(errors.Wrapf(err, "put configuration for tunnel %s", tunnelID))
	}

	c.metrics.RecordAPICall(ctx, "update", "tunnel_configuration", "success", time.Since(startTime))

	return nil
}

// EnsureDNSRecord points hostname at target with a proxied CNAME: created
// when absent, updated when the content differs, untouched when identical.
func (c *client) EnsureDNSRecord(ctx context.Context, hostname, target string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	existing, err := c.findDNSRecord(ctx, hostname)
	if err != nil {
		return err
	}

	body := dns.CNAMERecordParam{
		Name:    cf.F(hostname),
		Type:    cf.F(dns.CNAMERecordTypeCNAME),
		Content: cf.F(target),
		Proxied: cf.F(true),
	}

	startTime := time.Now()

	if existing == nil {
		_, err = c.api.DNS.Records.New(ctx, dns.RecordNewParams{
			ZoneID: cf.F(c.zoneID),
			Body:   body,
		})
		if err != nil {
			c.metrics.RecordAPICall(ctx, "create", "dns_record", "error", time.Since(startTime))
			c.metrics.RecordAPIError(ctx, "create", metrics.ClassifyCloudflareError(err))

			return Classify(errors.Wrapf(err, "create dns record %q", hostname))
		}

		c.metrics.RecordAPICall(ctx, "create", "dns_record", "success", time.Since(startTime))

		return nil
	}

	if existing.Target == target {
		return nil
	}

	_, err = c.api.DNS.Records.Update(ctx, existing.ID, dns.RecordUpdateParams{
		ZoneID: cf.F(c.zoneID),
		Body:   body,
	})
	if err != nil {
		c.metrics.RecordAPICall(ctx, "update", "dns_record", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "update", metrics.ClassifyCloudflareError(err))

		return Classify(errors.Wrapf(err, "update dns record %q", hostname))
	}

	c.metrics.RecordAPICall(ctx, "update", "dns_record", "success", time.Since(startTime))

	return nil
}

// DeleteDNSRecord removes the record for hostname. A record that is already
// gone is success.
func (c *client) DeleteDNSRecord(ctx context.Context, hostname string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	existing, err := c.findDNSRecord(ctx, hostname)
	if err != nil {
		return err
	}

	if existing == nil {
		return nil
	}

	startTime := time.Now()

	_, err = c.api.DNS.Records.Delete(ctx, existing.ID, dns.RecordDeleteParams{
		ZoneID: cf.F(c.zoneID),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil
		}

		c.metrics.RecordAPICall(ctx, "delete", "dns_record", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "delete", metrics.ClassifyCloudflareError(err))

		return Classify(errors.Wrapf(err, "delete dns record %q", hostname))
	}

	c.metrics.RecordAPICall(ctx, "delete", "dns_record", "success", time.Since(startTime))

	return nil
}

// ListManagedHostnames returns every hostname in the zone whose CNAME points
// at the tunnel. Deletion walks this list so records for Ingresses that
// disappeared long ago are still cleaned up.
func (c *client) ListManagedHostnames(ctx context.Context, tunnelID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	target := tunnelID + "." + TunnelDomain

	startTime := time.Now()

	iter := c.api.DNS.Records.ListAutoPaging(ctx, dns.RecordListParams{
		ZoneID: cf.F(c.zoneID),
		Type:   cf.F(dns.RecordListParamsTypeCNAME),
	})

	var hostnames []string

	for iter.Next() {
		record := iter.Current()
		if record.Content == target {
			hostnames = append(hostnames, record.Name)
		}
	}

	if err := iter.Err(); err != nil {
		c.metrics.RecordAPICall(ctx, "list", "dns_record", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "list", metrics.ClassifyCloudflareError(err))

		return nil, Classify(errors.Wrapf(err, "list dns records targeting %q", target))
	}

	c.metrics.RecordAPICall(ctx, "list", "dns_record", "success", time.Since(startTime))

	return hostnames, nil
}

// DeleteTunnel removes the remote tunnel. Already-deleted tunnels are
// success so finalizer cleanup can be resumed safely.
func (c *client) DeleteTunnel(ctx context.Context, tunnelID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	startTime := time.Now()

	_, err := c.api.ZeroTrust.Tunnels.Cloudflared.Delete(ctx, tunnelID, zero_trust.TunnelCloudflaredDeleteParams{
		AccountID: cf.F(c.accountID),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil
		}

		c.metrics.RecordAPICall(ctx, "delete", "tunnel", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "delete", metrics.ClassifyCloudflareError(err))

		return Classify(errors.Wrapf(err, "delete tunnel %s", tunnelID))
	}

	c.metrics.RecordAPICall(ctx, "delete", "tunnel", "success", time.Since(startTime))

	return nil
}

//nolint:funcorder // private helper
func (c *client) findDNSRecord(ctx context.Context, hostname string) (*DNSRecord, error) {
	startTime := time.Now()

	iter := c.api.DNS.Records.ListAutoPaging(ctx, dns.RecordListParams{
		ZoneID: cf.F(c.zoneID),
		Name:   cf.F(dns.RecordListParamsName{Exact: cf.F(hostname)}),
	})

	for iter.Next() {
		record := iter.Current()
		if record.Name == hostname {
			c.metrics.RecordAPICall(ctx, "list", "dns_record", "success", time.Since(startTime))

			return &DNSRecord{ID: record.ID, Hostname: record.Name, Target: record.Content}, nil
		}
	}

	if err := iter.Err(); err != nil {
		c.metrics.RecordAPICall(ctx, "list", "dns_record", "error", time.Since(startTime))
		c.metrics.RecordAPIError(ctx, "list", metrics.ClassifyCloudflareError(err))

		return nil, Classify(errors.Wrapf(err, "find dns record %q", hostname))
	}

	c.metrics.RecordAPICall(ctx, "list", "dns_record", "success", time.Since(startTime))

	return nil, nil //nolint:nilnil // absent record is not an error
}

// newTunnelSecret generates the 32-byte random secret cloudflared registers
// with, base64-encoded as the API expects.
func newTunnelSecret() (string, error) {
	raw := make([]byte, tunnelSecretLen)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "generate tunnel secret")
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}
