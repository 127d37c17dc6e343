// Package desired computes the target Cloudflare state for a ClusterTunnel
// from the Ingress objects in scope: the ordered tunnel ingress-rule list, the
// DNS record set, and a configuration hash for change detection.
package desired

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflare"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/metrics"
)

const (
	// LegacyClassAnnotation is the pre-networking/v1 ingress class marker,
	// still honored alongside spec.ingressClassName.
	LegacyClassAnnotation = "kubernetes.io/ingress.class"

	// DefaultClusterDomain is the cluster DNS suffix used when none is
	// configured.
	DefaultClusterDomain = "cluster.local"

	// DefaultHTTPSPort is the backend port routed with an https origin URL.
	DefaultHTTPSPort = 443

	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// Skip reasons recorded per unresolvable backend.
const (
	ReasonNoServiceBackend = "no_service_backend"
	ReasonServiceNotFound  = "service_not_found"
	ReasonPortNotFound     = "port_not_found"
)

// Conflict records a hostname claimed by more than one Ingress. The
// lexicographically-first (namespace, name) Ingress wins the binding.
type Conflict struct {
	Hostname string
	Winner   types.NamespacedName
	Loser    types.NamespacedName
}

// SkippedBackend records an Ingress rule whose backend could not be resolved
// to a Service URL. Skips never fail the whole pass.
type SkippedBackend struct {
	Ingress  types.NamespacedName
	Hostname string
	Reason   string
	Message  string
}

// State is the computed target for one ClusterTunnel. Rules are ordered with
// the catch-all last; Hostnames is the distinct sorted DNS record set.
type State struct {
	Rules     []cloudflare.IngressRule
	Hostnames []string
	Conflicts []Conflict
	Skipped   []SkippedBackend
	Hash      string
}

// Builder converts in-scope Ingress objects into a State.
type Builder struct {
	// Client resolves named Service ports and ExternalName services.
	Client client.Reader

	// IngressClass scopes which Ingress objects are managed. Empty means
	// every Ingress in the cluster is in scope.
	IngressClass string

	// ClusterDomain is the cluster DNS suffix, typically "cluster.local".
	ClusterDomain string

	// Metrics records build duration and backend resolution results.
	Metrics metrics.Collector
}

// NewBuilder creates a Builder with the given scope and cluster domain.
func NewBuilder(c client.Reader, ingressClass, clusterDomain string, m metrics.Collector) *Builder {
	if clusterDomain == "" {
		clusterDomain = DefaultClusterDomain
	}

	return &Builder{
		Client:        c,
		IngressClass:  ingressClass,
		ClusterDomain: clusterDomain,
		Metrics:       m,
	}
}

// entry is an intermediate representation of one ingress rule.
// Priority 1 indicates an exact path match, 0 a prefix match.
type entry struct {
	hostname string
	path     string
	service  string
	priority int
}

// InScope reports whether the Ingress is managed by this builder. Both the
// networking/v1 spec field and the legacy annotation select a class.
func (b *Builder) InScope(ing *networkingv1.Ingress) bool {
	if b.IngressClass == "" {
		return true
	}

	if ing.Spec.IngressClassName != nil && *ing.Spec.IngressClassName == b.IngressClass {
		return true
	}

	return ing.Annotations[LegacyClassAnnotation] == b.IngressClass
}

// Build computes the State for the given Ingress set. The result is
// deterministic: identical input produces identical rule order, DNS set, and
// hash regardless of input ordering.
//
// Rules are sorted by hostname, then exact matches before prefix matches,
// then longer paths first. The catch-all 404 rule is always appended last; a
// tunnel with zero bound ingresses still gets the catch-all-only
// configuration.
func (b *Builder) Build(ctx context.Context, ingresses []networkingv1.Ingress) State {
	startTime := time.Now()

	scoped := make([]networkingv1.Ingress, 0, len(ingresses))

	for i := range ingresses {
		if b.InScope(&ingresses[i]) {
			scoped = append(scoped, ingresses[i])
		}
	}

	// Claim hostnames in lexicographic (namespace, name) order so the
	// winner of a duplicate claim never depends on watch arrival order.
	sort.Slice(scoped, func(i, j int) bool {
		if scoped[i].Namespace != scoped[j].Namespace {
			return scoped[i].Namespace < scoped[j].Namespace
		}

		return scoped[i].Name < scoped[j].Name
	})

	state := State{}
	claims := make(map[string]types.NamespacedName)

	var entries []entry

	for i := range scoped {
		ing := &scoped[i]
		owner := types.NamespacedName{Namespace: ing.Namespace, Name: ing.Name}

		for _, rule := range ing.Spec.Rules {
			if rule.Host == "" || rule.HTTP == nil {
				continue
			}

			if winner, claimed := claims[rule.Host]; claimed {
				if winner != owner {
					state.Conflicts = append(state.Conflicts, Conflict{
						Hostname: rule.Host,
						Winner:   winner,
						Loser:    owner,
					})
					slog.Info("hostname claimed by multiple ingresses",
						"hostname", rule.Host,
						"winner", winner.String(),
						"loser", owner.String(),
					)

					continue
				}
			} else {
				claims[rule.Host] = owner
			}

			for _, ingressPath := range rule.HTTP.Paths {
				service, skipped := b.resolveBackend(ctx, owner, rule.Host, &ingressPath.Backend)
				if skipped != nil {
					state.Skipped = append(state.Skipped, *skipped)

					continue
				}

				entries = append(entries, entry{
					hostname: rule.Host,
					path:     pathPattern(ingressPath),
					service:  service,
					priority: pathPriority(ingressPath),
				})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hostname != entries[j].hostname {
			return entries[i].hostname < entries[j].hostname
		}

		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}

		return len(entries[i].path) > len(entries[j].path)
	})

	state.Rules = make([]cloudflare.IngressRule, 0, len(entries)+1)
	seen := make(map[string]bool)

	for _, e := range entries {
		state.Rules = append(state.Rules, cloudflare.IngressRule{
			Hostname: e.hostname,
			Path:     e.path,
			Service:  e.service,
		})

		if !seen[e.hostname] {
			seen[e.hostname] = true

			state.Hostnames = append(state.Hostnames, e.hostname)
		}
	}

	state.Rules = append(state.Rules, cloudflare.IngressRule{Service: cloudflare.CatchAllService})
	state.Hash = hashState(state.Rules, state.Hostnames)

	if b.Metrics != nil {
		b.Metrics.RecordBuildDuration(ctx, time.Since(startTime))
	}

	return state
}

// pathPattern converts an Ingress HTTP path to the regular expression
// cloudflared evaluates. Exact paths are anchored with an optional trailing
// slash; prefix paths match everything under the escaped prefix. An empty or
// root path places no constraint on the rule.
func pathPattern(p networkingv1.HTTPIngressPath) string {
	if p.Path == "" || p.Path == "/" {
		return ""
	}

	pattern := "^" + regexp.QuoteMeta(p.Path)
	if p.PathType != nil && *p.PathType == networkingv1.PathTypeExact {
		pattern += `\/?$`
	}

	return pattern
}

func pathPriority(p networkingv1.HTTPIngressPath) int {
	if p.PathType != nil && *p.PathType == networkingv1.PathTypeExact {
		return 1
	}

	return 0
}

//nolint:funcorder // private helper
func (b *Builder) resolveBackend(
	ctx context.Context,
	owner types.NamespacedName,
	hostname string,
	backend *networkingv1.IngressBackend,
) (string, *SkippedBackend) {
	if backend.Service == nil {
		return "", b.skip(ctx, owner, hostname, ReasonNoServiceBackend,
			"ingress backend does not name a Service")
	}

	svcName := backend.Service.Name

	var svc *corev1.Service

	if b.Client != nil {
		svc = &corev1.Service{}

		err := b.Client.Get(ctx, types.NamespacedName{Name: svcName, Namespace: owner.Namespace}, svc)
		if err != nil {
			if apierrors.IsNotFound(err) {
				return "", b.skip(ctx, owner, hostname, ReasonServiceNotFound,
					fmt.Sprintf("Service %s/%s not found", owner.Namespace, svcName))
			}

			// Transient read failure: fall back to cluster-local DNS
			// rather than dropping the rule.
			slog.Warn("failed to fetch Service, using cluster-local DNS",
				"service", fmt.Sprintf("%s/%s", owner.Namespace, svcName),
				"error", err.Error(),
			)

			svc = nil
		}
	}

	port, ok := resolvePort(backend.Service, svc)
	if !ok {
		return "", b.skip(ctx, owner, hostname, ReasonPortNotFound,
			fmt.Sprintf("port %q not found on Service %s/%s",
				backend.Service.Port.Name, owner.Namespace, svcName))
	}

	scheme := schemeHTTP
	if port == DefaultHTTPSPort {
		scheme = schemeHTTPS
	}

	if b.Metrics != nil {
		b.Metrics.RecordBackendValidation(ctx, "accepted", "")
	}

	if svc != nil && svc.Spec.Type == corev1.ServiceTypeExternalName {
		return fmt.Sprintf("%s://%s:%d", scheme, svc.Spec.ExternalName, port), nil
	}

	return fmt.Sprintf("%s://%s.%s.svc.%s:%d", scheme, svcName, owner.Namespace, b.ClusterDomain, port), nil
}

//nolint:funcorder // private helper
func (b *Builder) skip(
	ctx context.Context,
	owner types.NamespacedName,
	hostname, reason, message string,
) *SkippedBackend {
	slog.Info("ingress rule skipped",
		"ingress", owner.String(),
		"hostname", hostname,
		"reason", reason,
	)

	if b.Metrics != nil {
		b.Metrics.RecordBackendValidation(ctx, "rejected", reason)
	}

	return &SkippedBackend{
		Ingress:  owner,
		Hostname: hostname,
		Reason:   reason,
		Message:  message,
	}
}

// resolvePort returns the numeric backend port. Named ports are looked up on
// the fetched Service; without the Service a named port cannot be resolved.
func resolvePort(ref *networkingv1.IngressServiceBackend, svc *corev1.Service) (int32, bool) {
	if ref.Port.Number != 0 {
		return ref.Port.Number, true
	}

	if ref.Port.Name == "" || svc == nil {
		return 0, false
	}

	for _, port := range svc.Spec.Ports {
		if port.Name == ref.Port.Name {
			return port.Port, true
		}
	}

	return 0, false
}

// hashState is the configuration hash recorded in status, covering both the
// rule list and the DNS set.
func hashState(rules []cloudflare.IngressRule, hostnames []string) string {
	payload := struct {
		Rules     []cloudflare.IngressRule `json:"rules"`
		Hostnames []string                 `json:"hostnames"`
	}{
		Rules:     rules,
		Hostnames: hostnames,
	}

	// Marshal cannot fail for this shape.
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:])
}
