// Package credentials resolves Cloudflare API credentials for a ClusterTunnel
// from Secrets in the operator namespace.
package credentials

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
)

// Sentinel errors distinguishing absent credentials from unusable ones.
// Both are terminal for the current spec: the reconciler reports them on the
// ClusterTunnel and waits for the Secret or the spec to change instead of
// retrying hot.
var (
	// ErrCredentialMissing marks a referenced Secret or key that does not exist.
	ErrCredentialMissing = errors.New("credentials: secret or key not found")

	// ErrCredentialMalformed marks a credential that exists but cannot be used.
	ErrCredentialMalformed = errors.New("credentials: malformed")
)

// Credentials is a resolved Cloudflare API credential set. Exactly one of
// APIToken or APIKey is populated; Email accompanies APIKey.
type Credentials struct {
	APIToken string
	APIKey   string
	Email    string
}

// cacheEntry pins resolved credentials to the Secret revision and the spec
// reference they came from. A spec edit that repoints the reference misses the
// cache even when the Secret itself is unchanged.
type cacheEntry struct {
	secretName      string
	secretKey       string
	email           string
	resourceVersion string
	creds           Credentials
}

// Resolver reads and validates credential Secrets. Resolutions are cached per
// ClusterTunnel and reused while the backing Secret's resourceVersion is
// unchanged, so steady-state reconciles skip re-validation.
type Resolver struct {
	client    client.Client
	namespace string

	cache sync.Map
}

// NewResolver creates a Resolver reading Secrets from the given namespace.
func NewResolver(c client.Client, namespace string) *Resolver {
	return &Resolver{
		client:    c,
		namespace: namespace,
	}
}

// Resolve returns the Cloudflare API credentials for the ClusterTunnel.
//
//nolint:wrapcheck // errors.Mark preserves the chain
func (r *Resolver) Resolve(ctx context.Context, tunnel *v1alpha1.ClusterTunnel) (Credentials, error) {
	spec := &tunnel.Spec.Cloudflare
	if err := spec.Validate(); err != nil {
		return Credentials{}, errors.Mark(err, ErrCredentialMalformed)
	}

	ref := spec.CredentialSecretRef()

	secret, err := r.getSecret(ctx, ref.Name)
	if err != nil {
		return Credentials{}, err
	}

	if cached, ok := r.cache.Load(tunnel.Name); ok {
		if entry, valid := cached.(cacheEntry); valid &&
			entry.secretName == secret.Name && entry.secretKey == ref.Key &&
			entry.email == spec.Email && entry.resourceVersion == secret.ResourceVersion {
			return entry.creds, nil
		}
	}

	value, ok := secret.Data[ref.Key]
	if !ok {
		return Credentials{}, errors.Mark(
			errors.Newf("secret %s/%s does not contain key %s", r.namespace, ref.Name, ref.Key),
			ErrCredentialMissing)
	}

	if len(value) == 0 {
		return Credentials{}, errors.Mark(
			errors.Newf("secret %s/%s key %s is empty", r.namespace, ref.Name, ref.Key),
			ErrCredentialMalformed)
	}

	creds := Credentials{}
	if spec.UsesAPIToken() {
		creds.APIToken = string(value)
	} else {
		creds.APIKey = string(value)
		creds.Email = spec.Email
	}

	r.cache.Store(tunnel.Name, cacheEntry{
		secretName:      secret.Name,
		secretKey:       ref.Key,
		email:           spec.Email,
		resourceVersion: secret.ResourceVersion,
		creds:           creds,
	})

	return creds, nil
}

// ResolveTunnelSecret returns the pre-shared tunnel secret when the spec
// references one. The second return is false when no reference is set and the
// operator should generate a secret itself.
//
//nolint:wrapcheck // errors.Mark preserves the chain
func (r *Resolver) ResolveTunnelSecret(ctx context.Context, tunnel *v1alpha1.ClusterTunnel) (string, bool, error) {
	ref := tunnel.Spec.TunnelSecretRef
	if ref == nil {
		return "", false, nil
	}

	secret, err := r.getSecret(ctx, ref.Name)
	if err != nil {
		return "", false, err
	}

	value, ok := secret.Data[ref.Key]
	if !ok {
		return "", false, errors.Mark(
			errors.Newf("secret %s/%s does not contain key %s", r.namespace, ref.Name, ref.Key),
			ErrCredentialMissing)
	}

	if len(value) == 0 {
		return "", false, errors.Mark(
			errors.Newf("secret %s/%s key %s is empty", r.namespace, ref.Name, ref.Key),
			ErrCredentialMalformed)
	}

	return string(value), true, nil
}

// Invalidate drops the cached resolution for a ClusterTunnel. Called when the
// ClusterTunnel is deleted.
func (r *Resolver) Invalidate(tunnelName string) {
	r.cache.Delete(tunnelName)
}

//nolint:funcorder,wrapcheck // private helper, errors.Mark preserves the chain
func (r *Resolver) getSecret(ctx context.Context, name string) (*corev1.Secret, error) {
	secret := &corev1.Secret{}

	err := r.client.Get(ctx, types.NamespacedName{Name: name, Namespace: r.namespace}, secret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, errors.Mark(
				errors.Wrapf(err, "secret %s/%s not found", r.namespace, name),
				ErrCredentialMissing)
		}

		return nil, errors.Wrapf(err, "failed to get secret %s/%s", r.namespace, name)
	}

	return secret, nil
}
