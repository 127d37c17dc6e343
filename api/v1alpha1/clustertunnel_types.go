package v1alpha1

import (
	"github.com/cockroachdb/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SecretKeyReference points at a single key inside a Kubernetes Secret in the
// operator's namespace.
type SecretKeyReference struct {
	// Name of the Secret.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Key inside the Secret holding the value.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Key string `json:"key"`
}

// CloudflareSpec binds a ClusterTunnel to a Cloudflare account and zone and
// declares how the operator authenticates against the Cloudflare API.
// Exactly one of apiTokenSecretRef or apiKeySecretRef must be set; the API key
// mode additionally requires email.
type CloudflareSpec struct {
	// AccountID is the Cloudflare account the tunnel is created in.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	AccountID string `json:"accountId"`

	// ZoneID is the Cloudflare zone DNS records are managed in.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	ZoneID string `json:"zoneId"`

	// Email is the Cloudflare account email. Required with apiKeySecretRef,
	// ignored with apiTokenSecretRef.
	// +optional
	Email string `json:"email,omitempty"`

	// APITokenSecretRef references a Secret key holding a scoped API token.
	// +optional
	APITokenSecretRef *SecretKeyReference `json:"apiTokenSecretRef,omitempty"`

	// APIKeySecretRef references a Secret key holding the global API key.
	// +optional
	APIKeySecretRef *SecretKeyReference `json:"apiKeySecretRef,omitempty"`
}

// ClusterTunnelSpec defines the desired state of ClusterTunnel.
type ClusterTunnelSpec struct {
	// Name is the Cloudflare-side tunnel name. Defaults to the resource name.
	// +optional
	Name string `json:"name,omitempty"`

	// TunnelSecretRef references a pre-shared tunnel secret for connector
	// registration. When unset the operator generates one and stores it in
	// a managed Secret.
	// +optional
	TunnelSecretRef *SecretKeyReference `json:"tunnelSecretRef,omitempty"`

	// Cloudflare holds the account, zone and credential binding.
	// +kubebuilder:validation:Required
	Cloudflare CloudflareSpec `json:"cloudflare"`
}

// ClusterTunnelStatus defines the observed state of ClusterTunnel.
type ClusterTunnelStatus struct {
	// TunnelID is the Cloudflare-assigned tunnel UUID once provisioned.
	// +optional
	TunnelID string `json:"tunnelId,omitempty"`

	// ObservedConfigHash is the hash of the last successfully applied tunnel
	// configuration, used to short-circuit no-op reconciliations.
	// +optional
	ObservedConfigHash string `json:"observedConfigHash,omitempty"`

	// LastSyncedAt is when the tunnel configuration and DNS records last
	// matched the desired state.
	// +optional
	LastSyncedAt *metav1.Time `json:"lastSyncedAt,omitempty"`

	// Conditions describe the current reconciliation state.
	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster,shortName=ctun
// +kubebuilder:printcolumn:name="Tunnel ID",type=string,JSONPath=`.status.tunnelId`
// +kubebuilder:printcolumn:name="Ready",type=string,JSONPath=`.status.conditions[?(@.type=="Ready")].status`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// ClusterTunnel declares a Cloudflare Tunnel whose ingress rules and DNS
// records are derived from the Ingress objects in the cluster.
type ClusterTunnel struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ClusterTunnelSpec   `json:"spec,omitempty"`
	Status ClusterTunnelStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ClusterTunnelList contains a list of ClusterTunnel.
type ClusterTunnelList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ClusterTunnel `json:"items"`
}

//nolint:gochecknoinits // kubebuilder scheme registration pattern
func init() {
	SchemeBuilder.Register(&ClusterTunnel{}, &ClusterTunnelList{})
}

// TunnelName returns the Cloudflare-side tunnel name, defaulting to the
// resource name when spec.name is unset.
func (t *ClusterTunnel) TunnelName() string {
	if t.Spec.Name != "" {
		return t.Spec.Name
	}

	return t.Name
}

// UsesAPIToken reports whether the token credential mode is configured.
func (c *CloudflareSpec) UsesAPIToken() bool {
	return c.APITokenSecretRef != nil
}

// CredentialSecretRef returns whichever credential Secret reference is set.
func (c *CloudflareSpec) CredentialSecretRef() *SecretKeyReference {
	if c.APITokenSecretRef != nil {
		return c.APITokenSecretRef
	}

	return c.APIKeySecretRef
}

// Validate enforces the credential invariants: exactly one of the two
// credential modes is set, and the key mode carries an email.
func (c *CloudflareSpec) Validate() error {
	if c.APITokenSecretRef != nil && c.APIKeySecretRef != nil {
		return errors.New("apiTokenSecretRef and apiKeySecretRef are mutually exclusive")
	}

	if c.APITokenSecretRef == nil && c.APIKeySecretRef == nil {
		return errors.New("one of apiTokenSecretRef or apiKeySecretRef is required")
	}

	if c.APIKeySecretRef != nil && c.Email == "" {
		return errors.New("email is required with apiKeySecretRef")
	}

	return nil
}
