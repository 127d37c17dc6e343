package v1alpha1_test

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
)

func TestClusterTunnel_TunnelName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tunnel   v1alpha1.ClusterTunnel
		expected string
	}{
		{
			name: "explicit spec name wins",
			tunnel: v1alpha1.ClusterTunnel{
				ObjectMeta: metav1.ObjectMeta{Name: "prod"},
				Spec:       v1alpha1.ClusterTunnelSpec{Name: "edge-tunnel"},
			},
			expected: "edge-tunnel",
		},
		{
			name: "defaults to resource name",
			tunnel: v1alpha1.ClusterTunnel{
				ObjectMeta: metav1.ObjectMeta{Name: "prod"},
			},
			expected: "prod",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.tunnel.TunnelName(); got != testCase.expected {
				t.Errorf("TunnelName() = %q, want %q", got, testCase.expected)
			}
		})
	}
}

func TestCloudflareSpec_Validate(t *testing.T) {
	t.Parallel()

	tokenRef := &v1alpha1.SecretKeyReference{Name: "cf-creds", Key: "token"}
	keyRef := &v1alpha1.SecretKeyReference{Name: "cf-creds", Key: "key"}

	tests := []struct {
		name    string
		spec    v1alpha1.CloudflareSpec
		wantErr bool
	}{
		{
			name:    "token mode is valid",
			spec:    v1alpha1.CloudflareSpec{AccountID: "acc", ZoneID: "zone", APITokenSecretRef: tokenRef},
			wantErr: false,
		},
		{
			name: "key mode with email is valid",
			spec: v1alpha1.CloudflareSpec{
				AccountID: "acc", ZoneID: "zone",
				Email: "ops@example.com", APIKeySecretRef: keyRef,
			},
			wantErr: false,
		},
		{
			name:    "key mode without email is invalid",
			spec:    v1alpha1.CloudflareSpec{AccountID: "acc", ZoneID: "zone", APIKeySecretRef: keyRef},
			wantErr: true,
		},
		{
			name: "both modes set is invalid",
			spec: v1alpha1.CloudflareSpec{
				AccountID: "acc", ZoneID: "zone",
				Email: "ops@example.com", APITokenSecretRef: tokenRef, APIKeySecretRef: keyRef,
			},
			wantErr: true,
		},
		{
			name:    "no mode set is invalid",
			spec:    v1alpha1.CloudflareSpec{AccountID: "acc", ZoneID: "zone"},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.spec.Validate()
			if (err != nil) != testCase.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, testCase.wantErr)
			}
		})
	}
}

func TestCloudflareSpec_CredentialSecretRef(t *testing.T) {
	t.Parallel()

	tokenRef := &v1alpha1.SecretKeyReference{Name: "cf-creds", Key: "token"}
	keyRef := &v1alpha1.SecretKeyReference{Name: "cf-creds", Key: "key"}

	spec := v1alpha1.CloudflareSpec{APITokenSecretRef: tokenRef}
	if got := spec.CredentialSecretRef(); got != tokenRef {
		t.Errorf("CredentialSecretRef() = %v, want token ref", got)
	}

	if !spec.UsesAPIToken() {
		t.Error("UsesAPIToken() = false, want true")
	}

	spec = v1alpha1.CloudflareSpec{APIKeySecretRef: keyRef}
	if got := spec.CredentialSecretRef(); got != keyRef {
		t.Errorf("CredentialSecretRef() = %v, want key ref", got)
	}

	if spec.UsesAPIToken() {
		t.Error("UsesAPIToken() = true, want false")
	}
}

func TestClusterTunnel_DeepCopy(t *testing.T) {
	t.Parallel()

	original := &v1alpha1.ClusterTunnel{
		ObjectMeta: metav1.ObjectMeta{Name: "prod"},
		Spec: v1alpha1.ClusterTunnelSpec{
			Name: "edge",
			Cloudflare: v1alpha1.CloudflareSpec{
				AccountID:         "acc",
				ZoneID:            "zone",
				APITokenSecretRef: &v1alpha1.SecretKeyReference{Name: "cf-creds", Key: "token"},
			},
		},
		Status: v1alpha1.ClusterTunnelStatus{
			TunnelID: "0c3a4b5d-1111-2222-3333-444455556666",
			Conditions: []metav1.Condition{
				{Type: "Ready", Status: metav1.ConditionTrue},
			},
		},
	}

	clone := original.DeepCopy()

	if clone == original {
		t.Fatal("DeepCopy() returned same pointer")
	}

	clone.Spec.Cloudflare.APITokenSecretRef.Key = "other"
	if original.Spec.Cloudflare.APITokenSecretRef.Key != "token" {
		t.Error("DeepCopy() shares secret ref with original")
	}

	clone.Status.Conditions[0].Status = metav1.ConditionFalse
	if original.Status.Conditions[0].Status != metav1.ConditionTrue {
		t.Error("DeepCopy() shares conditions with original")
	}

	obj := original.DeepCopyObject()
	if _, ok := obj.(*v1alpha1.ClusterTunnel); !ok {
		t.Errorf("DeepCopyObject() returned %T, want *ClusterTunnel", obj)
	}
}
