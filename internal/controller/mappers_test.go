package controller_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflared"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/controller"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/credentials"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/desired"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/metrics"
)

func newScopedReconciler(ingressClass string, tunnels ...*v1alpha1.ClusterTunnel) *controller.ClusterTunnelReconciler {
	if len(tunnels) == 0 {
		tunnels = []*v1alpha1.ClusterTunnel{newClusterTunnel()}
	}

	scheme := newScheme()
	builder := fake.NewClientBuilder().WithScheme(scheme)

	for _, tunnel := range tunnels {
		builder = builder.WithObjects(tunnel)
	}

	fakeClient := builder.Build()

	return &controller.ClusterTunnelReconciler{
		Client:            fakeClient,
		Scheme:            scheme,
		OperatorNamespace: operatorNamespace,
		Credentials:       credentials.NewResolver(fakeClient, operatorNamespace),
		Builder:           desired.NewBuilder(fakeClient, ingressClass, "", metrics.NewNoopCollector()),
		Metrics:           metrics.NewNoopCollector(),
	}
}

func requestNames(requests []reconcile.Request) []string {
	names := make([]string, 0, len(requests))
	for _, req := range requests {
		names = append(names, req.Name)
	}

	return names
}

func TestMapIngress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("in-scope ingress enqueues all tunnels", func(t *testing.T) {
		t.Parallel()

		reconciler := newScopedReconciler("")
		requests := reconciler.MapIngress(ctx, newIngress())
		assert.Equal(t, []string{"prod"}, requestNames(requests))
	})

	t.Run("out-of-scope ingress is ignored", func(t *testing.T) {
		t.Parallel()

		reconciler := newScopedReconciler("cloudflare-tunnel")

		other := "nginx"
		ingress := newIngress()
		ingress.Spec.IngressClassName = &other

		assert.Empty(t, reconciler.MapIngress(ctx, ingress))
	})

	t.Run("matching class enqueues", func(t *testing.T) {
		t.Parallel()

		reconciler := newScopedReconciler("cloudflare-tunnel")

		class := "cloudflare-tunnel"
		ingress := newIngress()
		ingress.Spec.IngressClassName = &class

		require.Len(t, reconciler.MapIngress(ctx, ingress), 1)
	})
}

func TestMapSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("referenced credential secret enqueues the tunnel", func(t *testing.T) {
		t.Parallel()

		reconciler := newScopedReconciler("")
		requests := reconciler.MapSecret(ctx, newCredentialSecret())
		assert.Equal(t, []string{"prod"}, requestNames(requests))
	})

	t.Run("unrelated secret is ignored", func(t *testing.T) {
		t.Parallel()

		reconciler := newScopedReconciler("")
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: operatorNamespace},
		}

		assert.Empty(t, reconciler.MapSecret(ctx, secret))
	})

	t.Run("secret outside the operator namespace is ignored", func(t *testing.T) {
		t.Parallel()

		reconciler := newScopedReconciler("")
		secret := newCredentialSecret()
		secret.Namespace = "default"

		assert.Empty(t, reconciler.MapSecret(ctx, secret))
	})

	t.Run("managed connector credentials secret enqueues the tunnel", func(t *testing.T) {
		t.Parallel()

		reconciler := newScopedReconciler("")
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      cloudflared.CredentialsSecretName("prod"),
				Namespace: operatorNamespace,
			},
		}

		assert.Equal(t, []string{"prod"}, requestNames(reconciler.MapSecret(ctx, secret)))
	})

	t.Run("tunnel secret reference enqueues the tunnel", func(t *testing.T) {
		t.Parallel()

		tunnel := newClusterTunnel()
		tunnel.Spec.TunnelSecretRef = &v1alpha1.SecretKeyReference{Name: "preshared", Key: "secret"}

		reconciler := newScopedReconciler("", tunnel)

		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "preshared", Namespace: operatorNamespace},
		}

		assert.Equal(t, []string{"prod"}, requestNames(reconciler.MapSecret(ctx, secret)))
	})
}
