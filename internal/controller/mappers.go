package controller

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflared"
)

// MapIngress enqueues every ClusterTunnel when a managed Ingress changes. The
// desired configuration is built from the whole cluster, so any in-scope
// Ingress edit can change the config of any tunnel.
func (r *ClusterTunnelReconciler) MapIngress(ctx context.Context, obj client.Object) []reconcile.Request {
	ingress, ok := obj.(*networkingv1.Ingress)
	if !ok {
		return nil
	}

	if r.Builder != nil && !r.Builder.InScope(ingress) {
		return nil
	}

	tunnels, err := r.listTunnels(ctx)
	if err != nil {
		return nil
	}

	requests := make([]reconcile.Request, 0, len(tunnels.Items))
	for i := range tunnels.Items {
		requests = append(requests, requestFor(&tunnels.Items[i]))
	}

	return requests
}

// MapSecret enqueues the ClusterTunnels referencing a changed Secret so
// credential rotation is picked up without waiting for the periodic resync.
// Only Secrets in the operator namespace are candidates.
func (r *ClusterTunnelReconciler) MapSecret(ctx context.Context, obj client.Object) []reconcile.Request {
	secret, ok := obj.(*corev1.Secret)
	if !ok {
		return nil
	}

	if r.OperatorNamespace != "" && secret.Namespace != r.OperatorNamespace {
		return nil
	}

	tunnels, err := r.listTunnels(ctx)
	if err != nil {
		return nil
	}

	var requests []reconcile.Request

	for i := range tunnels.Items {
		tunnel := &tunnels.Items[i]

		if tunnelReferencesSecret(tunnel, secret.Name) {
			requests = append(requests, requestFor(tunnel))
		}
	}

	return requests
}

//nolint:funcorder // private helper
func (r *ClusterTunnelReconciler) listTunnels(ctx context.Context) (*v1alpha1.ClusterTunnelList, error) {
	tunnels := &v1alpha1.ClusterTunnelList{}
	if err := r.List(ctx, tunnels); err != nil {
		log.FromContext(ctx).Error(err, "failed to list ClusterTunnels for event mapping")

		return nil, err
	}

	return tunnels, nil
}

// tunnelReferencesSecret reports whether the Secret name is one the tunnel
// reads from: credentials, pre-shared tunnel secret, or the managed connector
// credentials.
func tunnelReferencesSecret(tunnel *v1alpha1.ClusterTunnel, name string) bool {
	if ref := tunnel.Spec.Cloudflare.CredentialSecretRef(); ref != nil && ref.Name == name {
		return true
	}

	if ref := tunnel.Spec.TunnelSecretRef; ref != nil && ref.Name == name {
		return true
	}

	// A deleted or mutated managed connector Secret must re-trigger the
	// reconcile that recreates it.
	return name == cloudflared.CredentialsSecretName(tunnel.TunnelName())
}

func requestFor(tunnel *v1alpha1.ClusterTunnel) reconcile.Request {
	return reconcile.Request{NamespacedName: types.NamespacedName{Name: tunnel.Name}}
}
