package controller

import (
	"context"
	"time"
	"unicode/utf8"

	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflare"
)

// maxConditionMessageLen caps condition messages; the API server rejects
// messages over 32768 bytes and long Cloudflare error bodies are noise anyway.
const maxConditionMessageLen = 1024

// nowFunc is swapped in tests for deterministic timestamps.
//
//nolint:gochecknoglobals // test seam
var nowFunc = func() metav1.Time { return metav1.NewTime(time.Now().UTC()) }

// writeStatus applies mutate to the latest version of the tunnel status and
// patches the status subresource. Failures are logged, not returned: status is
// observability, and the reconcile outcome must not flip on a write race.
func (r *ClusterTunnelReconciler) writeStatus(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
	mutate func(status *v1alpha1.ClusterTunnelStatus),
) {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		latest := &v1alpha1.ClusterTunnel{}
		if err := r.Get(ctx, types.NamespacedName{Name: tunnel.Name}, latest); err != nil {
			return err
		}

		mutate(&latest.Status)

		if err := r.Status().Update(ctx, latest); err != nil {
			return err
		}

		tunnel.Status = latest.Status

		return nil
	})
	if err != nil {
		log.FromContext(ctx).Error(err, "failed to update ClusterTunnel status", "tunnel", tunnel.Name)
	}
}

// projectIngressStatus mirrors the tunnel CNAME into the loadBalancer status
// of every managed Ingress, the way an ingress controller advertises its
// entrypoint. Best-effort, same as the tunnel status.
func (r *ClusterTunnelReconciler) projectIngressStatus(
	ctx context.Context,
	tunnelID string,
	ingresses []networkingv1.Ingress,
) {
	hostname := tunnelID + "." + cloudflare.TunnelDomain

	for i := range ingresses {
		ingress := &ingresses[i]

		if r.Builder != nil && !r.Builder.InScope(ingress) {
			continue
		}

		if len(ingress.Status.LoadBalancer.Ingress) == 1 &&
			ingress.Status.LoadBalancer.Ingress[0].Hostname == hostname {
			continue
		}

		ingress.Status.LoadBalancer.Ingress = []networkingv1.IngressLoadBalancerIngress{
			{Hostname: hostname},
		}

		if err := r.Status().Update(ctx, ingress); err != nil {
			log.FromContext(ctx).Error(err, "failed to update Ingress status",
				"ingress", ingress.Namespace+"/"+ingress.Name)
		}
	}
}

func setReadyCondition(
	status *v1alpha1.ClusterTunnelStatus,
	generation int64,
	reason, message string,
	ready bool,
) {
	conditionStatus := metav1.ConditionFalse
	if ready {
		conditionStatus = metav1.ConditionTrue
	}

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               ConditionTypeReady,
		Status:             conditionStatus,
		ObservedGeneration: generation,
		Reason:             reason,
		Message:            message,
	})
}

func truncateMessage(msg string) string {
	if len(msg) <= maxConditionMessageLen {
		return msg
	}

	// Back off to a rune boundary so the cut never produces invalid UTF-8.
	cut := maxConditionMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}

	return msg[:cut]
}
