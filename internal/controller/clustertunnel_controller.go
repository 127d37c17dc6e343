package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflare"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflared"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/credentials"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/desired"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/metrics"
)

const (
	// FinalizerName gates ClusterTunnel deletion on remote cleanup.
	FinalizerName = "cloudflare-tunnels-operator.io/finalizer"

	// ConditionTypeReady reports the reconciliation outcome.
	ConditionTypeReady = "Ready"

	// slowRequeueDelay paces retries for auth and config errors: hot-looping
	// cannot fix them, but a credential or spec fix must be picked up
	// eventually even if the watch event is missed.
	slowRequeueDelay = 5 * time.Minute
)

// Condition reasons surfaced on the Ready condition.
const (
	ReasonSynced              = "Synced"
	ReasonRetrying            = "Retrying"
	ReasonAuthError           = "AuthError"
	ReasonConfigError         = "ConfigError"
	ReasonCredentialMissing   = "CredentialMissing"
	ReasonCredentialMalformed = "CredentialMalformed"
)

// GatewayFactory builds a Cloudflare gateway for a resolved credential set.
// Injected so tests can substitute a fake.
type GatewayFactory func(creds credentials.Credentials, accountID, zoneID string) cloudflare.Gateway

// ClusterTunnelReconciler drives a ClusterTunnel from spec to remote state:
// tunnel existence, tunnel configuration, DNS records, and optionally the
// in-cluster cloudflared connector.
type ClusterTunnelReconciler struct {
	client.Client

	Scheme            *runtime.Scheme
	OperatorNamespace string
	Credentials       *credentials.Resolver
	NewGateway        GatewayFactory
	Builder           *desired.Builder
	Connector         *cloudflared.Manager
	Metrics           metrics.Collector
}

// Reconcile is one pass of the desired-vs-actual diff for a single
// ClusterTunnel. Remote failures never crash the loop: they classify into a
// backoff requeue (transient) or a slow-paced requeue with a failing
// condition (auth, config, credentials).
//
//nolint:cyclop // the state machine reads top to bottom
func (r *ClusterTunnelReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	startTime := time.Now()

	tunnel := &v1alpha1.ClusterTunnel{}
	if err := r.Get(ctx, req.NamespacedName, tunnel); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}

		return ctrl.Result{}, errors.Wrap(err, "failed to get ClusterTunnel")
	}

	if !tunnel.DeletionTimestamp.IsZero() {
		return r.reconcileDeletion(ctx, tunnel)
	}

	if !controllerutil.ContainsFinalizer(tunnel, FinalizerName) {
		controllerutil.AddFinalizer(tunnel, FinalizerName)

		if err := r.Update(ctx, tunnel); err != nil {
			return ctrl.Result{}, errors.Wrap(err, "failed to add finalizer")
		}
	}

	creds, err := r.Credentials.Resolve(ctx, tunnel)
	if err != nil {
		return r.failSync(ctx, tunnel, err, startTime)
	}

	gateway := r.NewGateway(creds, tunnel.Spec.Cloudflare.AccountID, tunnel.Spec.Cloudflare.ZoneID)

	presetSecret, hasPreset, err := r.Credentials.ResolveTunnelSecret(ctx, tunnel)
	if err != nil {
		return r.failSync(ctx, tunnel, err, startTime)
	}

	handle, err := gateway.EnsureTunnel(ctx, tunnel.TunnelName(), presetSecret)
	if err != nil {
		return r.failSync(ctx, tunnel, err, startTime)
	}

	if handle.Secret == "" && hasPreset {
		handle.Secret = presetSecret
	}

	if handle.Created {
		logger.Info("tunnel created", "tunnel", tunnel.TunnelName(), "tunnelID", handle.ID)
	}

	ingressList := &networkingv1.IngressList{}
	if err := r.List(ctx, ingressList); err != nil {
		return ctrl.Result{}, errors.Wrap(err, "failed to list ingresses")
	}

	state := r.Builder.Build(ctx, ingressList.Items)

	if state.Hash != tunnel.Status.ObservedConfigHash || tunnel.Status.TunnelID != handle.ID {
		if err := r.syncRemote(ctx, gateway, handle.ID, state); err != nil {
			return r.failSync(ctx, tunnel, err, startTime)
		}
	}

	if r.Connector != nil {
		if _, err := r.Connector.Ensure(ctx, tunnel, handle, state.Rules); err != nil {
			return r.failSync(ctx, tunnel, err, startTime)
		}
	}

	r.projectIngressStatus(ctx, handle.ID, ingressList.Items)
	r.recordState(ctx, tunnel.TunnelName(), state)

	r.writeStatus(ctx, tunnel, func(status *v1alpha1.ClusterTunnelStatus) {
		status.TunnelID = handle.ID
		status.ObservedConfigHash = state.Hash
		now := nowFunc()
		status.LastSyncedAt = &now

		setReadyCondition(status, tunnel.Generation, ReasonSynced, syncedMessage(state), true)
	})

	if r.Metrics != nil {
		r.Metrics.RecordReconcileDuration(ctx, "success", time.Since(startTime))
	}

	return ctrl.Result{}, nil
}

// SetupWithManager sets up the controller with the Manager. Ingress and
// Secret events map back to the ClusterTunnels they affect.
func (r *ClusterTunnelReconciler) SetupWithManager(mgr ctrl.Manager) error {
	//nolint:wrapcheck // controller-runtime builder pattern
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.ClusterTunnel{}).
		Owns(&appsv1.Deployment{}).
		Watches(
			&networkingv1.Ingress{},
			handler.EnqueueRequestsFromMapFunc(r.MapIngress),
		).
		Watches(
			&corev1.Secret{},
			handler.EnqueueRequestsFromMapFunc(r.MapSecret),
		).
		Complete(r)
}

// syncRemote pushes the desired configuration and DNS set. The configuration
// PUT is replace-not-patch; DNS records are reconciled individually and stale
// ones pruned so removed Ingress hostnames disappear.
//
//nolint:funcorder // private helper
func (r *ClusterTunnelReconciler) syncRemote(
	ctx context.Context,
	gateway cloudflare.Gateway,
	tunnelID string,
	state desired.State,
) error {
	if err := gateway.PutConfiguration(ctx, tunnelID, state.Rules); err != nil {
		return err
	}

	target := tunnelID + "." + cloudflare.TunnelDomain

	desiredSet := make(map[string]bool, len(state.Hostnames))

	for _, hostname := range state.Hostnames {
		desiredSet[hostname] = true

		if err := gateway.EnsureDNSRecord(ctx, hostname, target); err != nil {
			return err
		}
	}

	existing, err := gateway.ListManagedHostnames(ctx, tunnelID)
	if err != nil {
		return err
	}

	for _, hostname := range existing {
		if desiredSet[hostname] {
			continue
		}

		if err := gateway.DeleteDNSRecord(ctx, hostname); err != nil {
			return err
		}
	}

	return nil
}

// reconcileDeletion runs the finalizer: delete every DNS record pointing at
// the tunnel, then the tunnel itself, then release the finalizer. Every step
// is idempotent so an interrupted deletion resumes safely.
//
//nolint:funcorder // private helper
func (r *ClusterTunnelReconciler) reconcileDeletion(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(tunnel, FinalizerName) {
		return ctrl.Result{}, nil
	}

	creds, err := r.Credentials.Resolve(ctx, tunnel)
	if err != nil {
		return r.failDeletion(ctx, tunnel, err)
	}

	gateway := r.NewGateway(creds, tunnel.Spec.Cloudflare.AccountID, tunnel.Spec.Cloudflare.ZoneID)

	tunnelID := tunnel.Status.TunnelID
	if tunnelID == "" {
		// Status may have been lost before it was written. The tunnel name
		// is the durable identity.
		tunnelID, err = gateway.FindTunnel(ctx, tunnel.TunnelName())
		if err != nil {
			return r.failDeletion(ctx, tunnel, err)
		}
	}

	if tunnelID != "" {
		hostnames, listErr := gateway.ListManagedHostnames(ctx, tunnelID)
		if listErr != nil {
			return r.failDeletion(ctx, tunnel, listErr)
		}

		for _, hostname := range hostnames {
			if deleteErr := gateway.DeleteDNSRecord(ctx, hostname); deleteErr != nil {
				return r.failDeletion(ctx, tunnel, deleteErr)
			}
		}

		if deleteErr := gateway.DeleteTunnel(ctx, tunnelID); deleteErr != nil {
			return r.failDeletion(ctx, tunnel, deleteErr)
		}

		logger.Info("tunnel deleted", "tunnel", tunnel.TunnelName(), "tunnelID", tunnelID)
	}

	r.Credentials.Invalidate(tunnel.Name)

	controllerutil.RemoveFinalizer(tunnel, FinalizerName)

	if err := r.Update(ctx, tunnel); err != nil {
		return ctrl.Result{}, errors.Wrap(err, "failed to remove finalizer")
	}

	return ctrl.Result{}, nil
}

// failSync classifies a sync failure. Transient errors propagate so the
// workqueue retries with exponential backoff; auth, config and credential
// errors set a failing condition and requeue at the slow fixed interval.
//
//nolint:funcorder // private helper
func (r *ClusterTunnelReconciler) failSync(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
	err error,
	startTime time.Time,
) (ctrl.Result, error) {
	reason, terminal := classifyFailure(err)

	r.writeStatus(ctx, tunnel, func(status *v1alpha1.ClusterTunnelStatus) {
		setReadyCondition(status, tunnel.Generation, reason, truncateMessage(err.Error()), false)
	})

	if r.Metrics != nil {
		r.Metrics.RecordReconcileDuration(ctx, "error", time.Since(startTime))
		r.Metrics.RecordReconcileError(ctx, metrics.ClassifyCloudflareError(err))
	}

	if terminal {
		log.FromContext(ctx).Info("reconciliation paused until input changes",
			"tunnel", tunnel.Name, "reason", reason, "error", err.Error())

		return ctrl.Result{RequeueAfter: slowRequeueDelay}, nil
	}

	//nolint:wrapcheck // already classified and wrapped at the gateway boundary
	return ctrl.Result{}, err
}

//nolint:funcorder // private helper
func (r *ClusterTunnelReconciler) failDeletion(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
	err error,
) (ctrl.Result, error) {
	// Same classification as sync: cleanup must not hot-loop on bad
	// credentials, but the finalizer is never released with remote state
	// possibly surviving.
	return r.failSync(ctx, tunnel, err, time.Now())
}

//nolint:funcorder // private helper
func (r *ClusterTunnelReconciler) recordState(ctx context.Context, tunnelName string, state desired.State) {
	if r.Metrics == nil {
		return
	}

	r.Metrics.RecordIngressRules(ctx, tunnelName, len(state.Rules))
	r.Metrics.RecordManagedHostnames(ctx, tunnelName, len(state.Hostnames))
	r.Metrics.RecordSkippedBackends(ctx, len(state.Skipped))
}

// classifyFailure maps an error to a condition reason and whether it is
// terminal (slow requeue) as opposed to transient (backoff).
func classifyFailure(err error) (reason string, terminal bool) {
	switch {
	case errors.Is(err, credentials.ErrCredentialMissing):
		return ReasonCredentialMissing, true
	case errors.Is(err, credentials.ErrCredentialMalformed):
		return ReasonCredentialMalformed, true
	case errors.Is(err, cloudflare.ErrAuth):
		return ReasonAuthError, true
	case errors.Is(err, cloudflare.ErrConfig):
		return ReasonConfigError, true
	default:
		return ReasonRetrying, false
	}
}

func syncedMessage(state desired.State) string {
	msg := fmt.Sprintf("%d ingress rules, %d hostnames", len(state.Rules), len(state.Hostnames))

	if len(state.Conflicts) > 0 {
		msg += fmt.Sprintf(", %d hostname conflicts resolved by lexicographic order", len(state.Conflicts))
	}

	if len(state.Skipped) > 0 {
		msg += fmt.Sprintf(", %d backends skipped", len(state.Skipped))
	}

	return msg
}
