package controller

import (
	"context"

	"github.com/cockroachdb/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflare"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflared"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/credentials"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/desired"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/metrics"
)

// Config holds all configuration options for the operator manager.
// Values are typically populated from CLI flags or environment variables.
type Config struct {
	// IngressClass scopes which Ingress objects the operator manages. Empty
	// means every Ingress in the cluster.
	IngressClass string

	// OperatorNamespace is where credential Secrets are read and connector
	// workloads are deployed.
	OperatorNamespace string

	// ClusterDomain is the Kubernetes cluster domain for service DNS
	// resolution. Defaults to "cluster.local".
	ClusterDomain string

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string

	// HealthAddr is the address for the GET /health endpoint.
	HealthAddr string

	// LeaderElect enables leader election for high availability.
	// Required when running multiple replicas.
	LeaderElect bool

	// LeaderElectNS is the namespace for the leader election lease.
	LeaderElectNS string

	// LeaderElectName is the name of the leader election lease.
	LeaderElectName string

	// ManageCloudflared enables deploying cloudflared connector workloads
	// alongside the managed tunnels.
	ManageCloudflared bool

	// CloudflaredImage overrides the connector image.
	CloudflaredImage string
}

// Run initializes and starts the operator manager with the provided
// configuration. It wires the ClusterTunnel controller, metrics and the
// health endpoint, and blocks until the context is cancelled or an error
// occurs.
//
//nolint:funlen // manager setup is sequential wiring
func Run(ctx context.Context, cfg *Config) error {
	logger := log.FromContext(ctx).WithName("manager")
	logger.Info("initializing operator manager",
		"ingressClass", cfg.IngressClass,
		"namespace", cfg.OperatorNamespace,
		"manageCloudflared", cfg.ManageCloudflared,
	)

	mgrOptions := ctrl.Options{
		Metrics: server.Options{
			BindAddress: cfg.MetricsAddr,
		},
	}

	if cfg.LeaderElect {
		mgrOptions.LeaderElection = true
		mgrOptions.LeaderElectionID = cfg.LeaderElectName
		mgrOptions.LeaderElectionNamespace = cfg.LeaderElectNS

		logger.Info("leader election enabled",
			"id", cfg.LeaderElectName,
			"namespace", cfg.LeaderElectNS,
		)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), mgrOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	if err := v1alpha1.AddToScheme(mgr.GetScheme()); err != nil {
		return errors.Wrap(err, "failed to add ClusterTunnel scheme")
	}

	collector := metrics.NewCollector(ctrlmetrics.Registry)

	var connector *cloudflared.Manager

	if cfg.ManageCloudflared {
		connector = cloudflared.NewManager(
			mgr.GetClient(),
			mgr.GetScheme(),
			cfg.OperatorNamespace,
			cfg.CloudflaredImage,
			collector,
		)

		logger.Info("cloudflared connector management enabled", "image", connector.Image)
	}

	reconciler := &ClusterTunnelReconciler{
		Client:            mgr.GetClient(),
		Scheme:            mgr.GetScheme(),
		OperatorNamespace: cfg.OperatorNamespace,
		Credentials:       credentials.NewResolver(mgr.GetClient(), cfg.OperatorNamespace),
		NewGateway: func(creds credentials.Credentials, accountID, zoneID string) cloudflare.Gateway {
			return cloudflare.NewGateway(creds, accountID, zoneID, collector)
		},
		Builder:   desired.NewBuilder(mgr.GetClient(), cfg.IngressClass, cfg.ClusterDomain, collector),
		Connector: connector,
		Metrics:   collector,
	}

	if err := reconciler.SetupWithManager(mgr); err != nil {
		return errors.Wrap(err, "failed to setup ClusterTunnel controller")
	}

	if err := mgr.Add(NewHealthServer(cfg.HealthAddr, mgr.GetCache())); err != nil {
		return errors.Wrap(err, "failed to add health server")
	}

	logger.Info("starting manager")

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}
