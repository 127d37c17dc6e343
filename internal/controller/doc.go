// Package controller implements the ClusterTunnel reconciler.
//
// ClusterTunnelReconciler owns the whole lifecycle of a tunnel: it provisions
// the Cloudflare Tunnel, translates the cluster's Ingress objects into tunnel
// ingress configuration and proxied CNAME records, and optionally runs a
// cloudflared connector Deployment in the operator namespace. Ingress and
// Secret events are mapped back onto the ClusterTunnels they affect, so edits
// converge without waiting for the periodic resync.
//
// Deletion is finalizer-gated: DNS records are removed first, then the remote
// tunnel, and the finalizer is only released once both succeeded.
//
// # Error handling
//
// Remote failures classify into two groups. Transient errors (rate limits,
// server errors, timeouts) propagate to the workqueue for exponential backoff.
// Auth, config and credential errors are surfaced on the Ready condition and
// retried at a slow fixed interval, since retrying faster cannot fix them.
//
// # Configuration
//
// The operator is configured via the Config struct which accepts settings
// from CLI flags or environment variables (CF_* prefix).
//
// # Leader Election
//
// When running multiple replicas for high availability, enable leader election
// via --leader-elect flag to ensure only one operator actively reconciles
// resources at a time.
package controller
