package cloudflared

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/api/v1alpha1"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflare"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/metrics"
)

const (
	// DefaultImage is the connector image run when none is configured.
	DefaultImage = "cloudflare/cloudflared:2024.8.2"

	// ConfigHashAnnotation carries the rendered config hash on the pod
	// template so config changes roll the Deployment.
	ConfigHashAnnotation = "cloudflare-tunnels-operator.io/config-hash"

	metricsPort = 2000

	probeInitialDelaySeconds = 10
	probePeriodSeconds       = 10
)

// Manager reconciles the connector workload in the operator namespace. All
// objects carry an owner reference to the ClusterTunnel so garbage collection
// removes them with the resource.
type Manager struct {
	Client    client.Client
	Scheme    *runtime.Scheme
	Namespace string
	Image     string
	Metrics   metrics.Collector
}

// NewManager creates a Manager deploying connectors into the given namespace.
func NewManager(c client.Client, scheme *runtime.Scheme, namespace, image string, m metrics.Collector) *Manager {
	if image == "" {
		image = DefaultImage
	}

	return &Manager{
		Client:    c,
		Scheme:    scheme,
		Namespace: namespace,
		Image:     image,
		Metrics:   m,
	}
}

// CredentialsSecretName is the managed Secret holding the connector
// credentials for a tunnel.
func CredentialsSecretName(tunnelName string) string {
	return fmt.Sprintf("cloudflared-%s-credentials", tunnelName)
}

// ConfigMapName is the managed ConfigMap holding the rendered config.
func ConfigMapName(tunnelName string) string {
	return fmt.Sprintf("cloudflared-%s-config", tunnelName)
}

// DeploymentName is the connector Deployment for a tunnel.
func DeploymentName(tunnelName string) string {
	return fmt.Sprintf("cloudflared-%s", tunnelName)
}

func workloadLabels(tunnelName string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/part-of":  "cloudflare-tunnels-operator",
		"app.kubernetes.io/name":     "cloudflared",
		"app.kubernetes.io/instance": tunnelName,
	}
}

// EnsureCredentials reconciles the managed credentials Secret and returns the
// connector credentials in effect. A freshly created tunnel writes its secret;
// an existing tunnel reuses the stored one, since Cloudflare never returns a
// tunnel secret after creation.
func (m *Manager) EnsureCredentials(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
	handle cloudflare.TunnelHandle,
) (Credentials, error) {
	startTime := time.Now()

	name := CredentialsSecretName(tunnel.TunnelName())
	secret := &corev1.Secret{}

	err := m.Client.Get(ctx, types.NamespacedName{Name: name, Namespace: m.Namespace}, secret)
	if err != nil && !apierrors.IsNotFound(err) {
		return Credentials{}, errors.Wrapf(err, "get credentials secret %s/%s", m.Namespace, name)
	}

	if err == nil && handle.Secret == "" {
		creds, parseErr := ParseCredentials(secret.Data[CredentialsKey])
		if parseErr != nil {
			return Credentials{}, errors.Wrapf(parseErr, "credentials secret %s/%s", m.Namespace, name)
		}

		if creds.TunnelID == handle.ID {
			return creds, nil
		}

		return Credentials{}, errors.Newf(
			"credentials secret %s/%s belongs to tunnel %s, expected %s",
			m.Namespace, name, creds.TunnelID, handle.ID)
	}

	if handle.Secret == "" {
		// Tunnel exists remotely but its secret was never stored. The
		// remote tunnel must be deleted (or a tunnelSecretRef supplied)
		// before the connector can register.
		return Credentials{}, errors.Newf(
			"no stored credentials for existing tunnel %s, delete the remote tunnel or set tunnelSecretRef",
			handle.ID)
	}

	creds := Credentials{
		AccountTag:   tunnel.Spec.Cloudflare.AccountID,
		TunnelSecret: handle.Secret,
		TunnelID:     handle.ID,
	}

	raw, err := MarshalCredentials(creds)
	if err != nil {
		return Credentials{}, err
	}

	desired := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: m.Namespace},
	}

	_, err = controllerutil.CreateOrUpdate(ctx, m.Client, desired, func() error {
		desired.Labels = workloadLabels(tunnel.TunnelName())
		desired.Data = map[string][]byte{CredentialsKey: raw}

		return controllerutil.SetControllerReference(tunnel, desired, m.Scheme)
	})
	if err != nil {
		m.recordOperation(ctx, "secret", "error", startTime, err)

		return Credentials{}, errors.Wrapf(err, "apply credentials secret %s/%s", m.Namespace, name)
	}

	m.recordOperation(ctx, "secret", "success", startTime, nil)

	return creds, nil
}

// EnsureConfig reconciles the config ConfigMap and returns the rendered
// config hash.
func (m *Manager) EnsureConfig(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
	tunnelID string,
	rules []cloudflare.IngressRule,
) (string, error) {
	startTime := time.Now()

	content, hash, err := NewConfig(tunnelID, rules).Render()
	if err != nil {
		return "", err
	}

	name := ConfigMapName(tunnel.TunnelName())
	desired := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: m.Namespace},
	}

	_, err = controllerutil.CreateOrUpdate(ctx, m.Client, desired, func() error {
		desired.Labels = workloadLabels(tunnel.TunnelName())
		desired.Data = map[string]string{ConfigKey: string(content)}

		return controllerutil.SetControllerReference(tunnel, desired, m.Scheme)
	})
	if err != nil {
		m.recordOperation(ctx, "configmap", "error", startTime, err)

		return "", errors.Wrapf(err, "apply config map %s/%s", m.Namespace, name)
	}

	m.recordOperation(ctx, "configmap", "success", startTime, nil)

	return hash, nil
}

// EnsureDeployment reconciles the connector Deployment. The config hash lands
// in the pod template annotations so the pods restart on config changes.
func (m *Manager) EnsureDeployment(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
	tunnelID, configHash string,
) error {
	startTime := time.Now()

	tunnelName := tunnel.TunnelName()
	labels := workloadLabels(tunnelName)
	name := DeploymentName(tunnelName)

	desired := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: m.Namespace},
	}

	_, err := controllerutil.CreateOrUpdate(ctx, m.Client, desired, func() error {
		desired.Labels = labels
		desired.Spec.Selector = &metav1.LabelSelector{MatchLabels: labels}
		desired.Spec.Template = corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{
				Labels:      labels,
				Annotations: map[string]string{ConfigHashAnnotation: configHash},
			},
			Spec: corev1.PodSpec{
				Volumes: []corev1.Volume{
					{
						Name: "config",
						VolumeSource: corev1.VolumeSource{
							ConfigMap: &corev1.ConfigMapVolumeSource{
								LocalObjectReference: corev1.LocalObjectReference{
									Name: ConfigMapName(tunnelName),
								},
							},
						},
					},
					{
						Name: "credentials",
						VolumeSource: corev1.VolumeSource{
							Secret: &corev1.SecretVolumeSource{
								SecretName: CredentialsSecretName(tunnelName),
							},
						},
					},
				},
				Containers: []corev1.Container{
					{
						Name:  "cloudflared",
						Image: m.Image,
						Args: []string{
							"tunnel",
							"--no-autoupdate",
							"--metrics", fmt.Sprintf("0.0.0.0:%d", metricsPort),
							"--config", ConfigPath,
							"run", tunnelID,
						},
						VolumeMounts: []corev1.VolumeMount{
							{
								Name:      "config",
								MountPath: "/config",
							},
							{
								Name:      "credentials",
								MountPath: CredentialsPath,
								SubPath:   CredentialsKey,
							},
						},
						LivenessProbe: &corev1.Probe{
							ProbeHandler: corev1.ProbeHandler{
								HTTPGet: &corev1.HTTPGetAction{
									Path: "/ready",
									Port: intstr.FromInt32(metricsPort),
								},
							},
							FailureThreshold:    1,
							InitialDelaySeconds: probeInitialDelaySeconds,
							PeriodSeconds:       probePeriodSeconds,
						},
					},
				},
			},
		}

		return controllerutil.SetControllerReference(tunnel, desired, m.Scheme)
	})
	if err != nil {
		m.recordOperation(ctx, "deployment", "error", startTime, err)

		return errors.Wrapf(err, "apply deployment %s/%s", m.Namespace, name)
	}

	m.recordOperation(ctx, "deployment", "success", startTime, nil)

	return nil
}

// Ensure reconciles the whole connector workload and returns the connector
// config hash.
func (m *Manager) Ensure(
	ctx context.Context,
	tunnel *v1alpha1.ClusterTunnel,
	handle cloudflare.TunnelHandle,
	rules []cloudflare.IngressRule,
) (string, error) {
	if _, err := m.EnsureCredentials(ctx, tunnel, handle); err != nil {
		return "", err
	}

	hash, err := m.EnsureConfig(ctx, tunnel, handle.ID, rules)
	if err != nil {
		return "", err
	}

	if err := m.EnsureDeployment(ctx, tunnel, handle.ID, hash); err != nil {
		return "", err
	}

	return hash, nil
}

//nolint:funcorder // private helper
func (m *Manager) recordOperation(ctx context.Context, operation, status string, startTime time.Time, err error) {
	if m.Metrics == nil {
		return
	}

	m.Metrics.RecordConnectorOperation(ctx, operation, status, time.Since(startTime))

	if err != nil {
		errorType := "unknown"
		if apierrors.IsConflict(err) {
			errorType = "conflict"
		}

		m.Metrics.RecordConnectorError(ctx, operation, errorType)
	}
}
