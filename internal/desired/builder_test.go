package desired_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/cloudflare"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/desired"
	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/metrics"
)

func setupFakeClient(objs ...client.Object) client.Client {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	return fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
}

func newBuilder(c client.Client, ingressClass string) *desired.Builder {
	return desired.NewBuilder(c, ingressClass, "", metrics.NewNoopCollector())
}

func newIngress(namespace, name, host, service string, port int32) networkingv1.Ingress {
	return networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{
				{
					Host: host,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: service,
											Port: networkingv1.ServiceBackendPort{Number: port},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func newService(namespace, name string, ports ...corev1.ServicePort) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec:       corev1.ServiceSpec{Ports: ports},
	}
}

func TestBuild_SingleIngress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "whoami", corev1.ServicePort{Port: 8080})
	builder := newBuilder(setupFakeClient(svc), "")

	state := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("default", "whoami", "whoami.example.com", "whoami", 8080),
	})

	require.Len(t, state.Rules, 2)
	assert.Equal(t, cloudflare.IngressRule{
		Hostname: "whoami.example.com",
		Service:  "http://whoami.default.svc.cluster.local:8080",
	}, state.Rules[0])
	assert.Equal(t, cloudflare.IngressRule{Service: cloudflare.CatchAllService}, state.Rules[1])
	assert.Equal(t, []string{"whoami.example.com"}, state.Hostnames)
	assert.Empty(t, state.Conflicts)
	assert.Empty(t, state.Skipped)
	assert.NotEmpty(t, state.Hash)
}

func TestBuild_EmptyInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	builder := newBuilder(setupFakeClient(), "")

	state := builder.Build(ctx, nil)

	// Catch-all-only configuration is valid for a tunnel with no ingresses.
	require.Len(t, state.Rules, 1)
	assert.True(t, state.Rules[0].IsCatchAll())
	assert.Empty(t, state.Hostnames)
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svcA := newService("default", "app-a", corev1.ServicePort{Port: 80})
	svcB := newService("default", "app-b", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svcA, svcB), "")

	ingA := newIngress("default", "a", "a.example.com", "app-a", 80)
	ingB := newIngress("default", "b", "b.example.com", "app-b", 80)

	forward := builder.Build(ctx, []networkingv1.Ingress{ingA, ingB})
	reversed := builder.Build(ctx, []networkingv1.Ingress{ingB, ingA})

	assert.Equal(t, forward.Rules, reversed.Rules)
	assert.Equal(t, forward.Hostnames, reversed.Hostnames)
	assert.Equal(t, forward.Hash, reversed.Hash)
}

func TestBuild_DuplicateHostnameLexicographicWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svcA := newService("default", "app-a", corev1.ServicePort{Port: 80})
	svcB := newService("default", "app-b", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svcA, svcB), "")

	first := newIngress("default", "aaa", "shared.example.com", "app-a", 80)
	second := newIngress("default", "zzz", "shared.example.com", "app-b", 80)

	// Arrival order must not influence the winner.
	for _, input := range [][]networkingv1.Ingress{
		{first, second},
		{second, first},
	} {
		state := builder.Build(ctx, input)

		require.Len(t, state.Rules, 2)
		assert.Equal(t, "http://app-a.default.svc.cluster.local:80", state.Rules[0].Service)

		require.Len(t, state.Conflicts, 1)
		assert.Equal(t, "shared.example.com", state.Conflicts[0].Hostname)
		assert.Equal(t, types.NamespacedName{Namespace: "default", Name: "aaa"}, state.Conflicts[0].Winner)
		assert.Equal(t, types.NamespacedName{Namespace: "default", Name: "zzz"}, state.Conflicts[0].Loser)
	}
}

func TestBuild_DuplicateHostnameAcrossNamespaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svcA := newService("alpha", "app", corev1.ServicePort{Port: 80})
	svcB := newService("beta", "app", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svcA, svcB), "")

	state := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("beta", "app", "shared.example.com", "app", 80),
		newIngress("alpha", "app", "shared.example.com", "app", 80),
	})

	// Namespace sorts before name.
	require.Len(t, state.Rules, 2)
	assert.Equal(t, "http://app.alpha.svc.cluster.local:80", state.Rules[0].Service)
}

func TestBuild_IngressClassScoping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svc), "cloudflare-tunnel")

	matching := newIngress("default", "matching", "in.example.com", "app", 80)
	className := "cloudflare-tunnel"
	matching.Spec.IngressClassName = &className

	legacy := newIngress("default", "legacy", "legacy.example.com", "app", 80)
	legacy.Annotations = map[string]string{"kubernetes.io/ingress.class": "cloudflare-tunnel"}

	other := newIngress("default", "other", "out.example.com", "app", 80)
	otherClass := "nginx"
	other.Spec.IngressClassName = &otherClass

	unclassed := newIngress("default", "unclassed", "none.example.com", "app", 80)

	state := builder.Build(ctx, []networkingv1.Ingress{matching, legacy, other, unclassed})

	assert.Equal(t, []string{"in.example.com", "legacy.example.com"}, state.Hostnames)
}

func TestBuild_NoClassManagesEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svc), "")

	ing := newIngress("default", "app", "app.example.com", "app", 80)
	className := "nginx"
	ing.Spec.IngressClassName = &className

	state := builder.Build(ctx, []networkingv1.Ingress{ing})

	assert.Equal(t, []string{"app.example.com"}, state.Hostnames)
}

func TestBuild_NamedPort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app",
		corev1.ServicePort{Name: "metrics", Port: 9090},
		corev1.ServicePort{Name: "web", Port: 8080},
	)
	builder := newBuilder(setupFakeClient(svc), "")

	ing := newIngress("default", "app", "app.example.com", "app", 0)
	ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Port = networkingv1.ServiceBackendPort{Name: "web"}

	state := builder.Build(ctx, []networkingv1.Ingress{ing})

	require.Len(t, state.Rules, 2)
	assert.Equal(t, "http://app.default.svc.cluster.local:8080", state.Rules[0].Service)
}

func TestBuild_NamedPortNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app", corev1.ServicePort{Name: "web", Port: 8080})
	builder := newBuilder(setupFakeClient(svc), "")

	ing := newIngress("default", "app", "app.example.com", "app", 0)
	ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Port = networkingv1.ServiceBackendPort{Name: "absent"}

	state := builder.Build(ctx, []networkingv1.Ingress{ing})

	require.Len(t, state.Rules, 1)
	assert.True(t, state.Rules[0].IsCatchAll())
	require.Len(t, state.Skipped, 1)
	assert.Equal(t, desired.ReasonPortNotFound, state.Skipped[0].Reason)
}

func TestBuild_ServiceNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	builder := newBuilder(setupFakeClient(), "")

	state := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("default", "app", "app.example.com", "absent", 80),
	})

	require.Len(t, state.Skipped, 1)
	assert.Equal(t, desired.ReasonServiceNotFound, state.Skipped[0].Reason)
	assert.Empty(t, state.Hostnames)
}

func TestBuild_ExternalNameService(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "upstream", corev1.ServicePort{Port: 80})
	svc.Spec.Type = corev1.ServiceTypeExternalName
	svc.Spec.ExternalName = "origin.example.net"

	builder := newBuilder(setupFakeClient(svc), "")

	state := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("default", "app", "app.example.com", "upstream", 80),
	})

	require.Len(t, state.Rules, 2)
	assert.Equal(t, "http://origin.example.net:80", state.Rules[0].Service)
}

func TestBuild_HTTPSPort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "secure", corev1.ServicePort{Port: 443})
	builder := newBuilder(setupFakeClient(svc), "")

	state := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("default", "secure", "secure.example.com", "secure", 443),
	})

	require.Len(t, state.Rules, 2)
	assert.Equal(t, "https://secure.default.svc.cluster.local:443", state.Rules[0].Service)
}

func TestBuild_PathPatterns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svc), "")

	exact := networkingv1.PathTypeExact
	prefix := networkingv1.PathTypePrefix

	ing := newIngress("default", "app", "app.example.com", "app", 80)
	ing.Spec.Rules[0].HTTP.Paths = []networkingv1.HTTPIngressPath{
		{
			Path:     "/api",
			PathType: &prefix,
			Backend:  ing.Spec.Rules[0].HTTP.Paths[0].Backend,
		},
		{
			Path:     "/login",
			PathType: &exact,
			Backend:  ing.Spec.Rules[0].HTTP.Paths[0].Backend,
		},
		{
			Path:     "/",
			PathType: &prefix,
			Backend:  ing.Spec.Rules[0].HTTP.Paths[0].Backend,
		},
	}

	state := builder.Build(ctx, []networkingv1.Ingress{ing})

	require.Len(t, state.Rules, 4)

	// Exact match sorts before prefix matches.
	assert.Equal(t, `^/login\/?$`, state.Rules[0].Path)
	assert.Equal(t, "^/api", state.Rules[1].Path)
	assert.Empty(t, state.Rules[2].Path)
	assert.True(t, state.Rules[3].IsCatchAll())
}

func TestBuild_HostlessRuleIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svc), "")

	ing := newIngress("default", "app", "", "app", 80)

	state := builder.Build(ctx, []networkingv1.Ingress{ing})

	require.Len(t, state.Rules, 1)
	assert.True(t, state.Rules[0].IsCatchAll())
}

func TestBuild_HashReflectsRuleChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svc), "")

	base := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("default", "app", "app.example.com", "app", 80),
	})
	same := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("default", "app", "app.example.com", "app", 80),
	})
	different := builder.Build(ctx, []networkingv1.Ingress{
		newIngress("default", "app", "other.example.com", "app", 80),
	})

	assert.Equal(t, base.Hash, same.Hash)
	assert.NotEqual(t, base.Hash, different.Hash)
}

func TestBuild_MultipleHostsOneIngress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc := newService("default", "app", corev1.ServicePort{Port: 80})
	builder := newBuilder(setupFakeClient(svc), "")

	ing := newIngress("default", "app", "b.example.com", "app", 80)
	ing.Spec.Rules = append(ing.Spec.Rules, networkingv1.IngressRule{
		Host:             "a.example.com",
		IngressRuleValue: ing.Spec.Rules[0].IngressRuleValue,
	})

	state := builder.Build(ctx, []networkingv1.Ingress{ing})

	assert.Equal(t, []string{"a.example.com", "b.example.com"}, state.Hostnames)
	require.Len(t, state.Rules, 3)
	assert.Equal(t, "a.example.com", state.Rules[0].Hostname)
	assert.Equal(t, "b.example.com", state.Rules[1].Hostname)
}
