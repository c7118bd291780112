package kubernetes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/catherinevee/depmgr/internal/kube"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
)

const clusterARN = "arn:aws:eks:us-east-1:111111111111:cluster/prod"

func clusterNode() models.ServiceNode {
	return models.ServiceNode{
		Name:            "prod",
		ResourceType:    models.ResourceTypeKubernetesCluster,
		Provider:        models.ProviderAWS,
		Region:          "us-east-1",
		CloudResourceID: clusterARN,
	}
}

func fixtures() []runtime.Object {
	podLabels := map[string]string{"app": "checkout"}
	return []runtime.Object{
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "checkout", Namespace: "shop"},
			Spec: corev1.ServiceSpec{
				Type:      corev1.ServiceTypeClusterIP,
				ClusterIP: "10.100.0.10",
				Selector:  podLabels,
				Ports:     []corev1.ServicePort{{Port: 8080}},
			},
		},
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "checkout-api", Namespace: "shop"},
			Spec: appsv1.DeploymentSpec{
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
					Spec: corev1.PodSpec{Containers: []corev1.Container{{
						Name:    "api",
						EnvFrom: []corev1.EnvFromSource{{ConfigMapRef: &corev1.ConfigMapEnvSource{LocalObjectReference: corev1.LocalObjectReference{Name: "checkout-config"}}}},
						Env: []corev1.EnvVar{
							{Name: "DB_HOST", Value: "orders-db.abc.us-east-1.rds.amazonaws.com"},
							{Name: "CACHE_HOST", ValueFrom: &corev1.EnvVarSource{ConfigMapKeyRef: &corev1.ConfigMapKeySelector{
								LocalObjectReference: corev1.LocalObjectReference{Name: "checkout-config"},
								Key:                  "redis",
							}}},
						},
					}}},
				},
			},
			Status: appsv1.DeploymentStatus{AvailableReplicas: 2},
		},
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "worker", Namespace: "other"},
			Spec: appsv1.DeploymentSpec{
				Template: corev1.PodTemplateSpec{ObjectMeta: metav1.ObjectMeta{Labels: podLabels}},
			},
		},
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "checkout-config", Namespace: "shop"},
			Data:       map[string]string{"QUEUE_URL": "https://sqs.us-east-1.amazonaws.com/111111111111/orders", "redis": "cache.internal"},
		},
		&networkingv1.Ingress{
			ObjectMeta: metav1.ObjectMeta{Name: "public", Namespace: "shop"},
			Spec: networkingv1.IngressSpec{Rules: []networkingv1.IngressRule{{
				Host: "shop.example.com",
				IngressRuleValue: networkingv1.IngressRuleValue{HTTP: &networkingv1.HTTPIngressRuleValue{
					Paths: []networkingv1.HTTPIngressPath{{
						Path:    "/",
						Backend: networkingv1.IngressBackend{Service: &networkingv1.IngressServiceBackend{Name: "checkout"}},
					}},
				}},
			}}},
		},
	}
}

func TestEnricher_Enrich(t *testing.T) {
	cs := fake.NewSimpleClientset(fixtures()...)
	e := New(kube.Static{clusterARN: cs}, providers.Options{})

	result := e.Enrich(context.Background(), "user-1", []models.ServiceNode{clusterNode()}, models.Credentials{})
	require.Empty(t, result.Errors)

	byID := make(map[string]models.ServiceNode)
	for _, n := range result.Nodes {
		byID[n.CloudResourceID] = n
	}
	require.Len(t, byID, 4)

	svcID := "k8s://" + clusterARN + "/shop/service/checkout"
	svc := byID[svcID]
	assert.Equal(t, models.ResourceTypeK8sService, svc.ResourceType)
	assert.Equal(t, models.ProviderKubernetes, svc.Provider)
	assert.Equal(t, "10.100.0.10", svc.Endpoint)
	assert.Equal(t, []string{"checkout.shop.svc.cluster.local"}, svc.MetaStrings(models.MetaHostnames))
	assert.Equal(t, "prod", svc.MetaString(models.MetaCluster))

	deployID := "k8s://" + clusterARN + "/shop/deployment/checkout-api"
	deploy := byID[deployID]
	assert.Equal(t, models.ResourceTypeK8sWorkload, deploy.ResourceType)
	assert.Equal(t, "available", deploy.Status)

	ingressID := "k8s://" + clusterARN + "/shop/ingress/public"
	assert.Equal(t, []string{"shop.example.com"}, byID[ingressID].MetaStrings(models.MetaHostnames))

	assert.Equal(t, map[string]string{
		"DB_HOST":    "orders-db.abc.us-east-1.rds.amazonaws.com",
		"CACHE_HOST": "cache.internal",
		"QUEUE_URL":  "https://sqs.us-east-1.amazonaws.com/111111111111/orders",
		"redis":      "cache.internal",
	}, result.Data.EnvVars[deployID])

	// the selector only matches workloads in the service's namespace
	assert.ElementsMatch(t, []models.Relationship{
		{SourceID: svcID, TargetID: deployID, Type: mapper.RelationshipServiceToWorkload, Provider: models.ProviderKubernetes},
		{SourceID: ingressID, TargetID: svcID, Type: mapper.RelationshipIngressToService, Provider: models.ProviderKubernetes},
	}, result.Relationships)
}

func TestEnricher_EnvVarsKeyedByObject(t *testing.T) {
	deployment := func(namespace, dbHost string) *appsv1.Deployment {
		return &appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: namespace},
			Spec: appsv1.DeploymentSpec{Template: corev1.PodTemplateSpec{Spec: corev1.PodSpec{
				Containers: []corev1.Container{{Name: "api", Env: []corev1.EnvVar{{Name: "DB_HOST", Value: dbHost}}}},
			}}},
		}
	}
	cs := fake.NewSimpleClientset(
		deployment("prod", "postgres.prod.svc.cluster.local"),
		deployment("staging", "postgres.staging.svc.cluster.local"),
	)

	result := New(kube.Static{clusterARN: cs}, providers.Options{}).
		Enrich(context.Background(), "user-1", []models.ServiceNode{clusterNode()}, models.Credentials{})
	require.Empty(t, result.Errors)

	assert.Equal(t, map[string]map[string]string{
		"k8s://" + clusterARN + "/prod/deployment/api":    {"DB_HOST": "postgres.prod.svc.cluster.local"},
		"k8s://" + clusterARN + "/staging/deployment/api": {"DB_HOST": "postgres.staging.svc.cluster.local"},
	}, result.Data.EnvVars)
}

func TestEnricher_SkipsUnknownClusters(t *testing.T) {
	e := New(kube.Static{}, providers.Options{})
	other := models.ServiceNode{Name: "db", ResourceType: models.ResourceTypeDatabase, CloudResourceID: "db-1"}

	result := e.Enrich(context.Background(), "user-1", []models.ServiceNode{clusterNode(), other}, models.Credentials{})
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Nodes)
}

type failingConnector struct{}

func (failingConnector) Clientset(string) (k8s.Interface, error) {
	return nil, errors.New("certificate expired")
}

func TestEnricher_ConnectFailure(t *testing.T) {
	result := New(failingConnector{}, providers.Options{}).
		Enrich(context.Background(), "user-1", []models.ServiceNode{clusterNode()}, models.Credentials{})
	assert.Equal(t, []string{"kubernetes: connect failed (resource: prod): certificate expired"}, result.Errors)
}

func TestEnricher_ListFailureKeepsOtherKinds(t *testing.T) {
	cs := fake.NewSimpleClientset(fixtures()...)
	cs.PrependReactor("list", "ingresses", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("forbidden")
	})

	result := New(kube.Static{clusterARN: cs}, providers.Options{}).
		Enrich(context.Background(), "user-1", []models.ServiceNode{clusterNode()}, models.Credentials{})

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "kubernetes: list failed (resource: prod)")
	assert.Contains(t, result.Errors[0], "ingresses: forbidden")
	assert.Len(t, result.Nodes, 3)
}
