package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kafkaops/agent/pkg/model"
)

// ServiceExposure selects how the orchestrator provider's Service objects
// are reached from outside the cluster (spec §4.4).
type ServiceExposure string

const (
	ExposureClusterInternal ServiceExposure = "cluster-internal"
	ExposureNodePort        ServiceExposure = "node-port"
	ExposureLoadBalancer    ServiceExposure = "load-balancer"
)

// OrchestratorProvider runs clusters as StatefulSets on Kubernetes,
// grounded on the clientset-construction pattern of
// kube-controller-viz's pkg/k8s.Client.
type OrchestratorProvider struct {
	clientset *kubernetes.Clientset
	exposure  ServiceExposure
	logger    *slog.Logger
}

// NewOrchestratorProvider builds a clientset, using in-cluster config when
// kubeconfig is empty and a kubeconfig file otherwise.
func NewOrchestratorProvider(kubeconfig string, exposure ServiceExposure, logger *slog.Logger) (*OrchestratorProvider, error) {
	var cfg *rest.Config
	var err error

	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("building in-cluster config: %w", err)
		}
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("building config from kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building clientset: %w", err)
	}

	if exposure == "" {
		exposure = ExposureClusterInternal
	}

	return &OrchestratorProvider{clientset: clientset, exposure: exposure, logger: logger}, nil
}

var _ Runtime = (*OrchestratorProvider)(nil)

func (p *OrchestratorProvider) namespace(instanceID string) string {
	return "kafkaops-" + instanceID
}

func tcpProbe(port int) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt(port)},
		},
		InitialDelaySeconds: 10,
		PeriodSeconds:       10,
	}
}

func (p *OrchestratorProvider) statefulSet(name string, replicas int32, image string, port int, storageGiB int, cfg model.ClusterConfig) *appsv1.StatefulSet {
	labels := map[string]string{"app": name}
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: name,
			Replicas:    &replicas,
			Selector:    &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:           name,
						Image:          image,
						Ports:          []corev1.ContainerPort{{ContainerPort: int32(port)}},
						ReadinessProbe: tcpProbe(port),
						LivenessProbe:  tcpProbe(port),
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("250m"),
								corev1.ResourceMemory: resource.MustParse("512Mi"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("1"),
								corev1.ResourceMemory: resource.MustParse("2Gi"),
							},
						},
						VolumeMounts: []corev1.VolumeMount{{Name: "data", MountPath: "/data"}},
					}},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{{
				ObjectMeta: metav1.ObjectMeta{Name: "data"},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceStorage: resource.MustParse(fmt.Sprintf("%dGi", storageGiB)),
						},
					},
				},
			}},
		},
	}
}

func (p *OrchestratorProvider) service(name string, port int, exposure ServiceExposure) *corev1.Service {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{"app": name}},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": name},
			Ports:    []corev1.ServicePort{{Port: int32(port), TargetPort: intstr.FromInt(port)}},
		},
	}
	switch exposure {
	case ExposureNodePort:
		svc.Spec.Type = corev1.ServiceTypeNodePort
	case ExposureLoadBalancer:
		svc.Spec.Type = corev1.ServiceTypeLoadBalancer
	default:
		svc.Spec.Type = corev1.ServiceTypeClusterIP
	}
	return svc
}

func (p *OrchestratorProvider) Provision(ctx context.Context, instanceID string, cfg model.ClusterConfig) (ProvisionResult, error) {
	ns := p.namespace(instanceID)

	if _, err := p.clientset.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: ns},
	}, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	coordSS := p.statefulSet("coordinator", 1, "bitnami/zookeeper:latest", CoordinatorPort, cfg.StorageGiBPerBroker, cfg)
	brokerSS := p.statefulSet("broker", int32(cfg.ClusterSize), "bitnami/kafka:latest", BrokerBasePort, cfg.StorageGiBPerBroker, cfg)

	for _, ss := range []*appsv1.StatefulSet{coordSS, brokerSS} {
		if _, err := p.clientset.AppsV1().StatefulSets(ns).Create(ctx, ss, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
			p.cleanupBestEffort(context.Background(), instanceID)
			return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
		}
	}

	coordSvc := p.service("coordinator", CoordinatorPort, ExposureClusterInternal)
	brokerSvc := p.service("broker", BrokerBasePort, p.exposure)
	for _, svc := range []*corev1.Service{coordSvc, brokerSvc} {
		if _, err := p.clientset.CoreV1().Services(ns).Create(ctx, svc, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
			p.cleanupBestEffort(context.Background(), instanceID)
			return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
		}
	}

	deadline := time.Now().Add(10 * time.Minute)
	for {
		ready, err := p.replicasReady(ctx, ns, int32(cfg.ClusterSize))
		if err == nil && ready {
			break
		}
		if time.Now().After(deadline) {
			p.cleanupBestEffort(context.Background(), instanceID)
			msg := "timed out waiting for workload replicas to become ready"
			return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: msg}, fmt.Errorf(msg)
		}
		select {
		case <-ctx.Done():
			return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: ctx.Err().Error()}, ctx.Err()
		case <-time.After(readinessPoll * 5):
		}
	}

	connInfo, err := p.GetConnectionInfo(ctx, instanceID)
	if err != nil {
		p.cleanupBestEffort(context.Background(), instanceID)
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	return ProvisionResult{Status: StatusSucceeded, InstanceID: instanceID, ConnectionInfo: connInfo}, nil
}

func (p *OrchestratorProvider) replicasReady(ctx context.Context, ns string, wantBrokers int32) (bool, error) {
	coord, err := p.clientset.AppsV1().StatefulSets(ns).Get(ctx, "coordinator", metav1.GetOptions{})
	if err != nil {
		return false, err
	}
	broker, err := p.clientset.AppsV1().StatefulSets(ns).Get(ctx, "broker", metav1.GetOptions{})
	if err != nil {
		return false, err
	}
	return coord.Status.ReadyReplicas == 1 && broker.Status.ReadyReplicas == wantBrokers, nil
}

func (p *OrchestratorProvider) Deprovision(ctx context.Context, instanceID string) (DeprovisionResult, error) {
	ns := p.namespace(instanceID)
	if _, err := p.clientset.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{}); apierrors.IsNotFound(err) {
		return DeprovisionResult{Status: StatusSucceeded}, nil
	}

	p.cleanupBestEffort(ctx, instanceID)
	return DeprovisionResult{Status: StatusSucceeded}, nil
}

// cleanupBestEffort deletes workloads, services, and PVCs explicitly: spec
// §4.4 notes these do not cascade from the namespace alone in every
// cluster configuration, so each kind is removed by name.
func (p *OrchestratorProvider) cleanupBestEffort(ctx context.Context, instanceID string) {
	ns := p.namespace(instanceID)

	for _, name := range []string{"coordinator", "broker"} {
		if err := p.clientset.AppsV1().StatefulSets(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			p.logger.Warn("deleting statefulset", "instance_id", instanceID, "name", name, "error", err)
		}
		if err := p.clientset.CoreV1().Services(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			p.logger.Warn("deleting service", "instance_id", instanceID, "name", name, "error", err)
		}
	}

	pvcs, err := p.clientset.CoreV1().PersistentVolumeClaims(ns).List(ctx, metav1.ListOptions{})
	if err == nil {
		for _, pvc := range pvcs.Items {
			if err := p.clientset.CoreV1().PersistentVolumeClaims(ns).Delete(ctx, pvc.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
				p.logger.Warn("deleting pvc", "instance_id", instanceID, "name", pvc.Name, "error", err)
			}
		}
	}

	if err := p.clientset.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		p.logger.Warn("deleting namespace", "instance_id", instanceID, "error", err)
	}
}

func (p *OrchestratorProvider) GetStatus(ctx context.Context, instanceID string) (ProvisionStatus, error) {
	ns := p.namespace(instanceID)
	broker, err := p.clientset.AppsV1().StatefulSets(ns).Get(ctx, "broker", metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return StatusFailed, nil
	}
	if err != nil {
		return StatusFailed, nil
	}
	if broker.Status.ReadyReplicas == *broker.Spec.Replicas {
		return StatusSucceeded, nil
	}
	return StatusInProgress, nil
}

func (p *OrchestratorProvider) GetConnectionInfo(ctx context.Context, instanceID string) (*model.ConnectionInfo, error) {
	ns := p.namespace(instanceID)
	brokerSvc, err := p.clientset.CoreV1().Services(ns).Get(ctx, "broker", metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching broker service: %w", err)
	}
	coordSvc, err := p.clientset.CoreV1().Services(ns).Get(ctx, "coordinator", metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching coordinator service: %w", err)
	}

	var endpoint string
	switch brokerSvc.Spec.Type {
	case corev1.ServiceTypeNodePort:
		nodes, err := p.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{Limit: 1})
		if err != nil || len(nodes.Items) == 0 {
			return nil, fmt.Errorf("resolving node-port host: %w", err)
		}
		host := nodeAddress(nodes.Items[0])
		endpoint = fmt.Sprintf("%s:%d", host, brokerSvc.Spec.Ports[0].NodePort)
	case corev1.ServiceTypeLoadBalancer:
		if len(brokerSvc.Status.LoadBalancer.Ingress) == 0 {
			return nil, fmt.Errorf("load balancer ingress not yet assigned")
		}
		ing := brokerSvc.Status.LoadBalancer.Ingress[0]
		host := ing.IP
		if host == "" {
			host = ing.Hostname
		}
		endpoint = fmt.Sprintf("%s:%d", host, brokerSvc.Spec.Ports[0].Port)
	default:
		endpoint = fmt.Sprintf("%s.%s.svc.cluster.local:%d", brokerSvc.Name, ns, brokerSvc.Spec.Ports[0].Port)
	}

	return &model.ConnectionInfo{
		BootstrapEndpoints: []string{endpoint},
		CoordinatorConn:    fmt.Sprintf("%s.%s.svc.cluster.local:%d", coordSvc.Name, ns, coordSvc.Spec.Ports[0].Port),
	}, nil
}

func nodeAddress(node corev1.Node) string {
	for _, addr := range node.Status.Addresses {
		if addr.Type == corev1.NodeExternalIP {
			return addr.Address
		}
	}
	for _, addr := range node.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			return addr.Address
		}
	}
	return ""
}

func (p *OrchestratorProvider) HealthCheck(ctx context.Context, instanceID string) bool {
	status, err := p.GetStatus(ctx, instanceID)
	return err == nil && status == StatusSucceeded
}
