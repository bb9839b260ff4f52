package addons

import "github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/values"

// DefaultManifestURL is the Container Insights quickstart: CloudWatch agent
// and fluentd daemonsets in one multi-document manifest.
const DefaultManifestURL = "https://raw.githubusercontent.com/aws-samples/amazon-cloudwatch-container-insights/latest/k8s-deployment-manifest-templates/deployment-mode/daemonset/container-insights-monitoring/quickstart/cwagent-fluentd-quickstart.yaml"

const systemNamespace = "kube-system"

// ServiceAccount is an add-on service account bound to an IAM role through
// the cluster OIDC provider.
type ServiceAccount struct {
	Name string
	// ValuesPath locates the chart's service account block in its values.
	ValuesPath []string
	// PolicyFile is an IAM policy template under app_resources.
	PolicyFile string
}

// Chart is one Helm release.
type Chart struct {
	ID              string
	Chart           string
	Repo            string
	Version         string
	Release         string
	Namespace       string
	CreateNamespace bool
	// ValuesFile is a values template under app_resources.
	ValuesFile string
	// Tokens are the placeholders ValuesFile may use.
	Tokens         []string
	ServiceAccount *ServiceAccount
}

// Manifest is a remote multi-document manifest applied as is.
type Manifest struct {
	ID     string
	URL    string
	Tokens []string
}

// Charts returns the chart add-ons in install order.
func Charts() []Chart {
	return []Chart{
		{
			ID:         "alb-chart",
			Chart:      "aws-load-balancer-controller",
			Repo:       "https://aws.github.io/eks-charts",
			Version:    "1.6.1",
			Release:    "alb",
			Namespace:  systemNamespace,
			ValuesFile: "alb-values.yaml",
			Tokens:     []string{values.TokenRegion, values.TokenCluster, values.TokenVpcID},
			ServiceAccount: &ServiceAccount{
				Name:       "aws-load-balancer-controller",
				ValuesPath: []string{"serviceAccount"},
				PolicyFile: "iam/alb-controller-policy.json",
			},
		},
		{
			ID:         "cluster-autoscaler",
			Chart:      "cluster-autoscaler",
			Repo:       "https://kubernetes.github.io/autoscaler",
			Version:    "9.29.3",
			Release:    "nodescaler",
			Namespace:  systemNamespace,
			ValuesFile: "autoscaler-values.yaml",
			Tokens:     []string{values.TokenRegion, values.TokenCluster},
			ServiceAccount: &ServiceAccount{
				Name:       "cluster-autoscaler",
				ValuesPath: []string{"rbac", "serviceAccount"},
				PolicyFile: "iam/autoscaler-policy.json",
			},
		},
		{
			ID:         "secret-controller-chart",
			Chart:      "kubernetes-external-secrets",
			Repo:       "https://external-secrets.github.io/kubernetes-external-secrets/",
			Version:    "8.5.5",
			Release:    "external-secrets",
			Namespace:  systemNamespace,
			ValuesFile: "ex-secret-values.yaml",
			Tokens:     []string{values.TokenRegion},
			ServiceAccount: &ServiceAccount{
				Name:       "external-secrets-controller",
				ValuesPath: []string{"serviceAccount"},
				PolicyFile: "iam/external-secrets-policy.json",
			},
		},
		{
			ID:              "spark-operator-chart",
			Chart:           "spark-operator",
			Repo:            "https://googlecloudplatform.github.io/spark-on-k8s-operator",
			Version:         "1.1.27",
			Release:         "spark-operator",
			Namespace:       "spark-operator",
			CreateNamespace: true,
			ValuesFile:      "spark-operator-values.yaml",
		},
	}
}

// ContainerInsights is the CloudWatch logging and metrics add-on.
func ContainerInsights(url string) Manifest {
	if url == "" {
		url = DefaultManifestURL
	}
	return Manifest{
		ID:     "container-insight",
		URL:    url,
		Tokens: []string{values.TokenRegion, values.TokenCluster},
	}
}
