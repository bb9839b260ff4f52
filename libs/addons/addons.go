// Package addons installs the cluster add-ons Spark workloads rely on:
// ingress, node autoscaling, logs and metrics, secret syncing and the Spark
// operator itself.
//
// Templates, policies and the remote manifest are all read and checked
// before the first resource is declared, so a configuration mistake never
// leaves a half declared set of add-ons behind.
package addons

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/helm/v3"
	k8syaml "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/yaml"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/cluster"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/values"
)

const roleArnAnnotation = "eks.amazonaws.com/role-arn"

var (
	// ErrNoCluster is returned when Install is called without a provisioned
	// cluster.
	ErrNoCluster = errors.New("cluster handle is required before installing add-ons")
	// ErrDuplicateRelease is returned when two charts share a release name
	// in one namespace.
	ErrDuplicateRelease = errors.New("duplicate release")
)

// Options configure Install.
type Options struct {
	// SourceDir contains the app_resources directory.
	SourceDir string
	// ManifestURL overrides DefaultManifestURL.
	ManifestURL string
	HTTPClient  *http.Client
}

// Addons holds the declared add-ons.
type Addons struct {
	pulumi.ResourceState

	Releases          map[string]*helm.Release
	Roles             map[string]*iam.Role
	ContainerInsights *k8syaml.ConfigGroup
}

type preparedChart struct {
	Chart
	values *values.Template
	policy string
}

func checkReleases(charts []Chart) error {
	seen := map[string]bool{}
	for _, c := range charts {
		if errs := validation.IsDNS1123Label(c.Release); len(errs) > 0 {
			return fmt.Errorf("chart %s: invalid release name %q: %s", c.Chart, c.Release, strings.Join(errs, "; "))
		}
		if errs := validation.IsDNS1123Label(c.Namespace); len(errs) > 0 {
			return fmt.Errorf("chart %s: invalid namespace %q: %s", c.Chart, c.Namespace, strings.Join(errs, "; "))
		}
		key := c.Namespace + "/" + c.Release
		if seen[key] {
			return fmt.Errorf("%w %s", ErrDuplicateRelease, key)
		}
		seen[key] = true
	}
	return nil
}

func prepareCharts(sourceDir string, c *cluster.Cluster, charts []Chart) ([]preparedChart, error) {
	if err := checkReleases(charts); err != nil {
		return nil, err
	}
	resources := filepath.Join(sourceDir, "app_resources")
	out := make([]preparedChart, 0, len(charts))
	for _, ch := range charts {
		tmpl, err := values.Load(filepath.Join(resources, ch.ValuesFile))
		if err != nil {
			return nil, err
		}
		if err := tmpl.Check(ch.Tokens...); err != nil {
			return nil, err
		}
		p := preparedChart{Chart: ch, values: tmpl}
		if ch.ServiceAccount != nil {
			p.policy, err = loadPolicy(filepath.Join(resources, ch.ServiceAccount.PolicyFile), c)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// Install declares every add-on against the cluster's Kubernetes provider.
// Add-ons are independent of each other; all of them wait for the node
// groups so their pods have somewhere to run.
func Install(ctx *pulumi.Context, c *cluster.Cluster, opts *Options, ropts ...pulumi.ResourceOption) (*Addons, error) {
	if c == nil || c.Provider == nil || c.EksCluster == nil {
		return nil, ErrNoCluster
	}
	if opts == nil {
		opts = &Options{}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	charts, err := prepareCharts(opts.SourceDir, c, Charts())
	if err != nil {
		return nil, err
	}
	insights := ContainerInsights(opts.ManifestURL)
	objs, err := loadManifest(client, insights, map[string]string{
		values.TokenRegion:  c.Region,
		values.TokenCluster: c.Name,
	})
	if err != nil {
		return nil, err
	}

	a := &Addons{
		Releases: map[string]*helm.Release{},
		Roles:    map[string]*iam.Role{},
	}
	if err := ctx.RegisterComponentResource("spark-on-eks:addons:Addons", c.Name+"-addons", a, ropts...); err != nil {
		return nil, err
	}

	nodes := make([]pulumi.Resource, 0, len(c.NodeGroups))
	for _, ng := range c.NodeGroups {
		nodes = append(nodes, ng)
	}
	k8sOpts := []pulumi.ResourceOption{pulumi.Parent(a), pulumi.Provider(c.Provider), pulumi.DependsOn(nodes)}

	for _, ch := range charts {
		name := c.Name + "-" + ch.ID
		inputs := []interface{}{c.VpcID}
		if ch.ServiceAccount != nil {
			role, err := newServiceAccountRole(ctx, name+"-irsa", c, ch.Namespace, ch.ServiceAccount.Name, ch.policy, pulumi.Parent(a))
			if err != nil {
				return nil, err
			}
			a.Roles[ch.ID] = role
			inputs = append(inputs, role.Arn)
		}

		ch := ch
		vals := pulumi.All(inputs...).ApplyT(func(args []interface{}) (map[string]interface{}, error) {
			vars := map[string]string{
				values.TokenRegion:  c.Region,
				values.TokenCluster: c.Name,
				values.TokenVpcID:   args[0].(string),
			}
			var roleArn string
			if len(args) > 1 {
				roleArn = args[1].(string)
			}
			return renderValues(ch, vars, roleArn)
		}).(pulumi.MapOutput)

		args := &helm.ReleaseArgs{
			Name:            pulumi.String(ch.Release),
			Chart:           pulumi.String(ch.Chart.Chart),
			Namespace:       pulumi.String(ch.Namespace),
			CreateNamespace: pulumi.Bool(ch.CreateNamespace),
			RepositoryOpts: &helm.RepositoryOptsArgs{
				Repo: pulumi.String(ch.Repo),
			},
			Values: vals,
		}
		if ch.Version != "" {
			args.Version = pulumi.String(ch.Version)
		}
		_ = ctx.Log.Info(fmt.Sprintf("add-on %s: chart %s as release %s/%s", ch.ID, ch.Chart.Chart, ch.Namespace, ch.Release), nil)
		rel, err := helm.NewRelease(ctx, name, args, k8sOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to declare release %s: %w", ch.Release, err)
		}
		a.Releases[ch.ID] = rel
	}

	_ = ctx.Log.Info(fmt.Sprintf("add-on %s: %d objects from %s", insights.ID, len(objs), insights.URL), nil)
	a.ContainerInsights, err = k8syaml.NewConfigGroup(ctx, c.Name+"-"+insights.ID, &k8syaml.ConfigGroupArgs{
		Objs: objs,
	}, k8sOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to declare %s: %w", insights.ID, err)
	}

	if err := ctx.RegisterResourceOutputs(a, pulumi.Map{}); err != nil {
		return nil, err
	}
	return a, nil
}

// renderValues substitutes the chart's declared tokens and, for charts with
// an IRSA service account, points the service account at its role.
func renderValues(ch preparedChart, vars map[string]string, roleArn string) (map[string]interface{}, error) {
	declared := make(map[string]string, len(ch.Tokens))
	for _, tok := range ch.Tokens {
		if v, ok := vars[tok]; ok {
			declared[tok] = v
		}
	}
	rendered, err := ch.values.Render(declared)
	if err != nil {
		return nil, err
	}
	doc, err := values.Decode(rendered)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ch.ValuesFile, err)
	}
	if sa := ch.ServiceAccount; sa != nil {
		set := func(value interface{}, fields ...string) error {
			path := append(append([]string{}, sa.ValuesPath...), fields...)
			if err := unstructured.SetNestedField(doc, value, path...); err != nil {
				return fmt.Errorf("%s: cannot set %s: %w", ch.ValuesFile, strings.Join(path, "."), err)
			}
			return nil
		}
		if err := set(true, "create"); err != nil {
			return nil, err
		}
		if err := set(sa.Name, "name"); err != nil {
			return nil, err
		}
		if err := set(roleArn, "annotations", roleArnAnnotation); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
