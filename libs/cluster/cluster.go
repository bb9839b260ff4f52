// Package cluster provisions the EKS cluster Spark jobs run on.
//
// The cluster is declared without default compute; two managed node groups,
// one on-demand and one spot, are attached once the aws-auth mapping exists.
package cluster

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/eks"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/roles"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/thumbprint"
)

const DefaultVersion = "1.27"

var clusterNameRe = regexp.MustCompile(`^[0-9A-Za-z][A-Za-z0-9\-_]{0,99}$`)

// Args are the inputs of Provision.
type Args struct {
	Version string
	VpcID   pulumi.StringOutput
	VpcCidr string
	// SubnetIDs host the node groups.
	SubnetIDs pulumi.StringArray
	// ControlPlaneSubnetIDs host the control plane ENIs. Defaults to SubnetIDs.
	ControlPlaneSubnetIDs pulumi.StringArray
	NodeRole              *iam.Role
	AdminRole             *iam.Role
	// Thumbprint resolves the OIDC issuer thumbprint; thumbprint.ForIssuer
	// when nil.
	Thumbprint func(issuer string) (string, error)
}

// Cluster is the handle later stages consume.
type Cluster struct {
	pulumi.ResourceState

	Name         string
	Region       string
	VpcID        pulumi.StringOutput
	EksCluster   *eks.Cluster
	NodeGroups   []*eks.NodeGroup
	OidcIssuer   pulumi.StringOutput
	OidcProvider *iam.OpenIdConnectProvider
	Kubeconfig   pulumi.StringOutput
	Provider     *kubernetes.Provider
}

func (a *Args) validate(name string) error {
	if !clusterNameRe.MatchString(name) {
		return fmt.Errorf("invalid cluster name %q", name)
	}
	if a.NodeRole == nil || a.AdminRole == nil {
		return errors.New("node role and admin role are required")
	}
	if len(a.SubnetIDs) == 0 {
		return errors.New("at least one subnet is required")
	}
	for _, p := range Pools(name) {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Provision declares the cluster, its OIDC provider and Kubernetes provider,
// and attaches the on-demand and spot node groups.
func Provision(ctx *pulumi.Context, name string, args *Args, opts ...pulumi.ResourceOption) (*Cluster, error) {
	if err := args.validate(name); err != nil {
		return nil, fmt.Errorf("cluster %s: %w", name, err)
	}
	version := args.Version
	if version == "" {
		version = DefaultVersion
	}
	controlPlaneSubnets := args.ControlPlaneSubnetIDs
	if len(controlPlaneSubnets) == 0 {
		controlPlaneSubnets = args.SubnetIDs
	}
	thumb := args.Thumbprint
	if thumb == nil {
		thumb = thumbprint.ForIssuer
	}

	region, err := aws.GetRegion(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to look up region: %w", err)
	}

	c := &Cluster{Name: name, Region: region.Name, VpcID: args.VpcID}
	if err := ctx.RegisterComponentResource("spark-on-eks:cluster:Cluster", name, c, opts...); err != nil {
		return nil, err
	}
	parent := pulumi.Parent(c)

	eksRole, err := iam.NewRole(ctx, name+"-eks-iam-role", &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(roles.AssumeRolePolicy("eks.amazonaws.com")),
	}, parent)
	if err != nil {
		return nil, err
	}
	var attachments []pulumi.Resource
	for i, policy := range []string{
		"arn:aws:iam::aws:policy/AmazonEKSServicePolicy",
		"arn:aws:iam::aws:policy/AmazonEKSClusterPolicy",
	} {
		rpa, err := iam.NewRolePolicyAttachment(ctx, fmt.Sprintf("%s-rpa-%d", name, i), &iam.RolePolicyAttachmentArgs{
			PolicyArn: pulumi.String(policy),
			Role:      eksRole.Name,
		}, parent)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, rpa)
	}

	clusterSg, err := ec2.NewSecurityGroup(ctx, name+"-cluster-sg", &ec2.SecurityGroupArgs{
		VpcId:       args.VpcID,
		Description: pulumi.String("EKS control plane access from within the VPC"),
		Egress: ec2.SecurityGroupEgressArray{
			ec2.SecurityGroupEgressArgs{
				Protocol:   pulumi.String("-1"),
				FromPort:   pulumi.Int(0),
				ToPort:     pulumi.Int(0),
				CidrBlocks: pulumi.StringArray{pulumi.String("0.0.0.0/0")},
			},
		},
		Ingress: ec2.SecurityGroupIngressArray{
			ec2.SecurityGroupIngressArgs{
				Protocol:   pulumi.String("tcp"),
				FromPort:   pulumi.Int(443),
				ToPort:     pulumi.Int(443),
				CidrBlocks: pulumi.StringArray{pulumi.String(args.VpcCidr)},
			},
		},
	}, parent)
	if err != nil {
		return nil, err
	}

	c.EksCluster, err = eks.NewCluster(ctx, name+"-eks-cluster", &eks.ClusterArgs{
		Name:    pulumi.String(name),
		RoleArn: eksRole.Arn,
		Version: pulumi.String(version),
		VpcConfig: &eks.ClusterVpcConfigArgs{
			EndpointPrivateAccess: pulumi.Bool(true),
			EndpointPublicAccess:  pulumi.Bool(true),
			PublicAccessCidrs:     pulumi.StringArray{pulumi.String("0.0.0.0/0")},
			SecurityGroupIds:      pulumi.StringArray{clusterSg.ID()},
			SubnetIds:             controlPlaneSubnets,
		},
		Tags: pulumi.StringMap{"Name": pulumi.String(name)},
	}, parent, pulumi.DependsOn(attachments))
	if err != nil {
		return nil, err
	}

	c.OidcIssuer = c.EksCluster.Identities.Index(pulumi.Int(0)).Oidcs().Index(pulumi.Int(0)).Issuer().Elem()
	issuerThumbprint := c.OidcIssuer.ApplyT(func(issuer string) (string, error) {
		fp, err := thumb(issuer)
		if err != nil {
			return "", fmt.Errorf("thumbprint of %s: %w", issuer, err)
		}
		return fp, nil
	}).(pulumi.StringOutput)
	c.OidcProvider, err = iam.NewOpenIdConnectProvider(ctx, name+"-eks-oidc", &iam.OpenIdConnectProviderArgs{
		ClientIdLists:   pulumi.StringArray{pulumi.String("sts.amazonaws.com")},
		ThumbprintLists: pulumi.StringArray{issuerThumbprint},
		Url:             c.OidcIssuer,
	}, parent)
	if err != nil {
		return nil, err
	}

	ca := c.EksCluster.CertificateAuthorities.ApplyT(func(cas []eks.ClusterCertificateAuthority) (string, error) {
		if len(cas) == 0 || cas[0].Data == nil {
			return "", errors.New("cluster has no certificate authority")
		}
		return *cas[0].Data, nil
	}).(pulumi.StringOutput)
	c.Kubeconfig = generateKubeconfig(c.EksCluster.Endpoint, ca, c.EksCluster.Name, c.Region)

	c.Provider, err = kubernetes.NewProvider(ctx, name+"-k8sprovider", &kubernetes.ProviderArgs{
		Kubeconfig: c.Kubeconfig,
	}, parent, pulumi.DependsOn([]pulumi.Resource{c.EksCluster}))
	if err != nil {
		return nil, err
	}

	awsAuth, err := newAwsAuth(ctx, name, args.NodeRole.Arn, args.AdminRole.Arn, parent, pulumi.Provider(c.Provider))
	if err != nil {
		return nil, err
	}

	for _, pool := range Pools(name) {
		ng, err := eks.NewNodeGroup(ctx, name+"-"+pool.ID,
			pool.args(c.EksCluster.Name, args.NodeRole.Arn, args.SubnetIDs),
			parent, pulumi.DependsOn([]pulumi.Resource{awsAuth}))
		if err != nil {
			return nil, fmt.Errorf("failed to attach node pool %s: %w", pool.Name, err)
		}
		c.NodeGroups = append(c.NodeGroups, ng)
	}

	_ = ctx.Log.Info(fmt.Sprintf("cluster %s: %d node pools in %s", name, len(c.NodeGroups), c.Region), nil)

	if err := ctx.RegisterResourceOutputs(c, pulumi.Map{
		"clusterName": c.EksCluster.Name,
		"kubeconfig":  pulumi.ToSecret(c.Kubeconfig),
		"oidcIssuer":  c.OidcIssuer,
	}); err != nil {
		return nil, err
	}
	return c, nil
}
