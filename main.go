package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/addons"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/cluster"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/config"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/edge"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/network"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/roles"
)

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		cfg, err := config.Load(ctx)
		if err != nil {
			return err
		}
		return deploy(ctx, cfg, nil)
	})
}

// deploy declares the whole stack. thumb overrides the OIDC thumbprint
// lookup; nil dials the issuer.
func deploy(ctx *pulumi.Context, cfg *config.Config, thumb func(string) (string, error)) error {
	netResources, err := network.Setup(ctx, cfg.ClusterName, &cfg.Network)
	if err != nil {
		return err
	}

	iamRoles, err := roles.New(ctx, cfg.ClusterName)
	if err != nil {
		return err
	}

	eksCluster, err := cluster.Provision(ctx, cfg.ClusterName, &cluster.Args{
		Version:               cfg.KubernetesVersion,
		VpcID:                 netResources.VpcID,
		VpcCidr:               netResources.Cidr,
		SubnetIDs:             netResources.PrivateSubnetIDs(),
		ControlPlaneSubnetIDs: append(netResources.PrivateSubnetIDs(), netResources.PublicSubnetIDs()...),
		NodeRole:              iamRoles.NodeRole,
		AdminRole:             iamRoles.AdminRole,
		Thumbprint:            thumb,
	})
	if err != nil {
		return err
	}

	if _, err := addons.Install(ctx, eksCluster, &addons.Options{
		SourceDir:   cfg.Env.SourceDir,
		ManifestURL: cfg.Env.InsightsManifestURL,
	}); err != nil {
		return err
	}

	ctx.Export("clusterName", eksCluster.EksCluster.Name)
	ctx.Export("kubeconfig", pulumi.ToSecret(eksCluster.Kubeconfig))
	ctx.Export("vpcId", netResources.VpcID)
	ctx.Export("adminRoleArn", iamRoles.AdminRole.Arn)

	if cfg.Edge == nil {
		return nil
	}
	cdn, err := edge.New(ctx, cfg.ClusterName+"-cf", &edge.Args{
		LogBucket:      cfg.Edge.LogBucket,
		ArgoAlbDNSName: cfg.Edge.ArgoAlbDNSName,
		JhubAlbDNSName: cfg.Edge.JhubAlbDNSName,
	})
	if err != nil {
		return err
	}
	ctx.Export("argoUrl", pulumi.Sprintf("https://%s", cdn.Argo.DomainName))
	ctx.Export("jhubUrl", pulumi.Sprintf("https://%s", cdn.Jhub.DomainName))
	return nil
}
