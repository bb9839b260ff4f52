package cluster

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/roles"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/testutil"
)

const fakeThumbprint = "9e99a48a9960b14926bb7f3b02e22da2b0ab7280"

func testArgs(t *testing.T, ctx *pulumi.Context) *Args {
	t.Helper()
	r, err := roles.New(ctx, "spark")
	require.NoError(t, err)
	return &Args{
		VpcID:     pulumi.String("vpc-0123").ToStringOutput(),
		VpcCidr:   "10.0.0.0/16",
		SubnetIDs: pulumi.StringArray{pulumi.String("subnet-a"), pulumi.String("subnet-b")},
		NodeRole:  r.NodeRole,
		AdminRole: r.AdminRole,
		Thumbprint: func(issuer string) (string, error) {
			return fakeThumbprint, nil
		},
	}
}

func TestProvision(t *testing.T) {
	mocks := &testutil.Mocks{}

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		c, err := Provision(ctx, "spark", testArgs(t, ctx))
		require.NoError(t, err)

		assert.Equal(t, "spark", c.Name)
		assert.Equal(t, testutil.Region, c.Region)
		assert.Len(t, c.NodeGroups, 2)
		require.NotNil(t, c.Provider)

		var wg sync.WaitGroup
		wg.Add(1)
		c.Kubeconfig.ApplyT(func(kc string) error {
			assert.Contains(t, kc, "https://EXAMPLE.gr7.us-west-2.eks.amazonaws.com")
			assert.Contains(t, kc, `"--cluster-name","spark"`)
			assert.Contains(t, kc, `"--region","`+testutil.Region+`"`)
			wg.Done()
			return nil
		})
		wg.Wait()
		return nil
	}, mocks.Options())
	require.NoError(t, err)

	clusters := mocks.OfType("aws:eks/cluster:Cluster")
	require.Len(t, clusters, 1)
	assert.Equal(t, "spark", clusters[0].Inputs["name"])
	assert.Equal(t, DefaultVersion, clusters[0].Inputs["version"])
	vpcConfig := clusters[0].Inputs["vpcConfig"].(map[string]interface{})
	assert.Equal(t, true, vpcConfig["endpointPrivateAccess"])
	assert.Equal(t, true, vpcConfig["endpointPublicAccess"])

	groups := mocks.OfType("aws:eks/nodeGroup:NodeGroup")
	require.Len(t, groups, 2)

	onDemand, ok := mocks.Named("aws:eks/nodeGroup:NodeGroup", "spark-onDemand-mn")
	require.True(t, ok)
	assert.Equal(t, "etl-ondemand", onDemand.Inputs["nodeGroupName"])
	assert.Equal(t, "spark", onDemand.Inputs["clusterName"])
	assert.Equal(t, "arn:aws:iam::"+testutil.AccountID+":role/spark-nodegroup-iam-role", onDemand.Inputs["nodeRoleArn"])
	assert.Equal(t, []interface{}{"m5.xlarge"}, onDemand.Inputs["instanceTypes"])
	assert.Equal(t, map[string]interface{}{"desiredSize": 1.0, "minSize": 1.0, "maxSize": 5.0}, onDemand.Inputs["scalingConfig"])
	assert.Equal(t, 50.0, onDemand.Inputs["diskSize"])

	spot, ok := mocks.Named("aws:eks/nodeGroup:NodeGroup", "spark-spot-mn")
	require.True(t, ok)
	assert.Equal(t, "SPOT", spot.Inputs["capacityType"])
	assert.Equal(t, []interface{}{"r5.xlarge", "r4.xlarge", "r5a.xlarge"}, spot.Inputs["instanceTypes"])
	assert.Equal(t, map[string]interface{}{"desiredSize": 1.0, "minSize": 1.0, "maxSize": 30.0}, spot.Inputs["scalingConfig"])
	assert.Equal(t, map[string]interface{}{"app": "spark", "lifecycle": "Ec2Spot"}, spot.Inputs["labels"])
	tags := spot.Inputs["tags"].(map[string]interface{})
	assert.Equal(t, "owned", tags["k8s.io/cluster-autoscaler/spark"])
	assert.Equal(t, "true", tags["k8s.io/cluster-autoscaler/enabled"])

	oidc := mocks.OfType("aws:iam/openIdConnectProvider:OpenIdConnectProvider")
	require.Len(t, oidc, 1)
	assert.Equal(t, testutil.Issuer, oidc[0].Inputs["url"])
	assert.Equal(t, []interface{}{fakeThumbprint}, oidc[0].Inputs["thumbprintLists"])

	auth, ok := mocks.Named("kubernetes:core/v1:ConfigMap", "spark-aws-auth")
	require.True(t, ok)
	mapRoles := auth.Inputs["data"].(map[string]interface{})["mapRoles"].(string)
	assert.Contains(t, mapRoles, "role/spark-eks-admin-role")
	assert.Contains(t, mapRoles, "system:masters")
	assert.Contains(t, mapRoles, "role/spark-nodegroup-iam-role")
}

func TestProvisionThumbprintFailure(t *testing.T) {
	mocks := &testutil.Mocks{}

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		args := testArgs(t, ctx)
		args.Thumbprint = func(string) (string, error) {
			return "", errors.New("connection refused")
		}
		_, err := Provision(ctx, "spark", args)
		return err
	}, mocks.Options())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestProvisionRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		cluster string
		mutate  func(*Args)
	}{
		{name: "bad name", cluster: "-spark", mutate: func(*Args) {}},
		{name: "no node role", cluster: "spark", mutate: func(a *Args) { a.NodeRole = nil }},
		{name: "no admin role", cluster: "spark", mutate: func(a *Args) { a.AdminRole = nil }},
		{name: "no subnets", cluster: "spark", mutate: func(a *Args) { a.SubnetIDs = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := &testutil.Mocks{}
			err := pulumi.RunErr(func(ctx *pulumi.Context) error {
				args := testArgs(t, ctx)
				tt.mutate(args)
				_, err := Provision(ctx, tt.cluster, args)
				return err
			}, mocks.Options())
			require.Error(t, err)
			assert.Empty(t, mocks.OfType("aws:eks/cluster:Cluster"))
		})
	}
}

func TestMapRoles(t *testing.T) {
	out, err := mapRoles("arn:aws:iam::1:role/node", "arn:aws:iam::1:role/admin")
	require.NoError(t, err)
	node := strings.Index(out, "rolearn: arn:aws:iam::1:role/node")
	admin := strings.Index(out, "rolearn: arn:aws:iam::1:role/admin")
	require.GreaterOrEqual(t, node, 0)
	require.Greater(t, admin, node)
	assert.Contains(t, out, "system:node:{{EC2PrivateDNSName}}")
	assert.Contains(t, out[admin:], "system:masters")
}

func TestKubeconfig(t *testing.T) {
	kc, err := kubeconfig("https://example", "Q0E=", "spark", "eu-west-1")
	require.NoError(t, err)
	assert.Contains(t, kc, `"server":"https://example"`)
	assert.Contains(t, kc, `"certificate-authority-data":"Q0E="`)
	assert.Contains(t, kc, `"eks","get-token","--cluster-name","spark","--region","eu-west-1"`)
}
