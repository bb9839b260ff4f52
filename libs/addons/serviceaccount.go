package addons

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/cluster"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/values"
)

// loadPolicy reads an IAM policy template. Policies may scope themselves to
// the cluster through {{cluster_name}} and {{region_name}}.
func loadPolicy(path string, c *cluster.Cluster) (string, error) {
	tmpl, err := values.Load(path)
	if err != nil {
		return "", err
	}
	if err := tmpl.Check(values.TokenRegion, values.TokenCluster); err != nil {
		return "", err
	}
	doc, err := tmpl.Render(map[string]string{
		values.TokenRegion:  c.Region,
		values.TokenCluster: c.Name,
	})
	if err != nil {
		return "", err
	}
	if !json.Valid([]byte(doc)) {
		return "", fmt.Errorf("policy %s is not valid JSON", path)
	}
	return doc, nil
}

// webIdentityPolicy trusts tokens the cluster issues to one service account.
func webIdentityPolicy(providerArn, issuer, namespace, serviceAccount string) (string, error) {
	host := strings.TrimPrefix(issuer, "https://")
	doc, err := json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Action": "sts:AssumeRoleWithWebIdentity",
				"Effect": "Allow",
				"Principal": map[string]interface{}{
					"Federated": providerArn,
				},
				"Condition": map[string]interface{}{
					"StringEquals": map[string]interface{}{
						host + ":sub": fmt.Sprintf("system:serviceaccount:%s:%s", namespace, serviceAccount),
						host + ":aud": "sts.amazonaws.com",
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

func newServiceAccountRole(ctx *pulumi.Context, name string, c *cluster.Cluster, namespace, serviceAccount, policy string, opts ...pulumi.ResourceOption) (*iam.Role, error) {
	trust := pulumi.All(c.OidcProvider.Arn, c.OidcIssuer).ApplyT(func(args []interface{}) (string, error) {
		return webIdentityPolicy(args[0].(string), args[1].(string), namespace, serviceAccount)
	}).(pulumi.StringOutput)

	return iam.NewRole(ctx, name, &iam.RoleArgs{
		AssumeRolePolicy: trust,
		InlinePolicies: iam.RoleInlinePolicyArray{
			&iam.RoleInlinePolicyArgs{
				Name:   pulumi.String(name + "-policy"),
				Policy: pulumi.String(policy),
			},
		},
		Tags: pulumi.StringMap{
			"kubernetes.io/service-account": pulumi.String(namespace + "/" + serviceAccount),
		},
	}, opts...)
}
