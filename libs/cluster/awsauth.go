package cluster

import (
	"fmt"

	corev1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/core/v1"
	metav1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/meta/v1"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"gopkg.in/yaml.v3"
)

type roleMapping struct {
	RoleArn  string   `yaml:"rolearn"`
	Username string   `yaml:"username"`
	Groups   []string `yaml:"groups"`
}

// mapRoles renders the aws-auth mapRoles entry: nodes join through the node
// role, the admin role gets system:masters.
func mapRoles(nodeRoleArn, adminRoleArn string) (string, error) {
	out, err := yaml.Marshal([]roleMapping{
		{
			RoleArn:  nodeRoleArn,
			Username: "system:node:{{EC2PrivateDNSName}}",
			Groups:   []string{"system:bootstrappers", "system:nodes"},
		},
		{
			RoleArn:  adminRoleArn,
			Username: "admin",
			Groups:   []string{"system:masters"},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode aws-auth mapRoles: %w", err)
	}
	return string(out), nil
}

func newAwsAuth(ctx *pulumi.Context, name string, nodeRoleArn, adminRoleArn pulumi.StringOutput, opts ...pulumi.ResourceOption) (*corev1.ConfigMap, error) {
	roles := pulumi.All(nodeRoleArn, adminRoleArn).ApplyT(func(args []interface{}) (string, error) {
		return mapRoles(args[0].(string), args[1].(string))
	}).(pulumi.StringOutput)

	return corev1.NewConfigMap(ctx, name+"-aws-auth", &corev1.ConfigMapArgs{
		Metadata: &metav1.ObjectMetaArgs{
			Name:      pulumi.String("aws-auth"),
			Namespace: pulumi.String("kube-system"),
		},
		Data: pulumi.StringMap{
			"mapRoles": roles,
		},
	}, opts...)
}
