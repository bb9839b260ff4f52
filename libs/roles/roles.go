// Package roles declares the IAM identities the cluster is built around:
// the role its worker nodes run as and the role that administers it.
package roles

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// NodePolicies are attached to the node role. CloudWatchAgentServerPolicy
// lets the Container Insights agents ship logs and metrics.
var NodePolicies = []string{
	"arn:aws:iam::aws:policy/AmazonEKSWorkerNodePolicy",
	"arn:aws:iam::aws:policy/AmazonEKS_CNI_Policy",
	"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly",
	"arn:aws:iam::aws:policy/CloudWatchAgentServerPolicy",
}

// Roles are the node and administrator identities.
type Roles struct {
	NodeRole  *iam.Role
	AdminRole *iam.Role
}

// AssumeRolePolicy returns a trust policy for an AWS service principal.
func AssumeRolePolicy(service string) string {
	return trustPolicy(map[string]interface{}{"Service": service})
}

func trustPolicy(principal map[string]interface{}) string {
	doc, _ := json.Marshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": principal,
				"Action":    "sts:AssumeRole",
			},
		},
	})
	return string(doc)
}

// New declares the node role with its managed policies and an administrator
// role any principal of the current account may assume.
func New(ctx *pulumi.Context, name string) (*Roles, error) {
	nodeRole, err := iam.NewRole(ctx, name+"-nodegroup-iam-role", &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(AssumeRolePolicy("ec2.amazonaws.com")),
	})
	if err != nil {
		return nil, err
	}
	for i, policy := range NodePolicies {
		_, err := iam.NewRolePolicyAttachment(ctx, fmt.Sprintf("%s-ngpa-%d", name, i), &iam.RolePolicyAttachmentArgs{
			Role:      nodeRole.Name,
			PolicyArn: pulumi.String(policy),
		})
		if err != nil {
			return nil, err
		}
	}

	current, err := aws.GetCallerIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up caller identity: %w", err)
	}
	adminRole, err := iam.NewRole(ctx, name+"-eks-admin-role", &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(trustPolicy(map[string]interface{}{
			"AWS": fmt.Sprintf("arn:aws:iam::%s:root", current.AccountId),
		})),
		Description: pulumi.String("Administrator of EKS cluster " + name),
	})
	if err != nil {
		return nil, err
	}

	return &Roles{NodeRole: nodeRole, AdminRole: adminRole}, nil
}
