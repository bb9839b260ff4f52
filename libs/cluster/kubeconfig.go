package cluster

import (
	"encoding/json"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// generateKubeconfig builds a kubeconfig that authenticates through
// `aws eks get-token`.
func generateKubeconfig(endpoint, certData, clusterName pulumi.StringOutput, region string) pulumi.StringOutput {
	return pulumi.All(endpoint, certData, clusterName).ApplyT(func(args []interface{}) (string, error) {
		return kubeconfig(args[0].(string), args[1].(string), args[2].(string), region)
	}).(pulumi.StringOutput)
}

func kubeconfig(endpoint, certData, clusterName, region string) (string, error) {
	cfg := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Config",
		"clusters": []map[string]interface{}{
			{
				"name": "kubernetes",
				"cluster": map[string]interface{}{
					"server":                     endpoint,
					"certificate-authority-data": certData,
				},
			},
		},
		"contexts": []map[string]interface{}{
			{
				"name": "aws",
				"context": map[string]interface{}{
					"cluster": "kubernetes",
					"user":    "aws",
				},
			},
		},
		"current-context": "aws",
		"users": []map[string]interface{}{
			{
				"name": "aws",
				"user": map[string]interface{}{
					"exec": map[string]interface{}{
						"apiVersion": "client.authentication.k8s.io/v1beta1",
						"command":    "aws",
						"args": []string{
							"eks", "get-token",
							"--cluster-name", clusterName,
							"--region", region,
						},
					},
				},
			},
		},
	}
	out, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
