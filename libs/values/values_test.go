package values

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const albTemplate = `clusterName: {{cluster_name}}
region: {{region_name}}
vpcId: {{vpc_id}}
extraLabels:
  cluster: {{cluster_name}}
`

func TestPlaceholders(t *testing.T) {
	tmpl := Parse("alb", albTemplate)
	assert.Equal(t, []string{"cluster_name", "region_name", "vpc_id"}, tmpl.Placeholders())

	assert.Empty(t, Parse("plain", "replicas: 1\n").Placeholders())
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		tokens  []string
		wantErr bool
	}{
		{
			name:   "all declared",
			text:   albTemplate,
			tokens: []string{TokenRegion, TokenCluster, TokenVpcID},
		},
		{
			name:   "declared but unused token",
			text:   "region: {{region_name}}\n",
			tokens: []string{TokenRegion, TokenCluster},
		},
		{
			name:    "undeclared token",
			text:    albTemplate,
			tokens:  []string{TokenRegion, TokenCluster},
			wantErr: true,
		},
		{
			name:    "case mismatch",
			text:    "region: {{Region_Name}}\n",
			tokens:  []string{TokenRegion},
			wantErr: true,
		},
		{
			name:    "padded placeholder is not a token",
			text:    "region: {{ region_name }}\n",
			tokens:  []string{TokenRegion},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Parse(tt.name, tt.text).Check(tt.tokens...)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUndeclaredPlaceholder)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRender(t *testing.T) {
	tmpl := Parse("alb", albTemplate)
	out, err := tmpl.Render(map[string]string{
		TokenRegion:  "us-west-2",
		TokenCluster: "spark-on-eks",
		TokenVpcID:   "vpc-0123",
	})
	require.NoError(t, err)

	assert.NotContains(t, out, "{{")
	assert.NotContains(t, out, "}}")
	assert.Equal(t, `clusterName: spark-on-eks
region: us-west-2
vpcId: vpc-0123
extraLabels:
  cluster: spark-on-eks
`, out)
}

func TestRenderSinglePass(t *testing.T) {
	out, err := Parse("t", "a: {{cluster_name}}\n").Render(map[string]string{
		TokenCluster: "{{region_name}}",
		TokenRegion:  "us-east-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "a: {{region_name}}\n", out)
}

func TestRenderMissingValue(t *testing.T) {
	_, err := Parse("alb", albTemplate).Render(map[string]string{
		TokenRegion:  "us-west-2",
		TokenCluster: "spark-on-eks",
	})
	require.ErrorIs(t, err, ErrUnresolvedPlaceholder)
	assert.Contains(t, err.Error(), "{{vpc_id}}")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(albTemplate), 0o600))

	tmpl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, tmpl.Name)
	assert.Len(t, tmpl.Placeholders(), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	vals, err := Decode("replicaCount: 2\nserviceAccount:\n  create: true\n  name: alb\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"replicaCount": 2,
		"serviceAccount": map[string]interface{}{
			"create": true,
			"name":   "alb",
		},
	}, vals)

	empty, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Decode("a: [b\n")
	assert.Error(t, err)
}
