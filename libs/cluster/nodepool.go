package cluster

import (
	"errors"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/eks"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Capacity types of a managed node group.
const (
	CapacityOnDemand = "ON_DEMAND"
	CapacitySpot     = "SPOT"
)

// ErrPoolBounds is returned when a pool's desired size is outside its bounds.
var ErrPoolBounds = errors.New("node pool size out of bounds")

// NodePool describes a managed node group. It is submitted once when the
// cluster is extended.
type NodePool struct {
	ID            string
	Name          string
	InstanceTypes []string
	CapacityType  string
	DesiredSize   int
	MinSize       int
	MaxSize       int
	DiskSize      int
	Labels        map[string]string
	Tags          map[string]string
}

// autoscalerTags makes a node group discoverable by cluster-autoscaler.
func autoscalerTags(clusterName, name string) map[string]string {
	tags := map[string]string{
		"Name":                              name,
		"k8s.io/cluster-autoscaler/enabled": "true",
	}
	tags["k8s.io/cluster-autoscaler/"+clusterName] = "owned"
	return tags
}

// OnDemandPool is the on-demand pool running drivers and system pods.
func OnDemandPool(clusterName string) NodePool {
	return NodePool{
		ID:            "onDemand-mn",
		Name:          "etl-ondemand",
		InstanceTypes: []string{"m5.xlarge"},
		CapacityType:  CapacityOnDemand,
		DesiredSize:   1,
		MinSize:       1,
		MaxSize:       5,
		DiskSize:      50,
		Labels:        map[string]string{"app": "spark", "lifecycle": "OnDemand"},
		Tags:          autoscalerTags(clusterName, "OnDemand-"+clusterName),
	}
}

// SpotPool is the spot pool for Spark executors. Instance types are in
// priority order and interchangeable.
func SpotPool(clusterName string) NodePool {
	return NodePool{
		ID:            "spot-mn",
		Name:          "etl-spot",
		InstanceTypes: []string{"r5.xlarge", "r4.xlarge", "r5a.xlarge"},
		CapacityType:  CapacitySpot,
		DesiredSize:   1,
		MinSize:       1,
		MaxSize:       30,
		DiskSize:      50,
		Labels:        map[string]string{"app": "spark", "lifecycle": "Ec2Spot"},
		Tags:          autoscalerTags(clusterName, "Spot-"+clusterName),
	}
}

// Pools returns the pools attached to every cluster.
func Pools(clusterName string) []NodePool {
	return []NodePool{OnDemandPool(clusterName), SpotPool(clusterName)}
}

// Validate checks sizing and capacity settings.
func (p NodePool) Validate() error {
	if p.ID == "" || p.Name == "" {
		return errors.New("node pool: id and name are required")
	}
	if len(p.InstanceTypes) == 0 {
		return fmt.Errorf("node pool %s: at least one instance type is required", p.Name)
	}
	if p.CapacityType != CapacityOnDemand && p.CapacityType != CapacitySpot {
		return fmt.Errorf("node pool %s: unknown capacity type %q", p.Name, p.CapacityType)
	}
	if p.MinSize < 0 || p.MaxSize < 1 || p.MinSize > p.MaxSize {
		return fmt.Errorf("node pool %s: %w: min %d, max %d", p.Name, ErrPoolBounds, p.MinSize, p.MaxSize)
	}
	if p.DesiredSize < p.MinSize || p.DesiredSize > p.MaxSize {
		return fmt.Errorf("node pool %s: %w: desired %d not in [%d, %d]", p.Name, ErrPoolBounds, p.DesiredSize, p.MinSize, p.MaxSize)
	}
	if p.DiskSize <= 0 {
		return fmt.Errorf("node pool %s: disk size must be positive", p.Name)
	}
	return nil
}

func (p NodePool) args(clusterName pulumi.StringInput, nodeRoleArn pulumi.StringInput, subnets pulumi.StringArrayInput) *eks.NodeGroupArgs {
	return &eks.NodeGroupArgs{
		ClusterName:   clusterName,
		NodeGroupName: pulumi.String(p.Name),
		NodeRoleArn:   nodeRoleArn,
		SubnetIds:     subnets,
		InstanceTypes: pulumi.ToStringArray(p.InstanceTypes),
		CapacityType:  pulumi.String(p.CapacityType),
		DiskSize:      pulumi.Int(p.DiskSize),
		Labels:        pulumi.ToStringMap(p.Labels),
		Tags:          pulumi.ToStringMap(p.Tags),
		ScalingConfig: &eks.NodeGroupScalingConfigArgs{
			DesiredSize: pulumi.Int(p.DesiredSize),
			MaxSize:     pulumi.Int(p.MaxSize),
			MinSize:     pulumi.Int(p.MinSize),
		},
	}
}
