// Package network declares the VPC the cluster runs in.
package network

import (
	"errors"
	"fmt"
	"net"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// SubnetConfig names one subnet and its CIDR block.
type SubnetConfig struct {
	Name string `json:"name"`
	Cidr string `json:"cidr"`
}

// Config is the "network" stack configuration object.
type Config struct {
	Vpc            string         `json:"vpc"`
	Cidr           string         `json:"cidr"`
	PublicSubnets  []SubnetConfig `json:"publicSubnets"`
	PrivateSubnets []SubnetConfig `json:"privateSubnets"`
}

// Validate checks the CIDR blocks and that there are enough subnets for EKS,
// which needs at least two availability zones.
func (c *Config) Validate() error {
	if c.Vpc == "" {
		return errors.New("network: vpc name is required")
	}
	_, vpcNet, err := net.ParseCIDR(c.Cidr)
	if err != nil {
		return fmt.Errorf("network: invalid vpc cidr %q: %w", c.Cidr, err)
	}
	if len(c.PrivateSubnets) < 2 {
		return errors.New("network: at least two private subnets are required")
	}
	if len(c.PublicSubnets) < 1 {
		return errors.New("network: at least one public subnet is required")
	}
	for _, s := range append(append([]SubnetConfig{}, c.PublicSubnets...), c.PrivateSubnets...) {
		ip, _, err := net.ParseCIDR(s.Cidr)
		if err != nil {
			return fmt.Errorf("network: subnet %s: invalid cidr %q: %w", s.Name, s.Cidr, err)
		}
		if !vpcNet.Contains(ip) {
			return fmt.Errorf("network: subnet %s: %s is outside %s", s.Name, s.Cidr, c.Cidr)
		}
	}
	return nil
}

// Network holds the declared VPC resources.
type Network struct {
	Vpc         *ec2.Vpc
	VpcID       pulumi.StringOutput
	Cidr        string
	PubSubnets  []*ec2.Subnet
	PrivSubnets []*ec2.Subnet
}

// PrivateSubnetIDs returns the ids of the private subnets.
func (n *Network) PrivateSubnetIDs() pulumi.StringArray {
	ids := pulumi.StringArray{}
	for _, s := range n.PrivSubnets {
		ids = append(ids, s.ID())
	}
	return ids
}

// PublicSubnetIDs returns the ids of the public subnets.
func (n *Network) PublicSubnetIDs() pulumi.StringArray {
	ids := pulumi.StringArray{}
	for _, s := range n.PubSubnets {
		ids = append(ids, s.ID())
	}
	return ids
}

// Setup declares the VPC, one subnet per configured entry spread over the
// region's availability zones, an internet gateway for the public subnets
// and a single NAT gateway for the private ones.
func Setup(ctx *pulumi.Context, clusterName string, cfg *Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prefix := cfg.Vpc

	baseTags := func(name string) pulumi.StringMap {
		tags := pulumi.StringMap{
			"Name":      pulumi.String(name),
			"CreatedBy": pulumi.String("spark-on-eks"),
		}
		tags["kubernetes.io/cluster/"+clusterName] = pulumi.String("shared")
		return tags
	}

	vpc, err := ec2.NewVpc(ctx, prefix+"-vpc", &ec2.VpcArgs{
		CidrBlock:          pulumi.String(cfg.Cidr),
		EnableDnsHostnames: pulumi.Bool(true),
		EnableDnsSupport:   pulumi.Bool(true),
		InstanceTenancy:    pulumi.String("default"),
		Tags:               baseTags(prefix + "-vpc"),
	})
	if err != nil {
		return nil, err
	}

	zones, err := aws.GetAvailabilityZones(ctx, &aws.GetAvailabilityZonesArgs{
		State: pulumi.StringRef("available"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list availability zones: %w", err)
	}
	if len(zones.Names) < 2 {
		return nil, fmt.Errorf("region has %d availability zones, EKS needs 2", len(zones.Names))
	}

	newSubnets := func(kind, roleTag string, public bool, subnets []SubnetConfig) ([]*ec2.Subnet, error) {
		out := make([]*ec2.Subnet, 0, len(subnets))
		for i, s := range subnets {
			name := fmt.Sprintf("%s-%s-%s", prefix, kind, s.Name)
			tags := baseTags(name)
			tags[roleTag] = pulumi.String("1")
			sub, err := ec2.NewSubnet(ctx, name, &ec2.SubnetArgs{
				VpcId:               vpc.ID(),
				CidrBlock:           pulumi.String(s.Cidr),
				AvailabilityZone:    pulumi.String(zones.Names[i%len(zones.Names)]),
				MapPublicIpOnLaunch: pulumi.Bool(public),
				Tags:                tags,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, sub)
		}
		return out, nil
	}

	pubSubnets, err := newSubnets("pub", "kubernetes.io/role/elb", true, cfg.PublicSubnets)
	if err != nil {
		return nil, err
	}
	privSubnets, err := newSubnets("priv", "kubernetes.io/role/internal-elb", false, cfg.PrivateSubnets)
	if err != nil {
		return nil, err
	}

	igw, err := ec2.NewInternetGateway(ctx, prefix+"-gw", &ec2.InternetGatewayArgs{
		VpcId: vpc.ID(),
		Tags:  baseTags(prefix + "-gw"),
	})
	if err != nil {
		return nil, err
	}

	eip, err := ec2.NewEip(ctx, prefix+"-eip1", &ec2.EipArgs{
		Vpc:  pulumi.Bool(true),
		Tags: baseTags(prefix + "-eip1"),
	})
	if err != nil {
		return nil, err
	}

	// Single NAT gateway in the first public subnet; private subnets in
	// every zone egress through it.
	natGw, err := ec2.NewNatGateway(ctx, prefix+"-nat-gw-1", &ec2.NatGatewayArgs{
		AllocationId: eip.ID(),
		SubnetId:     pubSubnets[0].ID(),
		Tags:         baseTags(prefix + "-nat-gw-1"),
	}, pulumi.DependsOn([]pulumi.Resource{igw}))
	if err != nil {
		return nil, err
	}

	privateRouteTable, err := ec2.NewRouteTable(ctx, prefix+"-rtb-private-1", &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			&ec2.RouteTableRouteArgs{
				CidrBlock:    pulumi.String("0.0.0.0/0"),
				NatGatewayId: natGw.ID(),
			},
		},
		Tags: baseTags(prefix + "-rtb-private-1"),
	})
	if err != nil {
		return nil, err
	}

	publicRouteTable, err := ec2.NewRouteTable(ctx, prefix+"-rtb-public-1", &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			&ec2.RouteTableRouteArgs{
				CidrBlock: pulumi.String("0.0.0.0/0"),
				GatewayId: igw.ID(),
			},
		},
		Tags: baseTags(prefix + "-rtb-public-1"),
	})
	if err != nil {
		return nil, err
	}

	for i, v := range privSubnets {
		_, err = ec2.NewRouteTableAssociation(ctx, fmt.Sprintf("%s-rtb-priv-%d", prefix, i), &ec2.RouteTableAssociationArgs{
			SubnetId:     v.ID(),
			RouteTableId: privateRouteTable.ID(),
		})
		if err != nil {
			return nil, err
		}
	}
	for i, v := range pubSubnets {
		_, err = ec2.NewRouteTableAssociation(ctx, fmt.Sprintf("%s-rtb-pub-%d", prefix, i), &ec2.RouteTableAssociationArgs{
			SubnetId:     v.ID(),
			RouteTableId: publicRouteTable.ID(),
		})
		if err != nil {
			return nil, err
		}
	}

	return &Network{
		Vpc:         vpc,
		VpcID:       vpc.ID().ToStringOutput(),
		Cidr:        cfg.Cidr,
		PubSubnets:  pubSubnets,
		PrivSubnets: privSubnets,
	}, nil
}
