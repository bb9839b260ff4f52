// Package testutil provides a Pulumi mock monitor that records every
// resource a program declares.
package testutil

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	AccountID = "123456789012"
	Region    = "us-west-2"
	Issuer    = "https://oidc.eks.us-west-2.amazonaws.com/id/EXAMPLED539D4633E53DE1B71EXAMPLE"
)

// Registered is a resource seen by the mock monitor.
type Registered struct {
	Type   string
	Name   string
	Inputs map[string]interface{}
}

// Mocks answers resource registrations by echoing inputs plus a few
// computed attributes, and invokes with canned account data.
type Mocks struct {
	// Buckets are the S3 bucket names getBucket resolves.
	Buckets []string

	mu        sync.Mutex
	resources []Registered
}

func (m *Mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	m.resources = append(m.resources, Registered{
		Type:   args.TypeToken,
		Name:   args.Name,
		Inputs: args.Inputs.Mappable(),
	})
	m.mu.Unlock()

	outputs := args.Inputs.Copy()
	switch args.TypeToken {
	case "aws:iam/role:Role":
		outputs["arn"] = resource.NewStringProperty(fmt.Sprintf("arn:aws:iam::%s:role/%s", AccountID, args.Name))
		outputs["name"] = resource.NewStringProperty(args.Name)
	case "aws:iam/openIdConnectProvider:OpenIdConnectProvider":
		outputs["arn"] = resource.NewStringProperty(fmt.Sprintf("arn:aws:iam::%s:oidc-provider/%s", AccountID, Issuer[len("https://"):]))
	case "aws:eks/cluster:Cluster":
		outputs["endpoint"] = resource.NewStringProperty("https://EXAMPLE.gr7.us-west-2.eks.amazonaws.com")
		outputs["certificateAuthorities"] = resource.NewPropertyValue([]interface{}{
			map[string]interface{}{"data": "LS0tLS1CRUdJTi1DRVJUSUZJQ0FURS0tLS0t"},
		})
		outputs["identities"] = resource.NewPropertyValue([]interface{}{
			map[string]interface{}{
				"oidcs": []interface{}{map[string]interface{}{"issuer": Issuer}},
			},
		})
	case "aws:cloudfront/distribution:Distribution":
		outputs["domainName"] = resource.NewStringProperty(args.Name + ".cloudfront.net")
	}
	return args.Name + "_id", outputs, nil
}

func (m *Mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	switch args.Token {
	case "aws:index/getRegion:getRegion":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"name": Region,
			"id":   Region,
		}), nil
	case "aws:index/getCallerIdentity:getCallerIdentity":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"accountId": AccountID,
			"arn":       fmt.Sprintf("arn:aws:iam::%s:user/deployer", AccountID),
			"userId":    "AIDAEXAMPLE",
			"id":        AccountID,
		}), nil
	case "aws:index/getAvailabilityZones:getAvailabilityZones":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"names": []interface{}{Region + "a", Region + "b", Region + "c"},
			"id":    Region,
		}), nil
	case "aws:s3/getBucket:getBucket":
		name := args.Args["bucket"].StringValue()
		for _, b := range m.Buckets {
			if b == name {
				return resource.NewPropertyMapFromMap(map[string]interface{}{
					"bucket":           name,
					"id":               name,
					"arn":              "arn:aws:s3:::" + name,
					"bucketDomainName": name + ".s3.amazonaws.com",
				}), nil
			}
		}
		return nil, fmt.Errorf("failed getting S3 Bucket (%s): NotFound", name)
	}
	return args.Args, nil
}

// Resources returns the recorded resources sorted by type and name, since
// registration order depends on output resolution.
func (m *Mocks) Resources() []Registered {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Registered(nil), m.resources...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// OfType returns the recorded resources with the given type token.
func (m *Mocks) OfType(typ string) []Registered {
	var out []Registered
	for _, r := range m.Resources() {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

// Named returns the recorded resource with the given type and name.
func (m *Mocks) Named(typ, name string) (Registered, bool) {
	for _, r := range m.OfType(typ) {
		if r.Name == name {
			return r, true
		}
	}
	return Registered{}, false
}

// Options returns the run option installing m as the mock monitor.
func (m *Mocks) Options() pulumi.RunOption {
	return pulumi.WithMocks("project", "stack", m)
}
