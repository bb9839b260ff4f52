package edge

import (
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/testutil"
)

const distributionType = "aws:cloudfront/distribution:Distribution"

func TestNew(t *testing.T) {
	mocks := &testutil.Mocks{Buckets: []string{"my-logs"}}

	var wg sync.WaitGroup
	var argoDomain, jhubDomain string
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		e, err := New(ctx, "cf", &Args{
			LogBucket:      "my-logs",
			ArgoAlbDNSName: "argo.example.com",
			JhubAlbDNSName: "jhub.example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "my-logs.s3.amazonaws.com", e.Bucket.BucketDomainName)

		wg.Add(2)
		e.Argo.DomainName.ApplyT(func(d string) error {
			argoDomain = d
			wg.Done()
			return nil
		})
		e.Jhub.DomainName.ApplyT(func(d string) error {
			jhubDomain = d
			wg.Done()
			return nil
		})
		return nil
	}, mocks.Options())
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, "cf-argo-dist.cloudfront.net", argoDomain)
	assert.Equal(t, "cf-jhub-dist.cloudfront.net", jhubDomain)

	dists := mocks.OfType(distributionType)
	require.Len(t, dists, 2)

	ports := map[string]float64{"cf-argo-dist": ArgoPort, "cf-jhub-dist": JhubPort}
	origins := map[string]string{"cf-argo-dist": "argo.example.com", "cf-jhub-dist": "jhub.example.com"}
	for _, d := range dists {
		behavior := d.Inputs["defaultCacheBehavior"].(map[string]interface{})
		assert.Equal(t, "redirect-to-https", behavior["viewerProtocolPolicy"], d.Name)
		assert.Equal(t, CachingDisabledPolicyID, behavior["cachePolicyId"], d.Name)
		assert.Equal(t, AllViewerOriginRequestPolicyID, behavior["originRequestPolicyId"], d.Name)
		assert.Len(t, behavior["allowedMethods"], 7, d.Name)

		origin := d.Inputs["origins"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, origins[d.Name], origin["domainName"], d.Name)
		custom := origin["customOriginConfig"].(map[string]interface{})
		assert.Equal(t, "http-only", custom["originProtocolPolicy"], d.Name)
		assert.Equal(t, ports[d.Name], custom["httpPort"], d.Name)

		cert := d.Inputs["viewerCertificate"].(map[string]interface{})
		assert.Equal(t, true, cert["cloudfrontDefaultCertificate"], d.Name)
		assert.Equal(t, MinimumProtocolVersion, cert["minimumProtocolVersion"], d.Name)

		logging := d.Inputs["loggingConfig"].(map[string]interface{})
		assert.Equal(t, "my-logs.s3.amazonaws.com", logging["bucket"], d.Name)
	}
}

func TestNewUnknownBucket(t *testing.T) {
	mocks := &testutil.Mocks{}

	var newErr error
	_ = pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, newErr = New(ctx, "cf", &Args{
			LogBucket:      "missing-logs",
			ArgoAlbDNSName: "argo.example.com",
			JhubAlbDNSName: "jhub.example.com",
		})
		return nil
	}, mocks.Options())

	require.Error(t, newErr)
	assert.Contains(t, newErr.Error(), "missing-logs")
	assert.Empty(t, mocks.OfType(distributionType))
}

func TestNewInvalidOrigin(t *testing.T) {
	tests := []struct {
		name string
		args Args
	}{
		{"argo not a hostname", Args{LogBucket: "my-logs", ArgoAlbDNSName: "not a host", JhubAlbDNSName: "jhub.example.com"}},
		{"jhub empty", Args{LogBucket: "my-logs", ArgoAlbDNSName: "argo.example.com"}},
		{"jhub single label", Args{LogBucket: "my-logs", ArgoAlbDNSName: "argo.example.com", JhubAlbDNSName: "localhost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := &testutil.Mocks{Buckets: []string{"my-logs"}}

			var newErr error
			_ = pulumi.RunErr(func(ctx *pulumi.Context) error {
				_, newErr = New(ctx, "cf", &tt.args)
				return nil
			}, mocks.Options())

			assert.ErrorIs(t, newErr, ErrInvalidOrigin)
			assert.Empty(t, mocks.Resources())
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	assert.NoError(t, ValidateOrigin("internal-alb-123.us-west-2.elb.amazonaws.com", ArgoPort))
	assert.ErrorIs(t, ValidateOrigin("argo.example.com", 0), ErrInvalidOrigin)
	assert.ErrorIs(t, ValidateOrigin("argo.example.com", 70000), ErrInvalidOrigin)
	assert.NoError(t, ValidateOrigin("ARGO.example.com", ArgoPort))
	assert.NoError(t, ValidateOrigin("Argo.Example.com", ArgoPort))
	assert.NoError(t, ValidateOrigin("SparkO-Argo-1ABCDEFGHIJ-123456789.us-west-2.elb.amazonaws.com", ArgoPort))
	assert.ErrorIs(t, ValidateOrigin("argo_lb.example.com", ArgoPort), ErrInvalidOrigin)
	assert.ErrorIs(t, ValidateOrigin("-argo.example.com", ArgoPort), ErrInvalidOrigin)
}
