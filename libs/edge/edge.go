// Package edge puts CloudFront in front of the Argo and JupyterHub load
// balancers so both are reachable over HTTPS without a custom certificate.
package edge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudfront"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"k8s.io/apimachinery/pkg/util/validation"
)

// AWS managed policy ids.
const (
	CachingDisabledPolicyID        = "4135ea2d-6df8-44a3-9df3-4b5a84be39ad"
	AllViewerOriginRequestPolicyID = "216adef6-5c7f-47e4-b989-5492eafa07d3"
)

const (
	MinimumProtocolVersion = "TLSv1.2_2019"

	ArgoPort = 2746
	JhubPort = 80
)

// ErrInvalidOrigin is returned for a malformed origin DNS name or port.
var ErrInvalidOrigin = errors.New("invalid origin")

var allMethods = []string{"DELETE", "GET", "HEAD", "OPTIONS", "PATCH", "POST", "PUT"}

// Args are the inputs of New.
type Args struct {
	LogBucket      string
	ArgoAlbDNSName string
	JhubAlbDNSName string
}

// Edge holds the two distributions. Callers get the live resources; the
// viewer facing hostname is Distribution.DomainName.
type Edge struct {
	pulumi.ResourceState

	Bucket *s3.LookupBucketResult
	Argo   *cloudfront.Distribution
	Jhub   *cloudfront.Distribution
}

// ValidateOrigin checks that dnsName and port can be used as an HTTP origin.
// DNS names compare case-insensitively; load balancer names keep their case.
func ValidateOrigin(dnsName string, port int) error {
	if errs := validation.IsDNS1123Subdomain(strings.ToLower(dnsName)); len(errs) > 0 {
		return fmt.Errorf("%w: dns name %q: %s", ErrInvalidOrigin, dnsName, strings.Join(errs, "; "))
	}
	if !strings.Contains(dnsName, ".") {
		return fmt.Errorf("%w: dns name %q is not fully qualified", ErrInvalidOrigin, dnsName)
	}
	if errs := validation.IsValidPortNum(port); len(errs) > 0 {
		return fmt.Errorf("%w: port %d: %s", ErrInvalidOrigin, port, strings.Join(errs, "; "))
	}
	return nil
}

// New resolves the log bucket and declares one distribution per load
// balancer. The bucket is resolved before any distribution is declared.
func New(ctx *pulumi.Context, name string, args *Args, opts ...pulumi.ResourceOption) (*Edge, error) {
	if err := ValidateOrigin(args.JhubAlbDNSName, JhubPort); err != nil {
		return nil, err
	}
	if err := ValidateOrigin(args.ArgoAlbDNSName, ArgoPort); err != nil {
		return nil, err
	}
	if args.LogBucket == "" {
		return nil, errors.New("log bucket name is required")
	}

	bucket, err := s3.LookupBucket(ctx, &s3.LookupBucketArgs{Bucket: args.LogBucket})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log bucket %s: %w", args.LogBucket, err)
	}

	e := &Edge{Bucket: bucket}
	if err := ctx.RegisterComponentResource("spark-on-eks:edge:Edge", name, e, opts...); err != nil {
		return nil, err
	}

	e.Jhub, err = AddDistribution(ctx, name+"-jhub-dist", args.JhubAlbDNSName, JhubPort, bucket, pulumi.Parent(e))
	if err != nil {
		return nil, err
	}
	e.Argo, err = AddDistribution(ctx, name+"-argo-dist", args.ArgoAlbDNSName, ArgoPort, bucket, pulumi.Parent(e))
	if err != nil {
		return nil, err
	}

	if err := ctx.RegisterResourceOutputs(e, pulumi.Map{
		"jhubDomainName": e.Jhub.DomainName,
		"argoDomainName": e.Argo.DomainName,
	}); err != nil {
		return nil, err
	}
	return e, nil
}

// AddDistribution declares a distribution proxying albDNSName:port over
// plain HTTP. Viewers are redirected to HTTPS, nothing is cached and every
// viewer header, cookie and query string reaches the origin.
func AddDistribution(ctx *pulumi.Context, id, albDNSName string, port int, logBucket *s3.LookupBucketResult, opts ...pulumi.ResourceOption) (*cloudfront.Distribution, error) {
	if err := ValidateOrigin(albDNSName, port); err != nil {
		return nil, err
	}
	originID := "alb-" + id

	_ = ctx.Log.Info(fmt.Sprintf("distribution %s: origin %s:%d, logs to %s", id, albDNSName, port, logBucket.Bucket), nil)
	return cloudfront.NewDistribution(ctx, id, &cloudfront.DistributionArgs{
		Enabled:       pulumi.Bool(true),
		IsIpv6Enabled: pulumi.Bool(true),
		HttpVersion:   pulumi.String("http2"),
		PriceClass:    pulumi.String("PriceClass_All"),
		Comment:       pulumi.String("HTTPS endpoint for " + albDNSName),
		Origins: cloudfront.DistributionOriginArray{
			&cloudfront.DistributionOriginArgs{
				DomainName: pulumi.String(albDNSName),
				OriginId:   pulumi.String(originID),
				CustomOriginConfig: &cloudfront.DistributionOriginCustomOriginConfigArgs{
					HttpPort:             pulumi.Int(port),
					HttpsPort:            pulumi.Int(443),
					OriginProtocolPolicy: pulumi.String("http-only"),
					OriginSslProtocols:   pulumi.StringArray{pulumi.String("TLSv1.2")},
				},
			},
		},
		DefaultCacheBehavior: &cloudfront.DistributionDefaultCacheBehaviorArgs{
			TargetOriginId:        pulumi.String(originID),
			AllowedMethods:        pulumi.ToStringArray(allMethods),
			CachedMethods:         pulumi.StringArray{pulumi.String("GET"), pulumi.String("HEAD")},
			CachePolicyId:         pulumi.String(CachingDisabledPolicyID),
			OriginRequestPolicyId: pulumi.String(AllViewerOriginRequestPolicyID),
			ViewerProtocolPolicy:  pulumi.String("redirect-to-https"),
			Compress:              pulumi.Bool(true),
		},
		Restrictions: &cloudfront.DistributionRestrictionsArgs{
			GeoRestriction: &cloudfront.DistributionRestrictionsGeoRestrictionArgs{
				RestrictionType: pulumi.String("none"),
			},
		},
		ViewerCertificate: &cloudfront.DistributionViewerCertificateArgs{
			CloudfrontDefaultCertificate: pulumi.Bool(true),
			MinimumProtocolVersion:       pulumi.String(MinimumProtocolVersion),
		},
		LoggingConfig: &cloudfront.DistributionLoggingConfigArgs{
			Bucket:         pulumi.String(logBucket.BucketDomainName),
			IncludeCookies: pulumi.Bool(false),
		},
	}, opts...)
}
