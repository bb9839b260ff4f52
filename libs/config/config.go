// Package config reads the stack configuration and the process environment.
package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	pulumiconfig "github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/cluster"
	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/network"
)

const (
	DefaultClusterName = "spark-on-eks"

	envPrefix = "sparkeks"
)

// Env is read from SPARKEKS_* variables.
type Env struct {
	SourceDir string `envconfig:"SOURCE_DIR" default:"."`
	// InsightsManifestURL overrides the Container Insights manifest; empty
	// keeps the add-on's default.
	InsightsManifestURL string `envconfig:"INSIGHTS_MANIFEST_URL"`
}

// EdgeConfig is the optional "cloudfront" stack configuration object.
type EdgeConfig struct {
	LogBucket      string `json:"logBucket"`
	ArgoAlbDNSName string `json:"argoAlbDnsName"`
	JhubAlbDNSName string `json:"jhubAlbDnsName"`
}

type Config struct {
	ClusterName       string
	KubernetesVersion string
	Network           network.Config
	// Edge is nil when no "cloudfront" object is set.
	Edge *EdgeConfig
	Env  Env
}

// FromEnv reads Env. Unset and empty variables take their defaults.
func FromEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if env.SourceDir == "" {
		env.SourceDir = "."
	}
	return env, nil
}

// Load reads the stack configuration and environment and validates both.
func Load(ctx *pulumi.Context) (*Config, error) {
	conf := pulumiconfig.New(ctx, "")

	cfg := &Config{
		ClusterName:       conf.Get("clusterName"),
		KubernetesVersion: conf.Get("kubernetesVersion"),
	}
	if cfg.ClusterName == "" {
		cfg.ClusterName = DefaultClusterName
	}
	if cfg.KubernetesVersion == "" {
		cfg.KubernetesVersion = cluster.DefaultVersion
	}
	if err := conf.TryObject("network", &cfg.Network); err != nil {
		return nil, fmt.Errorf("network config: %w", err)
	}

	var edge EdgeConfig
	if err := conf.TryObject("cloudfront", &edge); err == nil {
		cfg.Edge = &edge
	} else if !errors.Is(err, pulumiconfig.ErrMissingVar) {
		return nil, fmt.Errorf("cloudfront config: %w", err)
	}

	env, err := FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Env = env

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ClusterName == "" {
		return errors.New("clusterName must not be empty")
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if c.Edge != nil {
		if c.Edge.LogBucket == "" || c.Edge.ArgoAlbDNSName == "" || c.Edge.JhubAlbDNSName == "" {
			return errors.New("cloudfront config needs logBucket, argoAlbDnsName and jhubAlbDnsName")
		}
	}
	return nil
}
