package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
)

// Provider provisions EKS clusters, IAM roles, and Secrets Manager secrets.
// SDK clients are created lazily on first use with the region from the
// descriptor (falling back to Options.Region).
type Provider struct {
	opts Options

	mu           sync.Mutex
	eksClient    *eks.Client
	iamClient    *iam.Client
	secretClient *secretsmanager.Client
	stsClient    *sts.Client
}

// Options configures the AWS provider.
type Options struct {
	Region  string
	Profile string
}

func New(opts Options) *Provider {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	return &Provider{opts: opts}
}

func (p *Provider) Name() string { return "aws" }

func (p *Provider) ensureClients(ctx context.Context, region string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.eksClient != nil && p.iamClient != nil && p.secretClient != nil && p.stsClient != nil {
		return nil
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))
	if p.opts.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(p.opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.eksClient = eks.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.secretClient = secretsmanager.NewFromConfig(cfg)
	p.stsClient = sts.NewFromConfig(cfg)

	// Fail early on unusable credentials rather than partway into a plan.
	ident, err := p.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("AWS credential check failed: %w", err)
	}
	logging.Debug("AWS provider initialized", "account", *ident.Account, "region", region)

	return nil
}

func (p *Provider) region(d *ir.Descriptor) string {
	return d.StringProperty("region", p.opts.Region)
}

// Apply dispatches on the resource kind.
func (p *Provider) Apply(ctx context.Context, d *ir.Descriptor, creds map[string]string) error {
	if err := p.ensureClients(ctx, p.region(d)); err != nil {
		return err
	}

	switch d.Kind {
	case ir.KindCluster:
		return p.applyCluster(ctx, d)
	case ir.KindIamRole:
		return p.applyRole(ctx, d)
	case ir.KindSecret:
		return p.applySecret(ctx, d, creds)
	}
	return fmt.Errorf("aws provider cannot apply kind %s (resource %s)", d.Kind, d.ID)
}

// Destroy dispatches on the resource kind.
func (p *Provider) Destroy(ctx context.Context, d *ir.Descriptor) error {
	if err := p.ensureClients(ctx, p.region(d)); err != nil {
		return err
	}

	switch d.Kind {
	case ir.KindCluster:
		return p.destroyCluster(ctx, d)
	case ir.KindIamRole:
		return p.destroyRole(ctx, d)
	case ir.KindSecret:
		return p.destroySecret(ctx, d)
	}
	return fmt.Errorf("aws provider cannot destroy kind %s (resource %s)", d.Kind, d.ID)
}
