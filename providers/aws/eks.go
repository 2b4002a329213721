package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
)

// clusterPollInterval is how often cluster status is re-checked while
// waiting for ACTIVE.
const clusterPollInterval = 30 * time.Second

func (p *Provider) applyCluster(ctx context.Context, d *ir.Descriptor) error {
	name := d.StringProperty("clusterName", d.ID)

	// Creation is not idempotent at the API level, so an existing cluster
	// short-circuits to the readiness wait.
	existing, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: &name})
	if err == nil && existing.Cluster != nil {
		logging.Info("EKS cluster already exists", "cluster", name, "status", existing.Cluster.Status)
		return p.waitClusterActive(ctx, name)
	}
	var notFound *types.ResourceNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe EKS cluster %s: %w", name, err)
	}

	roleArn := d.StringProperty("roleArn", "")
	if roleArn == "" {
		return fmt.Errorf("cluster %s requires a roleArn property", d.ID)
	}
	subnets := d.StringSliceProperty("subnetIds")
	if len(subnets) == 0 {
		return fmt.Errorf("cluster %s requires subnetIds", d.ID)
	}

	input := &eks.CreateClusterInput{
		Name:    &name,
		RoleArn: &roleArn,
		ResourcesVpcConfig: &types.VpcConfigRequest{
			SubnetIds:        subnets,
			SecurityGroupIds: d.StringSliceProperty("securityGroupIds"),
		},
	}
	if v := d.StringProperty("version", ""); v != "" {
		input.Version = &v
	}

	if _, err := p.eksClient.CreateCluster(ctx, input); err != nil {
		return fmt.Errorf("failed to create EKS cluster %s: %w", name, err)
	}
	logging.Info("EKS cluster creation started", "cluster", name)

	return p.waitClusterActive(ctx, name)
}

// waitClusterActive polls until the cluster reports ACTIVE. The caller's
// context carries the operation timeout.
func (p *Provider) waitClusterActive(ctx context.Context, name string) error {
	for {
		out, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: &name})
		if err != nil {
			return fmt.Errorf("failed to describe EKS cluster %s: %w", name, err)
		}

		switch out.Cluster.Status {
		case types.ClusterStatusActive:
			logging.Info("EKS cluster is active", "cluster", name)
			return nil
		case types.ClusterStatusFailed:
			return fmt.Errorf("EKS cluster %s entered FAILED status", name)
		case types.ClusterStatusDeleting:
			return fmt.Errorf("EKS cluster %s is being deleted", name)
		}

		logging.Debug("waiting for EKS cluster", "cluster", name, "status", out.Cluster.Status)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clusterPollInterval):
		}
	}
}

func (p *Provider) destroyCluster(ctx context.Context, d *ir.Descriptor) error {
	name := d.StringProperty("clusterName", d.ID)

	_, err := p.eksClient.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: &name})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			logging.Info("EKS cluster already gone", "cluster", name)
			return nil
		}
		return fmt.Errorf("failed to delete EKS cluster %s: %w", name, err)
	}

	// Wait until the cluster is fully gone so dependent teardown (VPC,
	// roles) does not race the deletion.
	for {
		_, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: &name})
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				logging.Info("EKS cluster deleted", "cluster", name)
				return nil
			}
			return fmt.Errorf("failed to describe EKS cluster %s: %w", name, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clusterPollInterval):
		}
	}
}
