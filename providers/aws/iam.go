package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
)

// defaultAssumeRolePolicy lets the EKS control plane assume the role.
const defaultAssumeRolePolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"Service": "eks.amazonaws.com"},
      "Action": "sts:AssumeRole"
    }
  ]
}`

func (p *Provider) applyRole(ctx context.Context, d *ir.Descriptor) error {
	name := d.StringProperty("roleName", d.ID)
	assumePolicy := d.StringProperty("assumeRolePolicy", defaultAssumeRolePolicy)

	_, err := p.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 &name,
		AssumeRolePolicyDocument: &assumePolicy,
	})
	if err != nil {
		var exists *types.EntityAlreadyExistsException
		if !errors.As(err, &exists) {
			return fmt.Errorf("failed to create IAM role %s: %w", name, err)
		}
		logging.Info("IAM role already exists", "role", name)
	} else {
		logging.Info("IAM role created", "role", name)
	}

	// Attaching an already-attached policy is a no-op, so re-runs are safe.
	for _, arn := range d.StringSliceProperty("policyArns") {
		policyArn := arn
		_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  &name,
			PolicyArn: &policyArn,
		})
		if err != nil {
			return fmt.Errorf("failed to attach policy %s to role %s: %w", arn, name, err)
		}
	}

	return nil
}

func (p *Provider) destroyRole(ctx context.Context, d *ir.Descriptor) error {
	name := d.StringProperty("roleName", d.ID)

	// Managed policies must be detached before the role can go.
	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: &name,
	})
	if err != nil {
		var notFound *types.NoSuchEntityException
		if errors.As(err, &notFound) {
			logging.Info("IAM role already gone", "role", name)
			return nil
		}
		return fmt.Errorf("failed to list policies for role %s: %w", name, err)
	}

	for _, policy := range attached.AttachedPolicies {
		_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  &name,
			PolicyArn: policy.PolicyArn,
		})
		if err != nil {
			return fmt.Errorf("failed to detach policy from role %s: %w", name, err)
		}
	}

	if _, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &name}); err != nil {
		var notFound *types.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete IAM role %s: %w", name, err)
	}

	logging.Info("IAM role deleted", "role", name)
	return nil
}
