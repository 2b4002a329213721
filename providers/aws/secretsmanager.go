package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
)

// applySecret materializes a brokered secret value into Secrets Manager so
// cluster workloads can read it. The value arrives through creds and is
// never logged.
func (p *Provider) applySecret(ctx context.Context, d *ir.Descriptor, creds map[string]string) error {
	name := d.StringProperty("secretName", d.ID)

	source := d.StringProperty("sourceSecret", "")
	if source == "" && len(d.Secrets) == 1 {
		source = d.Secrets[0]
	}
	value, ok := creds[source]
	if !ok {
		return fmt.Errorf("secret resource %s: no resolved value for %q", d.ID, source)
	}

	_, err := p.secretClient.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         &name,
		SecretString: &value,
	})
	if err == nil {
		logging.Info("secret created", "secret", name)
		return nil
	}

	var exists *types.ResourceExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("failed to create secret %s: %w", name, err)
	}

	_, err = p.secretClient.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     &name,
		SecretString: &value,
	})
	if err != nil {
		return fmt.Errorf("failed to update secret %s: %w", name, err)
	}
	logging.Info("secret updated", "secret", name)
	return nil
}

func (p *Provider) destroySecret(ctx context.Context, d *ir.Descriptor) error {
	name := d.StringProperty("secretName", d.ID)

	force := true
	_, err := p.secretClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   &name,
		ForceDeleteWithoutRecovery: &force,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}

	logging.Info("secret deleted", "secret", name)
	return nil
}
