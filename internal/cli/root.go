package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kubeforge-io/kubeforge/internal/logging"
)

var (
	flagLogLevel  string
	flagStatePath string
	flagBackend   string

	flagS3Bucket    string
	flagS3Key       string
	flagS3Region    string
	flagS3LockTable string
	flagS3Encrypt   bool

	flagSecretSource string
	flagAWSRegion    string
	flagAWSProfile   string
	flagKubeconfig   string
)

var rootCmd = &cobra.Command{
	Use:   "kubeforge",
	Short: "Declarative ML platform deployments",
	Long: `Kubeforge provisions ML platform stacks from a declarative resource
configuration: EKS clusters, IAM roles, platform components, and pipelines,
ordered by their dependencies and tracked in a durable state store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel)
	},
}

// ExecuteContext runs the root command with a cancellable context, so an
// interrupt propagates to the engine and aborts at a resource boundary.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagStatePath, "state", ".kubeforge/state.db", "Path to the local state database")
	pf.StringVar(&flagBackend, "backend", "local", "State backend (local or s3)")

	pf.StringVar(&flagS3Bucket, "s3-bucket", "", "S3 bucket for the s3 backend")
	pf.StringVar(&flagS3Key, "s3-key", "kubeforge/state.json", "S3 object key for the s3 backend")
	pf.StringVar(&flagS3Region, "s3-region", "", "Region of the s3 backend bucket")
	pf.StringVar(&flagS3LockTable, "s3-lock-table", "", "DynamoDB table for state locking")
	pf.BoolVar(&flagS3Encrypt, "s3-encrypt", false, "Enable server-side encryption on the state object")

	pf.StringVar(&flagSecretSource, "secrets", "env", "Credential broker (env, aws-secretsmanager, aws-ssm)")
	pf.StringVar(&flagAWSRegion, "region", "", "Default AWS region for the aws provider")
	pf.StringVar(&flagAWSProfile, "profile", "", "AWS shared config profile")
	pf.StringVar(&flagKubeconfig, "kubeconfig", "", "Path to kubeconfig for the kubernetes provider")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
}
