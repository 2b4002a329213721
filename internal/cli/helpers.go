package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kubeforge-io/kubeforge/internal/eval"
	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/provider"
	"github.com/kubeforge-io/kubeforge/internal/secrets"
	"github.com/kubeforge-io/kubeforge/internal/state"
	"github.com/kubeforge-io/kubeforge/providers/aws"
	"github.com/kubeforge-io/kubeforge/providers/docker"
	"github.com/kubeforge-io/kubeforge/providers/kubernetes"
	"github.com/kubeforge-io/kubeforge/providers/null"
)

// Exit codes by run outcome. Validation and usage errors exit 1 via cobra.
const (
	ExitSuccess        = 0
	ExitPartialFailure = 2
	ExitAborted        = 3
)

// ExitCodeError carries a specific process exit code up to main.
type ExitCodeError struct {
	Code int
	Msg  string
}

func (e *ExitCodeError) Error() string { return e.Msg }

// outcomeErr converts a report outcome into the error main turns into an
// exit code. Success returns nil.
func outcomeErr(report *ir.ExecutionReport) error {
	switch report.Outcome {
	case ir.OutcomePartialFailure:
		msg := "run finished with failures"
		if report.FailedID != "" {
			msg = fmt.Sprintf("run halted: resource %s failed", report.FailedID)
		}
		return &ExitCodeError{Code: ExitPartialFailure, Msg: msg}
	case ir.OutcomeAborted:
		return &ExitCodeError{Code: ExitAborted, Msg: "run aborted"}
	}
	return nil
}

// configPath resolves the configuration file from the command args.
func configPath(args []string) (string, error) {
	path := "kubeforge.yaml"
	if len(args) > 0 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("config file not found: %s", abs)
	}
	return abs, nil
}

// loadConfig reads and validates the stack configuration.
func loadConfig(ctx context.Context, args []string) (*ir.Config, error) {
	path, err := configPath(args)
	if err != nil {
		return nil, err
	}
	cfg, err := eval.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Resources) == 0 {
		return nil, fmt.Errorf("config %s declares no resources", path)
	}
	return cfg, nil
}

// newRegistry builds the provider registry with every built-in provider.
func newRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.RegisterFactory("null", func() (provider.Provider, error) {
		return null.New(), nil
	})
	r.RegisterFactory("aws", func() (provider.Provider, error) {
		return aws.New(aws.Options{Region: flagAWSRegion, Profile: flagAWSProfile}), nil
	})
	r.RegisterFactory("kubernetes", func() (provider.Provider, error) {
		return kubernetes.New(flagKubeconfig), nil
	})
	r.RegisterFactory("docker", func() (provider.Provider, error) {
		return docker.New(), nil
	})
	return r
}

// newBroker builds the configured credential broker.
func newBroker(ctx context.Context) (secrets.Broker, error) {
	region := flagAWSRegion
	if region == "" {
		region = "us-east-1"
	}
	switch flagSecretSource {
	case "env":
		return &secrets.Env{Prefix: "KUBEFORGE_SECRET_"}, nil
	case "aws-secretsmanager":
		return secrets.NewSecretsManager(ctx, region)
	case "aws-ssm":
		return secrets.NewParameterStore(ctx, region)
	}
	return nil, fmt.Errorf("unknown secret source %q (want env, aws-secretsmanager, or aws-ssm)", flagSecretSource)
}

// lockingStore is a Store that also holds the single-writer lock.
type lockingStore interface {
	state.Store
	state.Locker
}

// openStore opens the configured state backend.
func openStore(ctx context.Context) (lockingStore, error) {
	switch flagBackend {
	case "local":
		return state.OpenSQLite(ctx, flagStatePath)
	case "s3":
		return state.OpenS3(ctx, state.S3Config{
			Bucket:        flagS3Bucket,
			Key:           flagS3Key,
			Region:        flagS3Region,
			DynamoDBTable: flagS3LockTable,
			Encrypt:       flagS3Encrypt,
			Profile:       flagAWSProfile,
		})
	}
	return nil, fmt.Errorf("unknown backend %q (want local or s3)", flagBackend)
}

// renderReport prints the per-resource outcome table and the summary line.
func renderReport(report *ir.ExecutionReport) {
	fmt.Println()
	for _, rs := range report.Resources {
		marker := " "
		switch rs.Status {
		case ir.StatusApplied, ir.StatusDestroyed:
			marker = "\033[32m✓\033[0m"
		case ir.StatusFailed:
			marker = "\033[31m✗\033[0m"
		case ir.StatusApplying, ir.StatusDestroying:
			marker = "\033[33m~\033[0m"
		}
		line := fmt.Sprintf("  %s %-30s %s", marker, rs.ID, rs.Status)
		if rs.Attempts > 1 {
			line += fmt.Sprintf(" (attempts: %d)", rs.Attempts)
		}
		fmt.Println(line)
		if rs.LastError != "" {
			fmt.Printf("      %s\n", rs.LastError)
		}
	}
	fmt.Printf("\nOutcome: %s (%d resources, %s)\n",
		report.Outcome, len(report.Resources), report.Duration.Round(10*time.Millisecond))
}

// confirm asks for interactive approval unless auto-approve was given.
func confirm(prompt string, autoApprove bool) bool {
	if autoApprove {
		return true
	}
	fmt.Printf("%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
