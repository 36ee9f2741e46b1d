// Package config loads kobe's runtime configuration from a YAML file
// overlay plus CLI flags/environment variables, in that precedence
// order (file sets defaults, flags/env win), matching the layered
// configuration style spec.md's CLI surface (§6) expects each binary
// to expose via `cmd/thor/flags.go`-style `cli.v1` flags with matching
// `EnvVar`s.
package config

import (
	"os"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"
)

// Config is the full set of settings any binary under cmd/ may need;
// each binary reads only the fields relevant to it.
type Config struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
	StorePath   string `yaml:"store_path"`
	AdminAddr   string `yaml:"admin_addr"`

	StakePool        string `yaml:"stake_pool"`
	StakePoolProgram string `yaml:"stake_pool_program"`

	TipDistributionProgram         string `yaml:"tip_distribution_program"`
	PriorityFeeDistributionProgram string `yaml:"priority_fee_distribution_program"`
	ValidatorHistoryProgram        string `yaml:"validator_history_program"`
	StewardProgram                 string `yaml:"steward_program"`

	SnapshotBucket string `yaml:"snapshot_bucket"`
	SlackWebhook   string `yaml:"slack_webhook_url"`

	// AWSAccessKeyID/AWSSecretAccessKey/AWSSessionToken, when set,
	// override the SDK's default credential chain for snapshot-bucket
	// access (internal/attifact). Left empty, the bucket client falls
	// back to env vars/shared config/instance role as usual.
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSSessionToken    string `yaml:"aws_session_token"`

	SignerKeyPath string `yaml:"signer_key_path"`
}

// LoadFile reads and parses a YAML config file. A missing path is not
// an error: callers rely entirely on flags/env in that case.
func LoadFile(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, errors.Wrap(err, "config: read file")
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrap(err, "config: parse yaml")
	}
	return c, nil
}

// defaultAdminAddr is the admin-addr flag's default; it applies only when
// neither the file nor a flag/env value sets admin_addr.
const defaultAdminAddr = "localhost:9090"

// Flags is the shared cli.v1 flag set every binary in §6 accepts, each
// with a matching environment variable per the ambient-stack
// convention.
var Flags = []cli.Flag{
	cli.StringFlag{Name: "config", Usage: "path to a YAML config file overlay", EnvVar: "KOBE_CONFIG"},
	cli.StringFlag{Name: "rpc-endpoint", Usage: "Solana RPC endpoint URL", EnvVar: "KOBE_RPC_ENDPOINT"},
	cli.StringFlag{Name: "store-path", Usage: "path to the on-disk document store", EnvVar: "KOBE_STORE_PATH"},
	cli.StringFlag{Name: "admin-addr", Usage: "admin health-check listen address", Value: defaultAdminAddr, EnvVar: "KOBE_ADMIN_ADDR"},
	cli.StringFlag{Name: "stake-pool", Usage: "stake pool account address", EnvVar: "KOBE_STAKE_POOL"},
	cli.StringFlag{Name: "stake-pool-program", Usage: "stake pool program address", EnvVar: "KOBE_STAKE_POOL_PROGRAM"},
	cli.StringFlag{Name: "tip-distribution-program", Usage: "tip distribution program address", EnvVar: "KOBE_TIP_DISTRIBUTION_PROGRAM"},
	cli.StringFlag{Name: "priority-fee-distribution-program", Usage: "priority fee distribution program address", EnvVar: "KOBE_PRIORITY_FEE_DISTRIBUTION_PROGRAM"},
	cli.StringFlag{Name: "validator-history-program", Usage: "validator history program address", EnvVar: "KOBE_VALIDATOR_HISTORY_PROGRAM"},
	cli.StringFlag{Name: "steward-program", Usage: "steward program address", EnvVar: "KOBE_STEWARD_PROGRAM"},
	cli.StringFlag{Name: "snapshot-bucket", Usage: "S3 snapshot bucket name", EnvVar: "KOBE_SNAPSHOT_BUCKET"},
	cli.StringFlag{Name: "slack-webhook-url", Usage: "Slack incoming webhook URL for notifications", EnvVar: "KOBE_SLACK_WEBHOOK_URL"},
	cli.StringFlag{Name: "aws-access-key-id", Usage: "overrides the AWS SDK default credential chain for snapshot-bucket access", EnvVar: "KOBE_AWS_ACCESS_KEY_ID"},
	cli.StringFlag{Name: "aws-secret-access-key", Usage: "paired with aws-access-key-id", EnvVar: "KOBE_AWS_SECRET_ACCESS_KEY"},
	cli.StringFlag{Name: "aws-session-token", Usage: "optional, paired with aws-access-key-id", EnvVar: "KOBE_AWS_SESSION_TOKEN"},
	cli.StringFlag{Name: "signer-key-path", Usage: "path to the cranker's transaction-signing keypair", EnvVar: "KOBE_SIGNER_KEY_PATH"},
}

// FromContext layers ctx's flag values (including env-var-populated
// defaults, which cli.v1 resolves before Action runs) over a YAML file
// overlay loaded from the "config" flag, if set. Flags always win over
// the file.
func FromContext(ctx *cli.Context) (Config, error) {
	c, err := LoadFile(ctx.String("config"))
	if err != nil {
		return c, err
	}
	overlayString(ctx, "rpc-endpoint", &c.RPCEndpoint)
	overlayString(ctx, "store-path", &c.StorePath)
	if v := ctx.String("admin-addr"); v != "" && (v != defaultAdminAddr || c.AdminAddr == "") {
		c.AdminAddr = v
	}
	overlayString(ctx, "stake-pool", &c.StakePool)
	overlayString(ctx, "stake-pool-program", &c.StakePoolProgram)
	overlayString(ctx, "tip-distribution-program", &c.TipDistributionProgram)
	overlayString(ctx, "priority-fee-distribution-program", &c.PriorityFeeDistributionProgram)
	overlayString(ctx, "validator-history-program", &c.ValidatorHistoryProgram)
	overlayString(ctx, "steward-program", &c.StewardProgram)
	overlayString(ctx, "snapshot-bucket", &c.SnapshotBucket)
	overlayString(ctx, "slack-webhook-url", &c.SlackWebhook)
	overlayString(ctx, "aws-access-key-id", &c.AWSAccessKeyID)
	overlayString(ctx, "aws-secret-access-key", &c.AWSSecretAccessKey)
	overlayString(ctx, "aws-session-token", &c.AWSSessionToken)
	overlayString(ctx, "signer-key-path", &c.SignerKeyPath)
	return c, nil
}

func overlayString(ctx *cli.Context, flag string, dst *string) {
	if v := ctx.String(flag); v != "" {
		*dst = v
	}
}
