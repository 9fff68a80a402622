package tuning

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/baseline-gate/internal/xerrors"
)

// Fetcher is the interface the Watcher needs from a parameter source.
// Extracted to decouple the Watcher from the concrete SSM client, enabling
// simpler test doubles.
type Fetcher interface {
	FetchRaw(ctx context.Context) (string, error)
}

// SSMFetcher reads the tuning document from an SSM parameter.
type SSMFetcher struct {
	client *ssm.Client
	param  string
}

// NewSSMFetcher creates a fetcher for the given parameter name. A nil awsCfg
// loads the default AWS config chain.
func NewSSMFetcher(ctx context.Context, param string, awsCfg *aws.Config) (*SSMFetcher, error) {
	if param == "" {
		return nil, xerrors.New("parameter name is required")
	}

	var cfg aws.Config
	var err error
	if awsCfg != nil {
		cfg = *awsCfg
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}

	return &SSMFetcher{
		client: ssm.NewFromConfig(cfg),
		param:  param,
	}, nil
}

// FetchRaw gets the current tuning document from SSM.
func (f *SSMFetcher) FetchRaw(ctx context.Context) (string, error) {
	out, err := f.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(f.param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", f.param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", f.param)
	}

	raw := strings.TrimSpace(*out.Parameter.Value)
	if raw == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", f.param)
	}

	return raw, nil
}
