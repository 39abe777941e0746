package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Factory builds backends from configuration. AWS clients are created
// lazily from the default credential chain, one per region, unless injected.
type Factory struct {
	mu            sync.Mutex
	sfnClient     SFNAPI
	lambdaClient  LambdaAPI
	sfnClients    map[string]SFNAPI
	lambdaClients map[string]LambdaAPI
	loadConfig    func(ctx context.Context) (aws.Config, error)
	builtins      map[string]Backend
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithSFNClient sets a custom Step Functions client used for every region
// (useful for testing).
func WithSFNClient(c SFNAPI) FactoryOption {
	return func(f *Factory) { f.sfnClient = c }
}

// WithLambdaClient sets a custom Lambda client used for every region.
func WithLambdaClient(c LambdaAPI) FactoryOption {
	return func(f *Factory) { f.lambdaClient = c }
}

// WithBuiltin registers an in-process backend under a model name, selected
// by backend type "phenom".
func WithBuiltin(model string, b Backend) FactoryOption {
	return func(f *Factory) { f.builtins[model] = b }
}

// WithAWSConfigLoader replaces the default credential chain loader.
func WithAWSConfigLoader(load func(ctx context.Context) (aws.Config, error)) FactoryOption {
	return func(f *Factory) { f.loadConfig = load }
}

// NewFactory creates a Factory with the given options.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		builtins:      make(map[string]Backend),
		sfnClients:    make(map[string]SFNAPI),
		lambdaClients: make(map[string]LambdaAPI),
		loadConfig: func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FromConfig builds the backend for one stage. An unset phenom model falls
// back to the builtin named after the stage ("phenom-a" or "phenom-b").
func (f *Factory) FromConfig(ctx context.Context, cfg types.BackendConfig, stage types.StageName) (Backend, error) {
	switch cfg.Type {
	case types.BackendProcess:
		if cfg.Command == "" {
			return nil, fmt.Errorf("process backend: command is required")
		}
		return &ProcessBackend{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
		}, nil
	case "", types.BackendPhenom:
		model := cfg.Model
		if model == "" {
			model = defaultModel(stage)
		}
		b, ok := f.builtins[model]
		if !ok {
			return nil, fmt.Errorf("unknown phenom model %q", model)
		}
		return b, nil
	case types.BackendStepFunction:
		if cfg.StateMachineARN == "" {
			return nil, fmt.Errorf("step-function backend: stateMachineArn is required")
		}
		client, err := f.getSFNClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return &SFNBackend{
			StateMachineARN: cfg.StateMachineARN,
			Client:          client,
			PollInterval:    cfg.PollIntervalDuration(defaultPollInterval),
		}, nil
	case types.BackendLambda:
		if cfg.FunctionName == "" {
			return nil, fmt.Errorf("lambda backend: functionName is required")
		}
		client, err := f.getLambdaClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return &LambdaBackend{FunctionName: cfg.FunctionName, Region: cfg.Region, Client: client}, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

func defaultModel(stage types.StageName) string {
	if stage == types.StageB {
		return "phenom-b"
	}
	return "phenom-a"
}

// getSFNClient returns the cached client for region, creating it on first
// use. The empty region means the default chain's region.
func (f *Factory) getSFNClient(ctx context.Context, region string) (SFNAPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sfnClient != nil {
		return f.sfnClient, nil
	}
	if c, ok := f.sfnClients[region]; ok {
		return c, nil
	}
	cfg, err := f.loadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	var opts []func(*sfn.Options)
	if region != "" {
		opts = append(opts, func(o *sfn.Options) { o.Region = region })
	}
	c := sfn.NewFromConfig(cfg, opts...)
	f.sfnClients[region] = c
	return c, nil
}

func (f *Factory) getLambdaClient(ctx context.Context, region string) (LambdaAPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lambdaClient != nil {
		return f.lambdaClient, nil
	}
	if c, ok := f.lambdaClients[region]; ok {
		return c, nil
	}
	cfg, err := f.loadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	var opts []func(*lambda.Options)
	if region != "" {
		opts = append(opts, func(o *lambda.Options) { o.Region = region })
	}
	c := lambda.NewFromConfig(cfg, opts...)
	f.lambdaClients[region] = c
	return c, nil
}
