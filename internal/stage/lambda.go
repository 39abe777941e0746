package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// LambdaAPI is the subset of the AWS Lambda client used by LambdaBackend.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaBackend runs a stage as a synchronous Lambda invocation. The
// response payload must be {"snapshots": [...]}.
type LambdaBackend struct {
	FunctionName string
	Region       string
	Client       LambdaAPI
}

// Name implements Backend. The region is included when set.
func (l *LambdaBackend) Name() string {
	if l.Region != "" {
		return "lambda:" + l.Region + ":" + l.FunctionName
	}
	return "lambda:" + l.FunctionName
}

// Run implements Backend.
func (l *LambdaBackend) Run(ctx context.Context, req Request, emit func(types.StateSnapshot)) error {
	if l.FunctionName == "" {
		return Permanent(errors.New("lambda backend: functionName is required"))
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Permanent(fmt.Errorf("lambda backend: marshaling request: %w", err))
	}

	out, err := l.Client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.FunctionName),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("lambda backend: Invoke failed: %w", err)
	}
	if out.FunctionError != nil {
		return Permanent(fmt.Errorf("lambda backend: function error %s: %s",
			aws.ToString(out.FunctionError), truncate(string(out.Payload), 512)))
	}
	return emitPayload(out.Payload, emit)
}
