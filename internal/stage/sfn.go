package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const (
	defaultPollInterval = 5 * time.Second
	stopTimeout         = 10 * time.Second
)

// SFNAPI is the subset of the AWS Step Functions client used by SFNBackend.
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	StopExecution(ctx context.Context, params *sfn.StopExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StopExecutionOutput, error)
}

// SFNBackend runs a stage as an AWS Step Functions execution. The Request is
// the execution input; a succeeded execution's output must be
// {"snapshots": [...]}. The execution is stopped when the stage is cancelled.
type SFNBackend struct {
	StateMachineARN string
	Client          SFNAPI
	PollInterval    time.Duration
}

// Name implements Backend. The full ARN keeps same-named state machines in
// other regions or accounts apart.
func (s *SFNBackend) Name() string {
	return "step-function:" + s.StateMachineARN
}

// Run implements Backend.
func (s *SFNBackend) Run(ctx context.Context, req Request, emit func(types.StateSnapshot)) error {
	if s.StateMachineARN == "" {
		return Permanent(errors.New("step-function backend: stateMachineArn is required"))
	}
	b, err := json.Marshal(req)
	if err != nil {
		return Permanent(fmt.Errorf("step-function backend: marshaling request: %w", err))
	}

	out, err := s.Client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.StateMachineARN),
		Input:           aws.String(string(b)),
	})
	if err != nil {
		return fmt.Errorf("step-function backend: StartExecution failed: %w", err)
	}
	execArn := aws.ToString(out.ExecutionArn)

	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		desc, err := s.Client.DescribeExecution(ctx, &sfn.DescribeExecutionInput{ExecutionArn: aws.String(execArn)})
		if err != nil {
			if ctx.Err() != nil {
				s.stop(ctx, execArn)
				return ctx.Err()
			}
			return fmt.Errorf("step-function backend: DescribeExecution failed: %w", err)
		}

		switch desc.Status {
		case sfntypes.ExecutionStatusSucceeded:
			return emitPayload([]byte(aws.ToString(desc.Output)), emit)
		case sfntypes.ExecutionStatusTimedOut:
			return &Error{Category: types.FailureTimeout, Err: executionError(execArn, desc)}
		case sfntypes.ExecutionStatusFailed, sfntypes.ExecutionStatusAborted:
			return &Error{Category: types.FailureTransient, Err: executionError(execArn, desc)}
		}

		select {
		case <-ctx.Done():
			s.stop(ctx, execArn)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// stop aborts a running execution. It runs on a detached context because the
// stage context is already done.
func (s *SFNBackend) stop(ctx context.Context, execArn string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	_, _ = s.Client.StopExecution(stopCtx, &sfn.StopExecutionInput{
		ExecutionArn: aws.String(execArn),
		Cause:        aws.String("stage cancelled"),
	})
}

func executionError(arn string, desc *sfn.DescribeExecutionOutput) error {
	return fmt.Errorf("execution %s %s: %s %s", arn, desc.Status,
		aws.ToString(desc.Error), truncate(aws.ToString(desc.Cause), 512))
}
