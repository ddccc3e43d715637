package aws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/types"
)

type fakeSSM struct {
	mu       sync.Mutex
	sendErr  error
	statuses []ssmtypes.CommandInvocationStatus
	stdout   string
	polls    int
	sent     *ssm.SendCommandInput
}

func (f *fakeSSM) SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = params
	return &ssm.SendCommandOutput{
		Command: &ssmtypes.Command{CommandId: awssdk.String("cmd-1")},
	}, nil
}

func (f *fakeSSM) GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := ssmtypes.CommandInvocationStatusSuccess
	if f.polls < len(f.statuses) {
		status = f.statuses[f.polls]
	}
	f.polls++
	return &ssm.GetCommandInvocationOutput{
		Status:                status,
		StandardOutputContent: awssdk.String(f.stdout),
	}, nil
}

func hostSource(t *testing.T, fake *fakeSSM) *HostMetricsSource {
	t.Helper()
	p, _ := testPool(t, map[string]*fakeEC2{"us-east-1": {}})
	p.newSSM = func(region string) SSMAPI { return fake }

	h := NewHostMetricsSource(p)
	h.pollInterval = time.Millisecond
	return h
}

func ec2Resource(id string) types.Resource {
	return types.Resource{ID: id, Type: "ec2", Region: "us-east-1", Status: types.StatusRunning}
}

func TestCollectHostMetrics(t *testing.T) {
	fake := &fakeSSM{stdout: "61.25\n48.00\n"}
	h := hostSource(t, fake)

	values, err := h.Collect(context.Background(), ec2Resource("i-1"))
	require.NoError(t, err)
	assert.Equal(t, 61.25, values[types.MetricMemoryPercent])
	assert.Equal(t, 48.0, values[types.MetricDiskUsagePercent])

	require.NotNil(t, fake.sent)
	assert.Equal(t, []string{"i-1"}, fake.sent.InstanceIds)
	assert.Equal(t, "AWS-RunShellScript", awssdk.ToString(fake.sent.DocumentName))
	assert.Len(t, fake.sent.Parameters["commands"], 2)
}

func TestCollectWaitsForCompletion(t *testing.T) {
	fake := &fakeSSM{
		stdout: "30.00\n20.00\n",
		statuses: []ssmtypes.CommandInvocationStatus{
			ssmtypes.CommandInvocationStatusPending,
			ssmtypes.CommandInvocationStatusInProgress,
			ssmtypes.CommandInvocationStatusSuccess,
		},
	}
	h := hostSource(t, fake)

	values, err := h.Collect(context.Background(), ec2Resource("i-1"))
	require.NoError(t, err)
	assert.Equal(t, 30.0, values[types.MetricMemoryPercent])
	assert.Equal(t, 3, fake.polls)
}

func TestCollectFailedInvocation(t *testing.T) {
	fake := &fakeSSM{
		statuses: []ssmtypes.CommandInvocationStatus{ssmtypes.CommandInvocationStatusFailed},
	}
	h := hostSource(t, fake)

	_, err := h.Collect(context.Background(), ec2Resource("i-1"))
	assert.ErrorContains(t, err, "Failed")
}

func TestCollectSendError(t *testing.T) {
	fake := &fakeSSM{sendErr: errors.New("not connected to SSM")}
	h := hostSource(t, fake)

	_, err := h.Collect(context.Background(), ec2Resource("i-1"))
	assert.ErrorContains(t, err, "send command")
}

func TestParseHostOutput(t *testing.T) {
	values, err := parseHostOutput("12.50\n73.00\n")
	require.NoError(t, err)
	assert.Equal(t, 12.5, values[types.MetricMemoryPercent])
	assert.Equal(t, 73.0, values[types.MetricDiskUsagePercent])

	_, err = parseHostOutput("12.50\n")
	assert.Error(t, err)

	_, err = parseHostOutput("garbage\n50\n")
	assert.Error(t, err)

	// Percentages outside 0-100 are rejected, matching the validation
	// the shell output is expected to satisfy.
	_, err = parseHostOutput("150\n50\n")
	assert.Error(t, err)
}
