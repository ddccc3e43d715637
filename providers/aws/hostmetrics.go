package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

const (
	commandTimeoutSeconds = int32(45)
	defaultPollInterval   = 3 * time.Second
	maxPollAttempts       = 15
)

// hostCommands read memory and average disk usage from inside the
// guest. One value per output line, in this order.
var hostCommands = []string{
	`free | grep '^Mem:' | awk '{printf "%.2f\n", ($3/$2) * 100.0}'`,
	`df | grep -E '^/dev/' | awk '{sum += $5; count++} END {if(count > 0) printf "%.2f\n", sum/count; else print "0"}'`,
}

// HostMetricsSource collects in-guest memory and disk usage over SSM
// run commands. CloudWatch cannot report these without an agent.
type HostMetricsSource struct {
	pool         *ClientPool
	pollInterval time.Duration
	logger       *telemetry.Logger
}

// NewHostMetricsSource creates the SSM-backed source.
func NewHostMetricsSource(pool *ClientPool) *HostMetricsSource {
	return &HostMetricsSource{
		pool:         pool,
		pollInterval: defaultPollInterval,
		logger:       telemetry.NewLogger("host-metrics"),
	}
}

// Collect runs the host commands on one instance and returns memory
// and disk usage percentages. Command issuance goes through the
// scheduler; the invocation polls are direct reads.
func (h *HostMetricsSource) Collect(ctx context.Context, resource types.Resource) (map[string]float64, error) {
	client := h.pool.SSM(resource.Region)

	future := h.pool.sched.Submit(ctx, func(ctx context.Context) (any, error) {
		return client.SendCommand(ctx, &ssm.SendCommandInput{
			InstanceIds:    []string{resource.ID},
			DocumentName:   aws.String("AWS-RunShellScript"),
			Parameters:     map[string][]string{"commands": hostCommands},
			TimeoutSeconds: aws.Int32(commandTimeoutSeconds),
		})
	})
	v, err := future.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("send command to %s failed: %w", resource.ID, err)
	}
	commandID := aws.ToString(v.(*ssm.SendCommandOutput).Command.CommandId)

	output, err := h.awaitInvocation(ctx, client, commandID, resource.ID)
	if err != nil {
		return nil, err
	}
	return parseHostOutput(output)
}

// awaitInvocation polls until the command finishes or the attempt
// budget runs out.
func (h *HostMetricsSource) awaitInvocation(ctx context.Context, client SSMAPI, commandID, instanceID string) (string, error) {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(h.pollInterval):
		}

		out, err := client.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(commandID),
			InstanceId: aws.String(instanceID),
		})
		if err != nil {
			// Invocation may not be visible yet right after send.
			continue
		}

		switch out.Status {
		case ssmtypes.CommandInvocationStatusSuccess:
			return aws.ToString(out.StandardOutputContent), nil
		case ssmtypes.CommandInvocationStatusFailed,
			ssmtypes.CommandInvocationStatusCancelled,
			ssmtypes.CommandInvocationStatusTimedOut:
			return "", fmt.Errorf("command %s on %s ended %s", commandID, instanceID, out.Status)
		}
	}
	return "", fmt.Errorf("command %s on %s did not finish in time", commandID, instanceID)
}

// parseHostOutput extracts the memory and disk percentages, one per
// line. Values outside 0-100 are rejected.
func parseHostOutput(stdout string) (map[string]float64, error) {
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("unexpected command output: %q", stdout)
	}

	values := make(map[string]float64, 2)
	names := []string{types.MetricMemoryPercent, types.MetricDiskUsagePercent}
	for i, name := range names {
		v, err := strconv.ParseFloat(lines[i], 64)
		if err != nil || v < 0 || v > 100 {
			return nil, fmt.Errorf("invalid %s value %q", name, lines[i])
		}
		values[name] = v
	}
	return values, nil
}
