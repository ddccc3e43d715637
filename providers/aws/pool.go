// Package aws implements the region client pool and the AWS-backed
// collaborators (inventory listing, CloudWatch metrics) consumed by the
// monitoring pipeline.
package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/scheduler"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// probePageSize keeps the existence probe cheap.
const probePageSize = 5

// ClientPool discovers reachable regions and holds one lazily created
// client handle per region per downstream subsystem.
type ClientPool struct {
	base       aws.Config
	home       string
	sched      *scheduler.Scheduler
	probeBatch int
	logger     *telemetry.Logger

	mu         sync.Mutex
	ec2Clients map[string]EC2API
	cwClients  map[string]CloudWatchAPI
	rdsClients map[string]RDSAPI
	ssmClients map[string]SSMAPI

	// Factories are swappable in tests.
	newEC2 func(region string) EC2API
	newCW  func(region string) CloudWatchAPI
	newRDS func(region string) RDSAPI
	newSSM func(region string) SSMAPI
}

// NewClientPool loads the default AWS config once and builds the pool.
func NewClientPool(ctx context.Context, home string, sched *scheduler.Scheduler, probeBatch int) (*ClientPool, error) {
	base, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(home))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	p := newPool(home, sched, probeBatch)
	p.base = base
	p.newEC2 = func(region string) EC2API {
		cfg := base.Copy()
		cfg.Region = region
		return ec2.NewFromConfig(cfg)
	}
	p.newCW = func(region string) CloudWatchAPI {
		cfg := base.Copy()
		cfg.Region = region
		return cloudwatch.NewFromConfig(cfg)
	}
	p.newRDS = func(region string) RDSAPI {
		cfg := base.Copy()
		cfg.Region = region
		return rds.NewFromConfig(cfg)
	}
	p.newSSM = func(region string) SSMAPI {
		cfg := base.Copy()
		cfg.Region = region
		return ssm.NewFromConfig(cfg)
	}
	return p, nil
}

func newPool(home string, sched *scheduler.Scheduler, probeBatch int) *ClientPool {
	if probeBatch <= 0 {
		probeBatch = 6
	}
	return &ClientPool{
		home:       home,
		sched:      sched,
		probeBatch: probeBatch,
		logger:     telemetry.NewLogger("region-pool"),
		ec2Clients: make(map[string]EC2API),
		cwClients:  make(map[string]CloudWatchAPI),
		rdsClients: make(map[string]RDSAPI),
		ssmClients: make(map[string]SSMAPI),
	}
}

// Home returns the designated home region.
func (p *ClientPool) Home() string { return p.home }

// EC2 returns the EC2 client for region, creating it on first use.
func (p *ClientPool) EC2(region string) EC2API {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.ec2Clients[region]; ok {
		return c
	}
	c := p.newEC2(region)
	p.ec2Clients[region] = c
	return c
}

// CloudWatch returns the CloudWatch client for region, creating it on
// first use.
func (p *ClientPool) CloudWatch(region string) CloudWatchAPI {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cwClients[region]; ok {
		return c
	}
	c := p.newCW(region)
	p.cwClients[region] = c
	return c
}

// RDS returns the RDS client for region, creating it on first use.
func (p *ClientPool) RDS(region string) RDSAPI {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.rdsClients[region]; ok {
		return c
	}
	c := p.newRDS(region)
	p.rdsClients[region] = c
	return c
}

// SSM returns the SSM client for region, creating it on first use.
func (p *ClientPool) SSM(region string) SSMAPI {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.ssmClients[region]; ok {
		return c
	}
	c := p.newSSM(region)
	p.ssmClients[region] = c
	return c
}

// DiscoverRegions probes the canonical region listing from the home
// region, keeping only regions that do not require manual opt-in. On
// failure it falls back to the fixed default list.
func (p *ClientPool) DiscoverRegions(ctx context.Context) []types.Region {
	future := p.sched.Submit(ctx, func(ctx context.Context) (any, error) {
		return p.EC2(p.home).DescribeRegions(ctx, &ec2.DescribeRegionsInput{
			Filters: []ec2types.Filter{{
				Name:   aws.String("opt-in-status"),
				Values: []string{"opt-in-not-required", "opted-in"},
			}},
		})
	})

	result, err := future.Wait(ctx)
	if err != nil {
		p.logger.WithContext(ctx).Warn().Err(err).
			Msg("region discovery failed, using default list")
		return p.fallbackRegions()
	}

	out := result.(*ec2.DescribeRegionsOutput)
	regions := make([]types.Region, 0, len(out.Regions))
	now := time.Now()
	for _, r := range out.Regions {
		name := aws.ToString(r.RegionName)
		regions = append(regions, types.Region{
			ID:         name,
			Name:       name,
			Enabled:    true,
			DetectedAt: now,
		})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	return regions
}

func (p *ClientPool) fallbackRegions() []types.Region {
	now := time.Now()
	regions := make([]types.Region, 0, len(config.DefaultRegions))
	for _, name := range config.DefaultRegions {
		regions = append(regions, types.Region{
			ID:         name,
			Name:       name,
			Enabled:    true,
			DetectedAt: now,
		})
	}
	return regions
}

// DetectActive issues a cheap existence probe per region in parallel
// batches and returns the regions that answered. The home region is
// always included regardless of probe outcome. Authorization and
// opt-in failures exclude only the failing region.
func (p *ClientPool) DetectActive(ctx context.Context, regions []types.Region) []types.Region {
	statuses := make([]types.RegionStatus, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.probeBatch)
	for i, region := range regions {
		g.Go(func() error {
			statuses[i] = p.probeRegion(gctx, region.ID)
			return nil
		})
	}
	_ = g.Wait()

	var active []types.Region
	seen := false
	for i, region := range regions {
		if region.ID == p.home {
			seen = true
			active = append(active, region)
			p.materialize(region.ID)
			continue
		}
		if statuses[i] == types.RegionActive {
			active = append(active, region)
			p.materialize(region.ID)
		}
	}
	if !seen {
		now := time.Now()
		home := types.Region{ID: p.home, Name: p.home, Enabled: true, DetectedAt: now}
		active = append([]types.Region{home}, active...)
		p.materialize(p.home)
	}
	return active
}

// probeRegion classifies one region via a small-page list call.
func (p *ClientPool) probeRegion(ctx context.Context, region string) types.RegionStatus {
	future := p.sched.Submit(ctx, func(ctx context.Context) (any, error) {
		return p.EC2(region).DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			MaxResults: aws.Int32(probePageSize),
		})
	})

	if _, err := future.Wait(ctx); err != nil {
		reason, status := classifyRegionError(err)
		p.logger.LogRegionExcluded(ctx, region, reason, err)
		return status
	}
	return types.RegionActive
}

// classifyRegionError maps AWS error codes to a region status. Opt-in
// and authorization errors are expected per-region conditions; anything
// else is logged distinctly as unreachable.
func classifyRegionError(err error) (string, types.RegionStatus) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "OptInRequired":
			return "opt-in required", types.RegionInactive
		case "AuthFailure", "UnauthorizedOperation":
			return "unauthorized", types.RegionUnauthorized
		}
	}
	return "unreachable", types.RegionInactive
}

// materialize creates the per-subsystem client handles for a region.
// Safe to call repeatedly; handles are created once.
func (p *ClientPool) materialize(region string) {
	p.EC2(region)
	p.CloudWatch(region)
	p.RDS(region)
	p.SSM(region)
}
