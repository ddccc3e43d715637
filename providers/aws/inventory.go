package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/yairfalse/vahti/types"
)

// Continuation tokens multiplex the two listing backends: EC2 pages
// first, then RDS. The fetcher only sees opaque tokens.
const (
	tokenEC2 = "ec2:"
	tokenRDS = "rds:"
)

// InventorySource lists compute and database resources for one region,
// one page per call.
type InventorySource struct {
	pool *ClientPool
}

// NewInventorySource builds the source on top of the client pool.
func NewInventorySource(pool *ClientPool) *InventorySource {
	return &InventorySource{pool: pool}
}

// ListPage returns one page of resources and the continuation token for
// the next page; an empty token means the listing is exhausted.
func (s *InventorySource) ListPage(ctx context.Context, region, token string, pageSize int32) ([]types.Resource, string, error) {
	switch {
	case token == "" || strings.HasPrefix(token, tokenEC2):
		return s.listEC2Page(ctx, region, strings.TrimPrefix(token, tokenEC2), pageSize)
	case strings.HasPrefix(token, tokenRDS):
		return s.listRDSPage(ctx, region, strings.TrimPrefix(token, tokenRDS))
	default:
		return nil, "", fmt.Errorf("malformed continuation token %q", token)
	}
}

func (s *InventorySource) listEC2Page(ctx context.Context, region, token string, pageSize int32) ([]types.Resource, string, error) {
	input := &ec2.DescribeInstancesInput{MaxResults: aws.Int32(pageSize)}
	if token != "" {
		input.NextToken = aws.String(token)
	}

	out, err := s.pool.EC2(region).DescribeInstances(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to describe instances in %s: %w", region, err)
	}

	var resources []types.Resource
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			resources = append(resources, convertInstance(instance, region))
		}
	}

	if out.NextToken != nil {
		return resources, tokenEC2 + aws.ToString(out.NextToken), nil
	}
	// EC2 exhausted, continue with RDS.
	return resources, tokenRDS, nil
}

func (s *InventorySource) listRDSPage(ctx context.Context, region, marker string) ([]types.Resource, string, error) {
	input := &rds.DescribeDBInstancesInput{}
	if marker != "" {
		input.Marker = aws.String(marker)
	}

	out, err := s.pool.RDS(region).DescribeDBInstances(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to describe db instances in %s: %w", region, err)
	}

	var resources []types.Resource
	for _, db := range out.DBInstances {
		addresses := []string{}
		if db.Endpoint != nil && db.Endpoint.Address != nil {
			addresses = append(addresses, aws.ToString(db.Endpoint.Address))
		}
		var tags []types.Tag
		for _, t := range db.TagList {
			tags = append(tags, types.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
		}
		resources = append(resources, types.Resource{
			ID:         aws.ToString(db.DBInstanceIdentifier),
			Type:       "rds",
			Region:     region,
			Status:     normalizeRDSStatus(aws.ToString(db.DBInstanceStatus)),
			Addresses:  addresses,
			Tags:       tags,
			LaunchedAt: safeTime(db.InstanceCreateTime),
		})
	}

	if out.Marker != nil {
		return resources, tokenRDS + aws.ToString(out.Marker), nil
	}
	return resources, "", nil
}

func convertInstance(instance ec2types.Instance, region string) types.Resource {
	var addresses []string
	if addr := aws.ToString(instance.PrivateIpAddress); addr != "" {
		addresses = append(addresses, addr)
	}
	if addr := aws.ToString(instance.PublicIpAddress); addr != "" {
		addresses = append(addresses, addr)
	}

	var tags []types.Tag
	for _, t := range instance.Tags {
		tags = append(tags, types.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}

	status := types.StatusRunning
	if instance.State != nil {
		status = string(instance.State.Name)
	}

	return types.Resource{
		ID:         aws.ToString(instance.InstanceId),
		Type:       "ec2",
		Region:     region,
		Status:     status,
		Addresses:  addresses,
		Tags:       tags,
		LaunchedAt: safeTime(instance.LaunchTime),
	}
}

// normalizeRDSStatus folds RDS lifecycle names onto the shared set.
func normalizeRDSStatus(status string) string {
	switch status {
	case "available":
		return types.StatusRunning
	case "stopped":
		return types.StatusStopped
	default:
		return status
	}
}

func safeTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
