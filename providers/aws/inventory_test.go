package aws

import (
	"context"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/types"
)

func instance(id, state, name, privateIP string) ec2types.Instance {
	launched := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	inst := ec2types.Instance{
		InstanceId: awssdk.String(id),
		State:      &ec2types.InstanceState{Name: ec2types.InstanceStateName(state)},
		LaunchTime: awssdk.Time(launched),
	}
	if privateIP != "" {
		inst.PrivateIpAddress = awssdk.String(privateIP)
	}
	if name != "" {
		inst.Tags = []ec2types.Tag{{Key: awssdk.String("Name"), Value: awssdk.String(name)}}
	}
	return inst
}

func instancePage(next string, instances ...ec2types.Instance) *ec2.DescribeInstancesOutput {
	out := &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: instances}},
	}
	if next != "" {
		out.NextToken = awssdk.String(next)
	}
	return out
}

func TestListPagePaginatesEC2ThenRDS(t *testing.T) {
	pool, _ := testPool(t, map[string]*fakeEC2{
		"us-east-1": {pages: map[string]*ec2.DescribeInstancesOutput{
			"":      instancePage("p2", instance("i-1", "running", "web-1", "10.0.0.1")),
			"p2":    instancePage("", instance("i-2", "stopped", "", "")),
		}},
	})
	pool.newRDS = func(region string) RDSAPI {
		return &fakeRDS{out: &rds.DescribeDBInstancesOutput{
			DBInstances: []rdstypes.DBInstance{{
				DBInstanceIdentifier: awssdk.String("db-1"),
				DBInstanceStatus:     awssdk.String("available"),
				Endpoint:             &rdstypes.Endpoint{Address: awssdk.String("db-1.example.rds")},
			}},
		}}
	}

	source := NewInventorySource(pool)
	ctx := context.Background()

	records, token, err := source.ListPage(ctx, "us-east-1", "", 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "i-1", records[0].ID)
	assert.Equal(t, "web-1", records[0].Name())
	assert.Equal(t, []string{"10.0.0.1"}, records[0].Addresses)
	assert.Equal(t, "ec2:p2", token)

	records, token, err = source.ListPage(ctx, "us-east-1", token, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "i-2", records[0].ID)
	assert.Equal(t, types.StatusStopped, records[0].Status)
	assert.Equal(t, "rds:", token)

	records, token, err = source.ListPage(ctx, "us-east-1", token, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "db-1", records[0].ID)
	assert.Equal(t, "rds", records[0].Type)
	assert.Equal(t, types.StatusRunning, records[0].Status)
	assert.Equal(t, []string{"db-1.example.rds"}, records[0].Addresses)
	assert.Empty(t, token)
}

func TestListPageMalformedToken(t *testing.T) {
	pool, _ := testPool(t, map[string]*fakeEC2{"us-east-1": {}})
	source := NewInventorySource(pool)

	_, _, err := source.ListPage(context.Background(), "us-east-1", "bogus:xyz", 100)
	assert.ErrorContains(t, err, "malformed continuation token")
}

func TestNormalizeRDSStatus(t *testing.T) {
	assert.Equal(t, types.StatusRunning, normalizeRDSStatus("available"))
	assert.Equal(t, types.StatusStopped, normalizeRDSStatus("stopped"))
	assert.Equal(t, "backing-up", normalizeRDSStatus("backing-up"))
}
