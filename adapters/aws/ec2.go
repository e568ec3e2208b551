package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&ec2Adapter{})
}

type ec2Adapter struct{}

func (a *ec2Adapter) Service() string { return "ec2" }

func (a *ec2Adapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Instance": {
			ListOperation: "DescribeInstances",
			IDField:       "InstanceId",
			CreatedField:  "LaunchTime",
			ARNFormat:     "arn:aws:ec2:%s:%s:instance/%s",
			Nested:        true,
		},
		"Volume": {
			ListOperation: "DescribeVolumes",
			IDField:       "VolumeId",
			CreatedField:  "CreateTime",
			ARNFormat:     "arn:aws:ec2:%s:%s:volume/%s",
		},
		"Snapshot": {
			ListOperation: "DescribeSnapshots",
			IDField:       "SnapshotId",
			CreatedField:  "StartTime",
			ARNFormat:     "arn:aws:ec2:%s:%s:snapshot/%s",
		},
		"SecurityGroup": {
			ListOperation: "DescribeSecurityGroups",
			IDField:       "GroupId",
			NameField:     "GroupName",
			ARNFormat:     "arn:aws:ec2:%s:%s:security-group/%s",
		},
		"Address": {
			ListOperation: "DescribeAddresses",
			IDField:       "AllocationId",
			ARNFormat:     "arn:aws:ec2:%s:%s:elastic-ip/%s",
		},
		"NatGateway": {
			ListOperation: "DescribeNatGateways",
			IDField:       "NatGatewayId",
			CreatedField:  "CreateTime",
			ARNFormat:     "arn:aws:ec2:%s:%s:natgateway/%s",
		},
	}
}

func (a *ec2Adapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	client := ec2.NewFromConfig(cfg)
	key := taskKey("ec2", resourceType)

	var records []types.ResourceRecord
	var err error
	switch resourceType {
	case "Instance":
		records, err = a.listInstances(ctx, client, accountID, region)
	case "Volume":
		records, err = a.listVolumes(ctx, client, accountID, region)
	case "Snapshot":
		records, err = a.listSnapshots(ctx, client, accountID, region)
	case "SecurityGroup":
		records, err = a.listSecurityGroups(ctx, client, accountID, region)
	case "Address":
		records, err = a.listAddresses(ctx, client, accountID, region)
	case "NatGateway":
		records, err = a.listNatGateways(ctx, client, accountID, region)
	default:
		return unknownType("ec2", resourceType)
	}
	if err != nil {
		return failure(key, err)
	}
	return success(key, records)
}

func (a *ec2Adapter) listInstances(ctx context.Context, client *ec2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				records = append(records, instanceRecord(accountID, region, instance))
			}
		}
	}
	return records, nil
}

// instanceRecord maps one instance. State is a pointer and missing on
// very fresh instances.
func instanceRecord(accountID, region string, instance ec2types.Instance) types.ResourceRecord {
	id := deref(instance.InstanceId)
	state := ""
	if instance.State != nil {
		state = string(instance.State.Name)
	}
	return record(accountID, region, "ec2", "Instance",
		id, "", fmtTime(instance.LaunchTime), ec2TagMap(instance.Tags),
		fmt.Sprintf("arn:aws:ec2:%s:%s:instance/%s", region, accountID, id),
		instance, map[string]any{"state": state})
}

func (a *ec2Adapter) listVolumes(ctx context.Context, client *ec2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	paginator := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe volumes: %w", err)
		}
		for _, volume := range page.Volumes {
			id := deref(volume.VolumeId)
			records = append(records, record(accountID, region, "ec2", "Volume",
				id, "", fmtTime(volume.CreateTime), ec2TagMap(volume.Tags),
				fmt.Sprintf("arn:aws:ec2:%s:%s:volume/%s", region, accountID, id),
				volume, nil))
		}
	}
	return records, nil
}

func (a *ec2Adapter) listSnapshots(ctx context.Context, client *ec2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	paginator := ec2.NewDescribeSnapshotsPaginator(client, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe snapshots: %w", err)
		}
		for _, snapshot := range page.Snapshots {
			id := deref(snapshot.SnapshotId)
			records = append(records, record(accountID, region, "ec2", "Snapshot",
				id, "", fmtTime(snapshot.StartTime), ec2TagMap(snapshot.Tags),
				fmt.Sprintf("arn:aws:ec2:%s:%s:snapshot/%s", region, accountID, id),
				snapshot, map[string]any{"volume_id": deref(snapshot.VolumeId)}))
		}
	}
	return records, nil
}

func (a *ec2Adapter) listSecurityGroups(ctx context.Context, client *ec2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	paginator := ec2.NewDescribeSecurityGroupsPaginator(client, &ec2.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe security groups: %w", err)
		}
		for _, group := range page.SecurityGroups {
			id := deref(group.GroupId)
			records = append(records, record(accountID, region, "ec2", "SecurityGroup",
				id, deref(group.GroupName), "", ec2TagMap(group.Tags),
				fmt.Sprintf("arn:aws:ec2:%s:%s:security-group/%s", region, accountID, id),
				group, map[string]any{"vpc_id": deref(group.VpcId)}))
		}
	}
	return records, nil
}

func (a *ec2Adapter) listAddresses(ctx context.Context, client *ec2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	out, err := client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe addresses: %w", err)
	}
	var records []types.ResourceRecord
	for _, address := range out.Addresses {
		id := deref(address.AllocationId)
		records = append(records, record(accountID, region, "ec2", "Address",
			id, "", "", ec2TagMap(address.Tags),
			fmt.Sprintf("arn:aws:ec2:%s:%s:elastic-ip/%s", region, accountID, id),
			address, map[string]any{"public_ip": deref(address.PublicIp)}))
	}
	return records, nil
}

func (a *ec2Adapter) listNatGateways(ctx context.Context, client *ec2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	paginator := ec2.NewDescribeNatGatewaysPaginator(client, &ec2.DescribeNatGatewaysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe nat gateways: %w", err)
		}
		for _, gateway := range page.NatGateways {
			id := deref(gateway.NatGatewayId)
			records = append(records, record(accountID, region, "ec2", "NatGateway",
				id, "", fmtTime(gateway.CreateTime), ec2TagMap(gateway.Tags),
				fmt.Sprintf("arn:aws:ec2:%s:%s:natgateway/%s", region, accountID, id),
				gateway, map[string]any{"vpc_id": deref(gateway.VpcId)}))
		}
	}
	return records, nil
}

// Tag uses CreateTags/DeleteTags, which address every EC2 resource by
// bare resource ID.
func (a *ec2Adapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := ec2.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			keys := make([]ec2types.Tag, 0, len(pairs))
			for _, p := range pairs {
				keys = append(keys, ec2types.Tag{Key: aws.String(p.Key)})
			}
			_, err := client.DeleteTags(ctx, &ec2.DeleteTagsInput{
				Resources: []string{r.ResourceID},
				Tags:      keys,
			})
			return err
		}
		tags := make([]ec2types.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, ec2types.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{r.ResourceID},
			Tags:      tags,
		})
		return err
	})
}

func ec2TagMap(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}
