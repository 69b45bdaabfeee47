package traffic

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"go.uber.org/zap"
)

// Route53Provider drives weighted routing records in a hosted zone. Each
// region has one weighted record identified by its SetIdentifier; moving
// traffic is a single batched UPSERT so the change is atomic.
type Route53Provider struct {
	client       *route53.Client
	hostedZoneID string
	recordName   string
	recordType   types.RRType
	ttl          int64
	endpoints    map[string]string // region ID -> record value
	logger       *zap.Logger
}

// Route53Config configures the provider
type Route53Config struct {
	HostedZoneID string
	RecordName   string
	RecordType   string // "CNAME" or "A"
	TTL          int64
	Endpoints    map[string]string
	AccessKey    string
	SecretKey    string
	Region       string // API region for the route53 client
}

// NewRoute53Provider creates a Route 53 weighted-routing provider
func NewRoute53Provider(ctx context.Context, cfg Route53Config, logger *zap.Logger) (*Route53Provider, error) {
	if cfg.HostedZoneID == "" || cfg.RecordName == "" {
		return nil, fmt.Errorf("traffic: hosted zone id and record name required")
	}
	if len(cfg.Endpoints) < 2 {
		return nil, fmt.Errorf("traffic: endpoints for both regions required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	recordType := types.RRTypeCname
	if cfg.RecordType == "A" {
		recordType = types.RRTypeA
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60
	}
	apiRegion := cfg.Region
	if apiRegion == "" {
		apiRegion = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(apiRegion)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Route53Provider{
		client:       route53.NewFromConfig(awsCfg),
		hostedZoneID: cfg.HostedZoneID,
		recordName:   cfg.RecordName,
		recordType:   recordType,
		ttl:          ttl,
		endpoints:    cfg.Endpoints,
		logger:       logger,
	}, nil
}

// Weights reads the current weight per region from the hosted zone
func (p *Route53Provider) Weights(ctx context.Context) (map[string]int, error) {
	out, err := p.client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(p.hostedZoneID),
		StartRecordName: aws.String(p.recordName),
		StartRecordType: p.recordType,
	})
	if err != nil {
		return nil, fmt.Errorf("list record sets: %w", err)
	}

	weights := make(map[string]int, len(p.endpoints))
	for region := range p.endpoints {
		weights[region] = 0
	}
	for _, rrs := range out.ResourceRecordSets {
		if aws.ToString(rrs.Name) != p.recordName || rrs.Type != p.recordType {
			continue
		}
		region := aws.ToString(rrs.SetIdentifier)
		if _, known := weights[region]; !known {
			continue
		}
		weights[region] = int(aws.ToInt64(rrs.Weight))
	}
	return weights, nil
}

// SetWeights upserts all regions' weighted records in one change batch
func (p *Route53Provider) SetWeights(ctx context.Context, weights map[string]int) error {
	changes := make([]types.Change, 0, len(weights))
	for region, weight := range weights {
		value, ok := p.endpoints[region]
		if !ok {
			return fmt.Errorf("traffic: no endpoint configured for region %q", region)
		}
		changes = append(changes, types.Change{
			Action: types.ChangeActionUpsert,
			ResourceRecordSet: &types.ResourceRecordSet{
				Name:            aws.String(p.recordName),
				Type:            p.recordType,
				SetIdentifier:   aws.String(region),
				Weight:          aws.Int64(int64(weight)),
				TTL:             aws.Int64(p.ttl),
				ResourceRecords: []types.ResourceRecord{{Value: aws.String(value)}},
			},
		})
	}

	_, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String("meridian traffic redirect"),
			Changes: changes,
		},
	})
	if err != nil {
		return fmt.Errorf("change record sets: %w", err)
	}

	p.logger.Info("weighted records updated",
		zap.String("record", p.recordName),
		zap.Any("weights", weights))
	return nil
}
