package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// PK/SK prefixes of the single-table layout.
const (
	prefixBatch    = "BATCH#"
	prefixScenario = "SCENARIO#"
)

func batchPK(id string) string    { return prefixBatch + id }
func scenarioSK(id string) string { return prefixScenario + id }

// DDBAPI is the subset of the DynamoDB client used by DynamoDBManifest.
type DDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoDBManifest mirrors manifest entries into a DynamoDB table keyed by
// batch (PK) and scenario (SK). A conditional put keeps one entry per
// scenario even across processes.
type DynamoDBManifest struct {
	client    DDBAPI
	tableName string
	logger    *slog.Logger
}

// NewDynamoDBManifest creates a manifest backed by the configured table,
// creating the table first when cfg.CreateTable is set.
func NewDynamoDBManifest(ctx context.Context, cfg types.DynamoDBConfig) (*DynamoDBManifest, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("dynamodb manifest: tableName is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	// For DynamoDB Local: use static credentials and custom endpoint.
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	m := NewDynamoDBManifestWithClient(cfg.TableName, dynamodb.NewFromConfig(awsCfg, clientOpts...))
	if cfg.CreateTable {
		if err := m.EnsureTable(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewDynamoDBManifestWithClient creates a manifest with an injected client.
func NewDynamoDBManifestWithClient(tableName string, client DDBAPI) *DynamoDBManifest {
	return &DynamoDBManifest{client: client, tableName: tableName, logger: slog.Default()}
}

// EnsureTable creates the manifest table with on-demand billing. An
// existing table is not an error.
func (m *DynamoDBManifest) EnsureTable(ctx context.Context) error {
	_, err := m.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &m.tableName,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		var riue *ddbtypes.ResourceInUseException
		if errors.As(err, &riue) {
			return nil // table already exists
		}
		return fmt.Errorf("creating table: %w", err)
	}
	m.logger.Info("created manifest table", "table", m.tableName)
	return nil
}

// Append implements ManifestSink.
func (m *DynamoDBManifest) Append(ctx context.Context, e types.ManifestEntry) error {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("encoding manifest entry: %w", err)
	}
	item["PK"] = &ddbtypes.AttributeValueMemberS{Value: batchPK(e.BatchID)}
	item["SK"] = &ddbtypes.AttributeValueMemberS{Value: scenarioSK(e.ScenarioID)}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &m.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, entryKey(e))
		}
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}

// Entries returns every entry of a batch, ordered by scenario id.
func (m *DynamoDBManifest) Entries(ctx context.Context, batchID string) ([]types.ManifestEntry, error) {
	var out []types.ManifestEntry
	var startKey map[string]ddbtypes.AttributeValue
	for {
		resp, err := m.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &m.tableName,
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk":     &ddbtypes.AttributeValueMemberS{Value: batchPK(batchID)},
				":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixScenario},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb query: %w", err)
		}
		for _, item := range resp.Items {
			var e types.ManifestEntry
			if err := attributevalue.UnmarshalMap(item, &e); err != nil {
				return nil, fmt.Errorf("decoding manifest entry: %w", err)
			}
			out = append(out, e)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = resp.LastEvaluatedKey
	}
}

// Close is a no-op for DynamoDB (no persistent connections to close).
func (m *DynamoDBManifest) Close() error { return nil }

// isConditionalCheckFailed returns true if the error is a DynamoDB ConditionalCheckFailedException.
func isConditionalCheckFailed(err error) bool {
	var ccfe *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccfe)
}
