package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/hupe1980/atomgo/core"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCheckpointer stores chunk commits in DynamoDB so an interrupted
// job can be resumed from a different process or host. Conditional
// writes make each chunk index write-once, which keeps retried commits
// from rewriting history.
//
// Table schema:
//   - Partition key: job_id (string)
//   - Sort key: chunk_index (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name atomgo-checkpoints \
//	  --attribute-definitions AttributeName=job_id,AttributeType=S AttributeName=chunk_index,AttributeType=N \
//	  --key-schema AttributeName=job_id,KeyType=HASH AttributeName=chunk_index,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCheckpointer struct {
	client    DDBClient
	tableName string
}

// NewDDBCheckpointer creates a checkpointer writing to tableName.
func NewDDBCheckpointer(client DDBClient, tableName string) *DDBCheckpointer {
	return &DDBCheckpointer{
		client:    client,
		tableName: tableName,
	}
}

// Save implements Checkpointer using a conditional put: only the first
// writer of a chunk index succeeds.
func (c *DDBCheckpointer) Save(ctx context.Context, cp Checkpoint) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"job_id":          &types.AttributeValueMemberS{Value: cp.JobID.String()},
			"chunk_index":     &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(cp.ChunkIndex), 10)},
			"new_offset":      &types.AttributeValueMemberN{Value: strconv.FormatUint(cp.NewOffset, 10)},
			"atoms_processed": &types.AttributeValueMemberN{Value: strconv.FormatUint(cp.AtomsProcessed, 10)},
			"root_atom_id":    &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(cp.RootAtomID), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(chunk_index)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrCheckpointExists
		}
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest implements Checkpointer by querying the highest chunk index.
func (c *DDBCheckpointer) Latest(ctx context.Context, jobID uuid.UUID) (Checkpoint, error) {
	resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("job_id = :job"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":job": &types.AttributeValueMemberS{Value: jobID.String()},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("query checkpoints: %w", err)
	}
	if len(resp.Items) == 0 {
		return Checkpoint{}, ErrNoCheckpoint
	}

	item := resp.Items[0]
	cp := Checkpoint{JobID: jobID}

	chunk, err := numberAttr(item, "chunk_index")
	if err != nil {
		return Checkpoint{}, err
	}
	cp.ChunkIndex = uint32(chunk)

	if cp.NewOffset, err = numberAttr(item, "new_offset"); err != nil {
		return Checkpoint{}, err
	}
	if cp.AtomsProcessed, err = numberAttr(item, "atoms_processed"); err != nil {
		return Checkpoint{}, err
	}

	root, err := numberAttr(item, "root_atom_id")
	if err != nil {
		return Checkpoint{}, err
	}
	cp.RootAtomID = core.AtomID(root)

	return cp, nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (uint64, error) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid %s attribute in checkpoint item", name)
	}
	v, err := strconv.ParseUint(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}
