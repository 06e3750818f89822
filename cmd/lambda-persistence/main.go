package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/errstats"
)

var (
	dynamoClient *dynamodb.Client
	tableName    string
)

func init() {
	// Load AWS SDK config
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		panic(fmt.Sprintf("failed to load AWS config: %v", err))
	}

	// Initialize DynamoDB client
	dynamoClient = dynamodb.NewFromConfig(cfg)

	tableName = os.Getenv("ALERTS_TABLE")
	if tableName == "" {
		tableName = "error-alerts" // Default for LocalStack
	}

	fmt.Printf("[INIT] Persistence Lambda initialized - Table: %s\n", tableName)
}

// DynamoDBRecord represents a stored alert with TTL
type DynamoDBRecord struct {
	errstats.Alert
	TTL int64 `dynamodbav:"ttl" json:"ttl"` // Auto-expire after 7 days
}

// Handler processes SQS events and writes alerts to DynamoDB
func Handler(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	recordCount := len(sqsEvent.Records)
	fmt.Printf("[HANDLER] Processing %d SQS records\n", recordCount)

	var batchItemFailures []events.SQSBatchItemFailure
	successCount := 0

	for _, record := range sqsEvent.Records {
		// Parse SNS message from SQS record body
		var snsMessage struct {
			Message string `json:"Message"`
		}

		if err := json.Unmarshal([]byte(record.Body), &snsMessage); err != nil {
			fmt.Printf("[ERROR] Failed to parse SQS body: %v\n", err)
			batchItemFailures = append(batchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		// Parse alert from SNS message
		var alert errstats.Alert
		if err := json.Unmarshal([]byte(snsMessage.Message), &alert); err != nil {
			fmt.Printf("[ERROR] Failed to parse alert: %v\n", err)
			batchItemFailures = append(batchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		alertRecord := DynamoDBRecord{
			Alert: alert,
			TTL:   time.Now().Unix() + (7 * 24 * 60 * 60), // 7 days TTL
		}

		if err := writeToDynamoDB(ctx, alertRecord); err != nil {
			fmt.Printf("[ERROR] Failed to write to DynamoDB: %v - ErrorID: %s\n",
				err, alertRecord.ErrorID)
			batchItemFailures = append(batchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		successCount++
		fmt.Printf("[SUCCESS] Persisted alert: %s (Kind: %s, Context: %s)\n",
			alertRecord.ErrorID,
			alertRecord.Kind,
			alertRecord.Context,
		)
	}

	fmt.Printf("[SUMMARY] Processed %d records - Success: %d, Failed: %d\n",
		recordCount, successCount, len(batchItemFailures))

	// Return partial batch failure response
	// SQS will retry only the failed messages
	return events.SQSEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

// writeToDynamoDB writes an alert record to DynamoDB
func writeToDynamoDB(ctx context.Context, record DynamoDBRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}

	return nil
}

func main() {
	lambda.Start(Handler)
}
