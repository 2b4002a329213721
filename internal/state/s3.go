package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

// S3Config configures the remote S3 state backend.
type S3Config struct {
	Bucket        string
	Key           string
	Region        string
	DynamoDBTable string // optional, enables locking
	Encrypt       bool   // server-side encryption on the object
	Profile       string
}

// S3Store keeps the full state document as a single JSON object in S3.
// Records are loaded once at open (never cached stale across runs) and the
// whole object is rewritten on each put, which keeps a put atomic with
// respect to a single id under the single-writer lock.
type S3Store struct {
	cfg S3Config

	s3Client *s3.Client
	dbClient *dynamodb.Client
	lockID   string

	mu      sync.Mutex
	records map[string]*ir.ResourceState
}

// stateDocument is the persisted JSON shape.
type stateDocument struct {
	Version   int                          `json:"version"`
	Resources map[string]*ir.ResourceState `json:"resources"`
}

// OpenS3 connects to the backend and loads the current state document.
func OpenS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}
	if cfg.Key == "" {
		cfg.Key = "kubeforge/state.json"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	b := &S3Store{
		cfg:      cfg,
		s3Client: s3.NewFromConfig(awsCfg),
		records:  make(map[string]*ir.ResourceState),
	}
	if cfg.DynamoDBTable != "" {
		b.dbClient = dynamodb.NewFromConfig(awsCfg)
	}

	if err := b.load(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *S3Store) load(ctx context.Context) error {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
	})
	if err != nil {
		// A missing object is an empty state.
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil
		}
		return fmt.Errorf("failed to read state from s3://%s/%s: %w", b.cfg.Bucket, b.cfg.Key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object body: %w", err)
	}

	content, err := DecryptState(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to decrypt remote state: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("failed to parse remote state: %w", err)
	}
	if doc.Resources != nil {
		b.records = doc.Resources
	}
	return nil
}

func (b *S3Store) write(ctx context.Context) error {
	doc := stateDocument{Version: 1, Resources: b.records}
	content, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	encrypted, err := EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
		Body:   bytes.NewReader(encrypted),
	}
	if b.cfg.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", b.cfg.Bucket, b.cfg.Key, err)
	}
	return nil
}

// Get implements Store.
func (b *S3Store) Get(_ context.Context, id string) (*ir.ResourceState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Put implements Store.
func (b *S3Store) Put(ctx context.Context, st *ir.ResourceState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st.UpdatedAt = time.Now().UTC()
	b.records[st.ID] = st.Clone()
	return b.write(ctx)
}

// Snapshot implements Store.
func (b *S3Store) Snapshot(_ context.Context) ([]*ir.ResourceState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ir.ResourceState, 0, len(b.records))
	for _, st := range b.records {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements Store.
func (b *S3Store) Close() error { return nil }

// Lock acquires the DynamoDB lock item; a no-op without a lock table.
func (b *S3Store) Lock() error {
	if b.dbClient == nil {
		return nil
	}

	b.lockID = fmt.Sprintf("kubeforge-%d-%d", os.Getpid(), time.Now().UnixNano())

	_, err := b.dbClient.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(b.cfg.DynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.cfg.Key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: b.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return fmt.Errorf("state is locked by another process. If this is an error, "+
				"manually delete the lock item with LockID=%q from DynamoDB table %q",
				b.cfg.Key, b.cfg.DynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return nil
}

// Unlock releases the DynamoDB lock item.
func (b *S3Store) Unlock() error {
	if b.dbClient == nil {
		return nil
	}

	_, err := b.dbClient.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(b.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.cfg.Key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}
