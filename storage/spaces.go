package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/sirupsen/logrus"
)

type SpacesConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
}

func (c SpacesConfig) Enabled() bool {
	return c.Bucket != ""
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SpacesClient archives finished runs to an S3 compatible bucket.
type SpacesClient struct {
	client objectAPI
	bucket string
	logger *logrus.Entry
}

// ArchivedRun is the object stored for each finished run.
type ArchivedRun struct {
	Run        *models.Run `json:"run"`
	ArchivedAt time.Time   `json:"archived_at"`
}

func NewSpacesClient(ctx context.Context, cfg SpacesConfig) (*SpacesClient, error) {
	const op = "storage.NewSpacesClient"

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Internal(op, err, "unable to load SDK config")
	}

	return newSpacesClient(s3.NewFromConfig(awsCfg), cfg.Bucket), nil
}

func newSpacesClient(client objectAPI, bucket string) *SpacesClient {
	return &SpacesClient{
		client: client,
		bucket: bucket,
		logger: logrus.WithFields(logrus.Fields{"component": "archive", "bucket": bucket}),
	}
}

func resultKey(runID string) string {
	return fmt.Sprintf("results/%s.json", runID)
}

func (s *SpacesClient) SaveResult(ctx context.Context, run *models.Run) error {
	const op = "SpacesClient.SaveResult"

	data, err := json.Marshal(ArchivedRun{Run: run, ArchivedAt: time.Now().UTC()})
	if err != nil {
		return errors.Internal(op, err, "failed to marshal run")
	}

	key := resultKey(run.ID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Internal(op, err, "failed to save to Spaces")
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"key":    key,
		"bytes":  len(data),
	}).Info("Run archived")
	return nil
}

func (s *SpacesClient) GetResult(ctx context.Context, runID string) (*ArchivedRun, error) {
	const op = "SpacesClient.GetResult"

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(resultKey(runID)),
	})
	if err != nil {
		return nil, errors.NotFound(op, err, "archived run not found")
	}
	defer out.Body.Close()

	var archived ArchivedRun
	if err := json.NewDecoder(out.Body).Decode(&archived); err != nil {
		return nil, errors.Internal(op, err, "failed to decode archived run")
	}
	return &archived, nil
}
