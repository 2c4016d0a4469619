// Package objectstore generates short-lived HTTPS URLs for locally-uploaded
// audio, satisfying the AudioShake-class separation back-end's "requires a
// publicly accessible HTTPS URL" contract (§4.2, §6) without a public tunnel.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PresignedURLTTL bounds how long an AudioShake job has to fetch the source.
const PresignedURLTTL = 30 * time.Minute

// Presigner issues presigned GET URLs for objects in a single configured bucket.
type Presigner struct {
	bucket string
	client *s3.PresignClient
	upload *s3.Client
}

// New builds a Presigner against bucket, using the standard AWS SDK
// credential chain. Returns an error if no bucket is configured — callers
// should treat that as a config error, not attempt the call (§9, §4.2).
func New(ctx context.Context, bucket string) (*Presigner, error) {
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: no bucket configured")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Presigner{
		bucket: bucket,
		client: s3.NewPresignClient(client),
		upload: client,
	}, nil
}

// PutLocalFile uploads the local file at path to the store under key.
func (p *Presigner) PutLocalFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("objectstore: open %s: %w", path, err)
	}
	defer f.Close()

	_, err = p.upload.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

// PresignGET returns an HTTPS GET URL for key valid for PresignedURLTTL.
// Cached separation payloads store the object key, never the URL itself
// (§4.1 "re-materialized by regenerating public download URLs at read
// time"); call this fresh on every read.
func (p *Presigner) PresignGET(ctx context.Context, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignedURLTTL))
	if err != nil {
		return "", fmt.Errorf("objectstore: presign %s: %w", key, err)
	}
	return req.URL, nil
}
