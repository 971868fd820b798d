package listing

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Lister treats "/"-delimited key prefixes in a bucket as directories.
type S3Lister struct {
	Client s3.ListObjectsV2APIClient
	Bucket string
}

// S3Options configures NewS3Lister.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint overrides the service endpoint (MinIO, Ceph RGW). Path-style
	// addressing is used when set.
	Endpoint string
}

// NewS3Lister builds a lister from the default AWS credential chain.
func NewS3Lister(ctx context.Context, opts S3Options) (*S3Lister, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Lister{Client: client, Bucket: opts.Bucket}, nil
}

// List returns the objects and common prefixes directly under path.
func (l *S3Lister) List(ctx context.Context, path string) ([]Entry, error) {
	prefix := strings.TrimPrefix(path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	p := s3.NewListObjectsV2Paginator(l.Client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(l.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []Entry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrListing, l.Bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			child := aws.ToString(cp.Prefix)
			// An empty segment ("a//b") would name the directory being
			// listed. Its objects belong to this level.
			if child == prefix+"/" {
				files, err := l.flatten(ctx, child)
				if err != nil {
					return nil, err
				}
				entries = append(entries, files...)
				continue
			}
			entries = append(entries, Entry{Kind: KindDirectory, Path: "/" + strings.TrimSuffix(child, "/")})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Zero-byte "folder" markers share the prefix itself.
			if key == prefix {
				continue
			}
			entries = append(entries, Entry{Kind: KindFile, Path: "/" + key})
		}
	}
	return entries, nil
}

// flatten lists every object under prefix without a delimiter.
func (l *S3Lister) flatten(ctx context.Context, prefix string) ([]Entry, error) {
	p := s3.NewListObjectsV2Paginator(l.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(l.Bucket),
		Prefix: aws.String(prefix),
	})

	var entries []Entry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrListing, l.Bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			entries = append(entries, Entry{Kind: KindFile, Path: "/" + key})
		}
	}
	return entries, nil
}

// Qualify returns an s3:// URI for path.
func (l *S3Lister) Qualify(path string) string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, strings.TrimPrefix(path, "/"))
}
