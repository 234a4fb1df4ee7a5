package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gobeaver/storagekit"
)

// Client option keys understood in storagekit.Target.ClientOptions.
const (
	OptionEndpointURL     = "endpoint_url"
	OptionRegionName      = "region_name"
	OptionAddressingStyle = "addressing_style"
)

func init() {
	storagekit.RegisterDriver(storagekit.ProtocolS3, createS3FileSystem)
}

func createS3FileSystem(ctx context.Context, target *storagekit.Target) (storagekit.FileSystem, error) {
	client, err := NewClient(ctx, target.Config, target.ClientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return New(client), nil
}

// NewClient builds an S3 client from config. Client options win over the
// matching config fields.
func NewClient(ctx context.Context, cfg storagekit.Config, clientOptions map[string]string) (*s3.Client, error) {
	region := cfg.S3Region
	if v := clientOptions[OptionRegionName]; v != "" {
		region = v
	}
	endpoint := cfg.S3Endpoint
	if v := clientOptions[OptionEndpointURL]; v != "" {
		endpoint = v
	}
	pathStyle := cfg.S3ForcePathStyle
	if v, ok := clientOptions[OptionAddressingStyle]; ok {
		switch strings.ToLower(v) {
		case "path":
			pathStyle = true
		case "virtual", "auto", "":
			pathStyle = false
		default:
			return nil, fmt.Errorf("%w: unknown addressing_style %q", storagekit.ErrConfiguration, v)
		}
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	}), nil
}
