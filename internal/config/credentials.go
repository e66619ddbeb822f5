package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// DSN returns a postgres:// connection URL for the cluster.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Cluster.User, c.Cluster.Password),
		Host:   net.JoinHostPort(c.Cluster.Host, strconv.Itoa(c.Cluster.Port)),
		Path:   "/" + c.Cluster.DBName,
	}
	if c.Warehouse.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.Warehouse.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// ResolveCredentials returns the key pair used to authorize COPY.
// Keys from the environment win. When neither keys nor an IAM role are
// configured, the AWS default credential chain is consulted.
func (c Config) ResolveCredentials(ctx context.Context) (AWSConfig, error) {
	if c.AWS.AccessKeyID != "" && c.AWS.SecretAccessKey != "" {
		return c.AWS, nil
	}
	if c.IAMRole != "" {
		return AWSConfig{}, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return AWSConfig{}, fmt.Errorf("load aws config: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return AWSConfig{}, fmt.Errorf("retrieve aws credentials: %w", err)
	}

	return AWSConfig{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}, nil
}
