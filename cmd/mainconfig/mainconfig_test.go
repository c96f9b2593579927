package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/safeguard/internal/config"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if awsCfg.Region != "us-east-1" {
		t.Fatalf("unexpected region %q", awsCfg.Region)
	}
	if awsCfg.EndpointResolverWithOptions == nil {
		t.Fatalf("expected endpoint resolver")
	}

	ep, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(dynamodb.ServiceID, "us-east-1")
	if err != nil || ep.URL != "http://localhost:4566" {
		t.Fatalf("dynamodb endpoint = %+v, %v", ep, err)
	}
	ep, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint(s3.ServiceID, "us-east-1")
	if err != nil || !ep.HostnameImmutable {
		t.Fatalf("s3 endpoint should be path-style, got %+v, %v", ep, err)
	}
	if _, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(sesv2.ServiceID, "us-east-1"); err == nil {
		t.Fatalf("expected ses to use the default resolver")
	}
}

func TestLoadAWSConfigWithoutOverride(t *testing.T) {
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{AWSRegion: "eu-west-1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if awsCfg.EndpointResolverWithOptions != nil {
		t.Fatalf("expected no resolver without an override")
	}
}
