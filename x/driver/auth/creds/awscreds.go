// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package creds resolves MONGODB-AWS credentials from the sources
// spec.md §6 lists, in priority order: keys given explicitly as the
// credential's username and password (with AWS_SESSION_TOKEN from
// authMechanismProperties), then AWS_* environment variables, then the
// ECS/EC2 instance metadata
// endpoints. It follows the same "GET a metadata endpoint, parse JSON"
// idiom the teacher's gcpcreds.go uses for MONGODB-OIDC's GCP provider.
package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/docdb-go/docdb/x/driver/auth/internal/aws/credentials"
)

// StaticProvider returns exactly the Value it was constructed with; it
// never expires, so it always wins when explicit credentials are given.
type StaticProvider struct {
	Value credentials.Value
}

func (p *StaticProvider) Retrieve() (credentials.Value, error) {
	if !p.Value.HasKeys() {
		return credentials.Value{}, fmt.Errorf("creds: static provider has no credentials")
	}
	return p.Value, nil
}

func (p *StaticProvider) IsExpired() bool { return false }

// EnvProvider reads AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY /
// AWS_SESSION_TOKEN from the environment.
type EnvProvider struct{}

func (EnvProvider) Retrieve() (credentials.Value, error) {
	v := credentials.Value{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		ProviderName:    "EnvProvider",
	}
	if !v.HasKeys() {
		return credentials.Value{}, fmt.Errorf("creds: AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set")
	}
	return v, nil
}

func (EnvProvider) IsExpired() bool { return false }

// httpClient is the interface AwsCredentialProvider needs, satisfied by
// *http.Client; a narrower surface makes it easy to substitute in tests.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AwsCredentialProvider chains the ECS container-credentials endpoint and
// the EC2 instance-metadata service, mirroring the order the AWS SDK
// itself tries them.
type AwsCredentialProvider struct {
	Providers []credentials.Provider
}

// NewAwsCredentialProvider builds the ECS/EC2 metadata provider chain
// using httpClient for every HTTP round trip.
func NewAwsCredentialProvider(client httpClient) AwsCredentialProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return AwsCredentialProvider{Providers: []credentials.Provider{
		&ecsProvider{client: client},
		&ec2Provider{client: client},
	}}
}

type ecsCredentialsResponse struct {
	AccessKeyID     string    `json:"AccessKeyId"`
	SecretAccessKey string    `json:"SecretAccessKey"`
	Token           string    `json:"Token"`
	Expiration      time.Time `json:"Expiration"`
}

// ecsProvider fetches temporary credentials from the ECS task metadata
// endpoint named by AWS_CONTAINER_CREDENTIALS_RELATIVE_URI, when running
// inside an ECS task.
type ecsProvider struct {
	client    httpClient
	expiresAt time.Time
}

func (p *ecsProvider) Retrieve() (credentials.Value, error) {
	return p.RetrieveWithContext(context.Background())
}

func (p *ecsProvider) RetrieveWithContext(ctx context.Context) (credentials.Value, error) {
	relativeURI := os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI")
	if relativeURI == "" {
		return credentials.Value{}, fmt.Errorf("creds: AWS_CONTAINER_CREDENTIALS_RELATIVE_URI not set")
	}
	url := "http://169.254.170.2" + relativeURI
	var resp ecsCredentialsResponse
	if err := getJSON(ctx, p.client, url, nil, &resp); err != nil {
		return credentials.Value{}, err
	}
	p.expiresAt = resp.Expiration
	return credentials.Value{
		AccessKeyID:     resp.AccessKeyID,
		SecretAccessKey: resp.SecretAccessKey,
		SessionToken:    resp.Token,
		ProviderName:    "EcsProvider",
	}, nil
}

func (p *ecsProvider) IsExpired() bool {
	return p.expiresAt.IsZero() || time.Now().After(p.expiresAt.Add(-time.Minute))
}

// ec2Provider fetches temporary credentials from the EC2 instance
// metadata service (IMDSv2: a session token, then the role credentials).
type ec2Provider struct {
	client    httpClient
	expiresAt time.Time
}

const ec2MetadataHost = "http://169.254.169.254"

func (p *ec2Provider) Retrieve() (credentials.Value, error) {
	return p.RetrieveWithContext(context.Background())
}

func (p *ec2Provider) RetrieveWithContext(ctx context.Context) (credentials.Value, error) {
	token, err := p.fetchToken(ctx)
	if err != nil {
		return credentials.Value{}, err
	}
	headers := map[string]string{"X-aws-ec2-metadata-token": token}

	roleName, err := getText(ctx, p.client, ec2MetadataHost+"/latest/meta-data/iam/security-credentials/", headers)
	if err != nil {
		return credentials.Value{}, fmt.Errorf("creds: discovering EC2 instance role: %w", err)
	}

	var resp ecsCredentialsResponse
	url := ec2MetadataHost + "/latest/meta-data/iam/security-credentials/" + roleName
	if err := getJSON(ctx, p.client, url, headers, &resp); err != nil {
		return credentials.Value{}, err
	}
	p.expiresAt = resp.Expiration
	return credentials.Value{
		AccessKeyID:     resp.AccessKeyID,
		SecretAccessKey: resp.SecretAccessKey,
		SessionToken:    resp.Token,
		ProviderName:    "Ec2Provider",
	}, nil
}

func (p *ec2Provider) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ec2MetadataHost+"/latest/api/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", "30")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("creds: fetching EC2 metadata token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("creds: EC2 metadata token endpoint returned %d", resp.StatusCode)
	}
	return string(body), nil
}

func (p *ec2Provider) IsExpired() bool {
	return p.expiresAt.IsZero() || time.Now().After(p.expiresAt.Add(-time.Minute))
}

func getText(ctx context.Context, client httpClient, url string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("creds: GET %s returned %d", url, resp.StatusCode)
	}
	return string(body), nil
}

func getJSON(ctx context.Context, client httpClient, url string, headers map[string]string, out interface{}) error {
	body, err := getText(ctx, client, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("creds: decoding response from %s: %w", url, err)
	}
	return nil
}
