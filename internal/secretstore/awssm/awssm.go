// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package awssm implements the cloud secretstore.Store backend against AWS
// Secrets Manager's GetSecretValue JSON API, signed with SigV4 the same way
// the teacher's generic AWS transport
// (internal/operation/transport/aws_sigv4.go) signs arbitrary AWS service
// calls — specialized here to one fixed operation instead of a pluggable
// Service/Request abstraction, since this package has exactly one API call
// to make.
package awssm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Store resolves a secret reference (a Secrets Manager secret id or ARN)
// against the real AWS Secrets Manager API.
type Store struct {
	region    string
	client    *http.Client
	awsConfig aws.Config
	signer    *v4.Signer
}

// New loads AWS credentials from the default provider chain (environment,
// shared config, instance role) for region and returns a Store ready to
// resolve secrets.
func New(ctx context.Context, region string) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("awssm: load aws config: %w", err)
	}
	return &Store{
		region:    region,
		client:    &http.Client{Timeout: 10 * time.Second},
		awsConfig: awsCfg,
		signer:    v4.NewSigner(),
	}, nil
}

type getSecretValueRequest struct {
	SecretId string `json:"SecretId"`
}

type getSecretValueResponse struct {
	SecretString string `json:"SecretString"`
	Name         string `json:"Name"`
}

// Resolve calls secretsmanager:GetSecretValue for secretRef (a secret name
// or ARN) and returns its SecretString.
func (s *Store) Resolve(ctx context.Context, secretRef string) (string, error) {
	body, err := json.Marshal(getSecretValueRequest{SecretId: secretRef})
	if err != nil {
		return "", fmt.Errorf("awssm: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("https://secretsmanager.%s.amazonaws.com/", s.region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("awssm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", "secretsmanager.GetSecretValue")

	payloadHash := sha256Hex(body)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	creds, err := s.awsConfig.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("awssm: resolve aws credentials: %w", err)
	}
	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, "secretsmanager", s.region, time.Now()); err != nil {
		return "", fmt.Errorf("awssm: sign request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("awssm: request secretsmanager: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("awssm: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("awssm: secretsmanager returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed getSecretValueResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("awssm: parse response: %w", err)
	}
	return parsed.SecretString, nil
}

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
