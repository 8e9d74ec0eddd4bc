// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/wsirunner/config"
)

func testManager() *Manager {
	return NewManagerFromConfig(aws.Config{
		Region:      "us-west-2",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	})
}

func TestCredentialsForCachesPerRole(t *testing.T) {
	m := testManager()

	base := m.credentialsFor(roleKey{Region: "us-west-2"})
	assert.Equal(t, m.baseCfg.Credentials, base)

	r1 := m.credentialsFor(roleKey{Region: "us-west-2", RoleARN: "arn:aws:iam::123:role/a"})
	r2 := m.credentialsFor(roleKey{Region: "us-west-2", RoleARN: "arn:aws:iam::123:role/a"})
	assert.Same(t, r1.(*aws.CredentialsCache), r2.(*aws.CredentialsCache))
	assert.Len(t, m.providers, 2)
}

func TestResolveAppliesOptions(t *testing.T) {
	m := testManager()

	cfg, cc := m.resolve([]Option{
		WithRegion("eu-central-1"),
		WithEndpoint("http://minio:9000"),
		WithPathStyle(),
		WithInsecureTLS(),
	})
	assert.Equal(t, "eu-central-1", cfg.Region)
	assert.Equal(t, "http://minio:9000", cc.Endpoint)
	assert.True(t, cc.PathStyle)
	assert.NotNil(t, cfg.HTTPClient)

	cfg, _ = m.resolve([]Option{WithRegion("")})
	assert.Equal(t, "us-west-2", cfg.Region, "empty region keeps the base region")
}

func TestGetS3ForStorage(t *testing.T) {
	m := testManager()

	c, err := m.GetS3ForStorage(context.Background(), config.StorageConfig{
		Bucket:    "slides",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		PathStyle: true,
	})
	require.NoError(t, err)
	require.NotNil(t, c.Client)
	assert.Equal(t, "us-east-1", c.Client.Options().Region)
	assert.True(t, c.Client.Options().UsePathStyle)
}

func TestGetSQS(t *testing.T) {
	c, err := testManager().GetSQS(context.Background(), WithRegion("ap-south-1"))
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", c.Client.Options().Region)
}
