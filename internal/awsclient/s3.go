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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/wsirunner/config"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

func (m *Manager) GetS3(ctx context.Context, opts ...Option) (*S3Client, error) {
	cfg, cc := m.resolve(opts)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
		}
		o.UsePathStyle = cc.PathStyle
	})

	return &S3Client{Client: client, Tracer: m.tracer}, nil
}

// GetS3ForStorage binds the client to the configured slide bucket settings.
func (m *Manager) GetS3ForStorage(ctx context.Context, sc config.StorageConfig) (*S3Client, error) {
	opts := []Option{WithRegion(sc.Region)}
	if sc.RoleARN != "" {
		opts = append(opts, WithRole(sc.RoleARN))
	}
	if sc.Endpoint != "" {
		opts = append(opts, WithEndpoint(sc.Endpoint))
	}
	if sc.PathStyle {
		opts = append(opts, WithPathStyle())
	}
	if sc.InsecureTLS {
		opts = append(opts, WithInsecureTLS())
	}
	return m.GetS3(ctx, opts...)
}
