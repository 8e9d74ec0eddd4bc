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

// Package idgen produces process instance ids for logs and metrics.
package idgen

import (
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"time"

	"github.com/sony/sonyflake"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewFlakeGenerator builds a generator whose machine id comes from the
// host name, so it works in containers without a private IPv4 address.
func NewFlakeGenerator() (*SonyFlakeGenerator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: epoch,
		MachineID: hostMachineID,
	})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

func hostMachineID() (uint16, error) {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return uint16(rand.UintN(1 << 16)), nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return uint16(h.Sum32()), nil
}

// NextID returns a positive int64 that increases roughly in time order.
func (g *SonyFlakeGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// InstanceID returns an id for this process, falling back to a random
// value if no generator can be built.
func InstanceID() int64 {
	g, err := NewFlakeGenerator()
	if err != nil {
		return rand.Int64()
	}
	return g.NextID()
}
