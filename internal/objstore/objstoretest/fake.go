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

// Package objstoretest provides an in-memory objstore.Gateway for tests.
package objstoretest

import (
	"context"
	"sync"

	"github.com/cardinalhq/wsirunner/internal/objstore"
)

// Fake keeps objects in a map and records every call. Setting an Err
// field makes the matching method fail.
type Fake struct {
	mu      sync.Mutex
	Objects map[string][]byte

	ExistsCalls []string
	Deleted     []string
	Presigned   []string

	PresignErr error
	ExistsErr  error
	DeleteErr  map[string]error
	PutErr     error
}

var _ objstore.Gateway = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Objects:   map[string][]byte{},
		DeleteErr: map[string]error{},
	}
}

// Store places an object as if a client had uploaded it.
func (f *Fake) Store(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[key] = body
}

func (f *Fake) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Objects[key]
	return ok
}

func (f *Fake) Get(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Objects[key]
}

func (f *Fake) Configured() bool { return true }

func (f *Fake) PresignPut(_ context.Context, key, _ string, _ int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PresignErr != nil {
		return "", f.PresignErr
	}
	f.Presigned = append(f.Presigned, key)
	return "https://storage.test/put/" + key, nil
}

func (f *Fake) PresignGet(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PresignErr != nil {
		return "", f.PresignErr
	}
	f.Presigned = append(f.Presigned, key)
	return "https://storage.test/get/" + key, nil
}

func (f *Fake) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExistsCalls = append(f.ExistsCalls, key)
	if f.ExistsErr != nil {
		return false, f.ExistsErr
	}
	_, ok := f.Objects[key]
	return ok, nil
}

func (f *Fake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, key)
	if err := f.DeleteErr[key]; err != nil {
		return err
	}
	delete(f.Objects, key)
	return nil
}

func (f *Fake) Put(_ context.Context, key, _ string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PutErr != nil {
		return f.PutErr
	}
	f.Objects[key] = append([]byte(nil), body...)
	return nil
}
