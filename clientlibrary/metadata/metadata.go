/*
 * Copyright (c) 2019 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package metadata

import (
	"context"
	"errors"
)

var (
	// ErrEmptyKey is returned when an operation is invoked with an empty key.
	ErrEmptyKey = errors.New("metadata key must not be empty")

	// ErrEmptyValue is returned when a write is invoked with an empty value.
	ErrEmptyValue = errors.New("metadata value must not be empty")

	// ErrTableNotActive is returned when the backing table did not become
	// available in time. It is not worth retrying.
	ErrTableNotActive = errors.New("metadata table is not active")
)

// MetadataStore is a key value store for small pieces of state such as
// checkpoints. An absent entry is reported as the empty string.
type MetadataStore interface {
	// Put stores the value for the key, overwriting any previous value.
	Put(ctx context.Context, key, value string) error

	// Get returns the value for the key, or "" if there is none.
	Get(ctx context.Context, key string) (string, error)

	// Remove deletes the key and returns the value it held, or "" if there was none.
	Remove(ctx context.Context, key string) (string, error)
}

// ConcurrentMetadataStore adds atomic conditional writes to MetadataStore.
type ConcurrentMetadataStore interface {
	MetadataStore

	// PutIfAbsent stores the value only if the key has no value yet. It returns
	// "" when the value was stored, otherwise the value already present.
	PutIfAbsent(ctx context.Context, key, value string) (string, error)

	// Replace swaps oldValue for newValue only if the stored value equals oldValue.
	Replace(ctx context.Context, key, oldValue, newValue string) (bool, error)
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func checkKeyValue(key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == "" {
		return ErrEmptyValue
	}
	return nil
}
