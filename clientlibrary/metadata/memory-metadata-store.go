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
	"sync"
)

// SimpleMetadataStore is an in-memory ConcurrentMetadataStore for tests and
// single process deployments.
type SimpleMetadataStore struct {
	mux   sync.RWMutex
	items map[string]string
}

func NewSimpleMetadataStore() *SimpleMetadataStore {
	return &SimpleMetadataStore{items: make(map[string]string)}
}

func (s *SimpleMetadataStore) Put(_ context.Context, key, value string) error {
	if err := checkKeyValue(key, value); err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.items[key] = value
	return nil
}

func (s *SimpleMetadataStore) Get(_ context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.items[key], nil
}

func (s *SimpleMetadataStore) PutIfAbsent(_ context.Context, key, value string) (string, error) {
	if err := checkKeyValue(key, value); err != nil {
		return "", err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if existing, ok := s.items[key]; ok {
		return existing, nil
	}
	s.items[key] = value
	return "", nil
}

func (s *SimpleMetadataStore) Replace(_ context.Context, key, oldValue, newValue string) (bool, error) {
	if err := checkKeyValue(key, oldValue); err != nil {
		return false, err
	}
	if newValue == "" {
		return false, ErrEmptyValue
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if current, ok := s.items[key]; !ok || current != oldValue {
		return false, nil
	}
	s.items[key] = newValue
	return true, nil
}

func (s *SimpleMetadataStore) Remove(_ context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	value := s.items[key]
	delete(s.items, key)
	return value, nil
}
