package objectstore

import (
	"bytes"
	"context"
	"io"
)

// FakeProvider is an in-memory StorageProvider for tests that never touch a real endpoint.
type FakeProvider struct {
	Objects map[string][]byte
	PutErr  error
}

// NewFakeProvider returns an empty fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Objects: make(map[string][]byte)}
}

func (f *FakeProvider) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	if f.PutErr != nil {
		return f.PutErr
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(buf)) != size {
		return io.ErrShortWrite
	}
	f.Objects[key] = buf
	return nil
}

func (f *FakeProvider) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.Objects[key]
	if !ok {
		return nil, ErrStorageKeyNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeProvider) Delete(_ context.Context, key string) error {
	delete(f.Objects, key)
	return nil
}

func (f *FakeProvider) URL(key string) string {
	return "fake://" + key
}

func (f *FakeProvider) Ping(context.Context) error {
	return nil
}
