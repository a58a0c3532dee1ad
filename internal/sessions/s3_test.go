package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/haasonsaas/conduit/pkg/models"
)

type fakeObject struct {
	data []byte
	etag string
}

// fakeS3 is an in-memory bucket honouring If-Match and If-None-Match.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	version int
	puts    int

	// beforePut runs before each conditional check, outside the lock.
	beforePut func(attempt int)
	getErr    error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(obj.data)),
		ETag: aws.String(obj.etag),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	f.puts++
	attempt := f.puts
	hook := f.beforePut
	f.mu.Unlock()
	if hook != nil {
		hook(attempt)
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)

	f.mu.Lock()
	defer f.mu.Unlock()
	current, exists := f.objects[key]
	if in.IfNoneMatch != nil && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object exists"}
	}
	if in.IfMatch != nil && (!exists || current.etag != aws.ToString(in.IfMatch)) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag mismatch"}
	}
	f.putLocked(key, data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) putLocked(key string, data []byte) {
	f.version++
	f.objects[key] = fakeObject{data: data, etag: fmt.Sprintf(`"v%d"`, f.version)}
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3Store(fake, "bucket", "/tenant-a/")

	if cp, err := store.Load(ctx, "s1"); err != nil || cp != nil {
		t.Fatalf("Load missing = %v, %v", cp, err)
	}
	if err := store.Save(ctx, sampleCheckpoint()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := fake.objects["tenant-a/checkpoints/s1.json"]; !ok {
		t.Fatalf("object keys = %v", keys(fake.objects))
	}

	// Second save goes through If-Match.
	if err := store.Save(ctx, sampleCheckpoint()); err != nil {
		t.Fatalf("repeat Save: %v", err)
	}
	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cp, _ := store.Load(ctx, "s1"); cp != nil {
		t.Fatal("checkpoint still present after delete")
	}
}

func TestS3StoreRetriesOnConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3Store(fake, "bucket", "")

	otherData, err := json.Marshal(&models.Checkpoint{
		ID:       "s1",
		OwnerID:  "alice",
		Messages: []models.Message{msg("remote", models.RoleUser, "other process")},
	})
	if err != nil {
		t.Fatal(err)
	}

	fake.beforePut = func(attempt int) {
		if attempt == 1 {
			fake.mu.Lock()
			fake.putLocked("checkpoints/s1.json", otherData)
			fake.mu.Unlock()
		}
	}

	if err := store.Save(ctx, sampleCheckpoint()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if fake.puts != 2 {
		t.Fatalf("puts = %d, want 2", fake.puts)
	}

	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var ids []string
	for _, m := range got.Messages {
		ids = append(ids, m.ID)
	}
	if strings.Join(ids, ",") != "remote,m1,m2" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestS3StoreGivesUpAfterRepeatedConflicts(t *testing.T) {
	fake := newFakeS3()
	store := newS3Store(fake, "bucket", "")
	fake.beforePut = func(int) {
		fake.mu.Lock()
		fake.putLocked("checkpoints/s1.json", []byte(`{"id":"s1"}`))
		fake.mu.Unlock()
	}

	err := store.Save(context.Background(), sampleCheckpoint())
	if err == nil || !strings.Contains(err.Error(), "after 5 attempts") {
		t.Fatalf("err = %v", err)
	}
}

func TestS3StoreLoadError(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("access denied")
	store := newS3Store(fake, "bucket", "")
	if _, err := store.Load(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}

	fake.getErr = &smithy.GenericAPIError{Code: "NotFound"}
	if cp, err := store.Load(context.Background(), "s1"); err != nil || cp != nil {
		t.Fatalf("NotFound should map to missing, got %v, %v", cp, err)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{}); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func keys(m map[string]fakeObject) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
