package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = b
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresign struct{ ttl time.Duration }

func (f *fakePresign) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var o s3.PresignOptions
	for _, fn := range optFns {
		fn(&o)
	}
	f.ttl = o.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + aws.ToString(in.Key), Method: "GET"}, nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(newFakeS3(), nil, Options{}); err == nil {
		t.Fatal("missing bucket should fail")
	}
	if _, err := New(nil, &fakePresign{}, Options{Bucket: "b"}); err == nil {
		t.Fatal("missing object client should fail")
	}
	if _, err := New(newFakeS3(), nil, Options{Bucket: "b"}); err == nil {
		t.Fatal("missing presign client without public url should fail")
	}
	if _, err := New(newFakeS3(), nil, Options{Bucket: "b", PublicURL: "https://cdn.example"}); err != nil {
		t.Fatalf("public url without presign: %v", err)
	}
}

func TestPut_ContentAddressed(t *testing.T) {
	s3c := newFakeS3()
	s, err := New(s3c, &fakePresign{}, Options{Bucket: "b", Prefix: "/media/"})
	if err != nil {
		t.Fatal(err)
	}

	obj, err := s.Put(context.Background(), "pixel.png", bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.ContentType != "image/png" || obj.Size != int64(len(pngHeader)) {
		t.Fatalf("obj = %+v", obj)
	}
	want := "media/" + obj.SHA256[:2] + "/" + obj.SHA256 + ".png"
	if obj.Key != want {
		t.Fatalf("key = %q, want %q", obj.Key, want)
	}
	if !bytes.Equal(s3c.objects[obj.Key], pngHeader) || s3c.types[obj.Key] != "image/png" {
		t.Fatal("object not stored as uploaded")
	}

	again, err := s.Put(context.Background(), "other-name.png", bytes.NewReader(pngHeader))
	if err != nil || again.Key != obj.Key {
		t.Fatalf("same content should map to same key: %v, %v", again, err)
	}
}

func TestPut_Rejects(t *testing.T) {
	s, err := New(newFakeS3(), &fakePresign{}, Options{Bucket: "b", MaxBytes: 64})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		body []byte
		want error
	}{
		{"empty", nil, ErrEmpty},
		{"too large", bytes.Repeat([]byte("a"), 65), ErrTooLarge},
		{"html", []byte("<html><script>alert(1)</script></html>"), ErrUnsupportedType},
		{"svg", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`), ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(context.Background(), "f", bytes.NewReader(tt.body))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPut_TextAllowed(t *testing.T) {
	s, _ := New(newFakeS3(), &fakePresign{}, Options{Bucket: "b"})
	obj, err := s.Put(context.Background(), "notes.txt", strings.NewReader("plain notes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(obj.ContentType, "text/plain") || !strings.HasSuffix(obj.Key, ".txt") {
		t.Fatalf("obj = %+v", obj)
	}
}

func TestPut_StorageError(t *testing.T) {
	s3c := newFakeS3()
	s3c.putErr = errors.New("access denied")
	s, _ := New(s3c, &fakePresign{}, Options{Bucket: "b"})
	if _, err := s.Put(context.Background(), "p.png", bytes.NewReader(pngHeader)); err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("err = %v", err)
	}
}

func TestPut_ThrottleHonorsContext(t *testing.T) {
	s, _ := New(newFakeS3(), &fakePresign{}, Options{Bucket: "b", UploadsPerSec: 0.001})
	if _, err := s.Put(context.Background(), "a.png", bytes.NewReader(pngHeader)); err != nil {
		t.Fatalf("first upload uses the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Put(ctx, "b.png", bytes.NewReader(pngHeader)); err == nil {
		t.Fatal("second upload should fail waiting for a slot")
	}
}

func TestURL(t *testing.T) {
	pub, _ := New(newFakeS3(), nil, Options{Bucket: "b", PublicURL: "https://cdn.example/"})
	u, err := pub.URL(context.Background(), "media/ab/abc.png")
	if err != nil || u != "https://cdn.example/media/ab/abc.png" {
		t.Fatalf("public URL = %q, %v", u, err)
	}

	ps := &fakePresign{}
	signed, _ := New(newFakeS3(), ps, Options{Bucket: "b", PresignTTL: time.Minute})
	u, err = signed.URL(context.Background(), "k.png")
	if err != nil || u != "https://signed.example/k.png" {
		t.Fatalf("presigned URL = %q, %v", u, err)
	}
	if ps.ttl != time.Minute {
		t.Fatalf("presign ttl = %s", ps.ttl)
	}
}

func TestDelete(t *testing.T) {
	s3c := newFakeS3()
	s, _ := New(s3c, &fakePresign{}, Options{Bucket: "b"})
	if err := s.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if len(s3c.deleted) != 1 || s3c.deleted[0] != "k" {
		t.Fatalf("deleted = %v", s3c.deleted)
	}
}
