package cryptoutil

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

type fakeKMS struct {
	plaintext []byte
	err       error
	got       *kms.DecryptInput
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &kms.DecryptOutput{Plaintext: f.plaintext}, nil
}

func TestKMSDecryptor_DecryptSecret(t *testing.T) {
	secret := strings.Repeat("k", 32)
	fake := &fakeKMS{plaintext: []byte(secret + "\n")}
	d := &KMSDecryptor{client: fake, keyID: "alias/cms-jwt"}

	blob := []byte{1, 2, 3, 4}
	got, err := d.DecryptSecret(context.Background(), base64.StdEncoding.EncodeToString(blob), 32)
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if string(got) != secret {
		t.Fatalf("secret = %q", got)
	}
	if string(fake.got.CiphertextBlob) != string(blob) {
		t.Fatalf("ciphertext = %v", fake.got.CiphertextBlob)
	}
	if aws.ToString(fake.got.KeyId) != "alias/cms-jwt" {
		t.Fatalf("KeyId = %q", aws.ToString(fake.got.KeyId))
	}
}

func TestKMSDecryptor_Errors(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString([]byte{9, 9})
	tests := []struct {
		name       string
		d          *KMSDecryptor
		ciphertext string
		want       string
	}{
		{"no client", &KMSDecryptor{}, valid, "not configured"},
		{"bad base64", &KMSDecryptor{client: &fakeKMS{}}, "%%%", "decode kms ciphertext"},
		{"kms error", &KMSDecryptor{client: &fakeKMS{err: errors.New("AccessDenied")}}, valid, "kms decrypt: AccessDenied"},
		{"too short", &KMSDecryptor{client: &fakeKMS{plaintext: []byte("  short  ")}}, valid, "at least 32 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.d.DecryptSecret(context.Background(), tt.ciphertext, 32)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestKMSDecryptor_NoKeyIDLeavesKeyUnset(t *testing.T) {
	fake := &fakeKMS{plaintext: []byte(strings.Repeat("k", 32))}
	d := &KMSDecryptor{client: fake}
	if _, err := d.DecryptSecret(context.Background(), base64.StdEncoding.EncodeToString([]byte{1}), 32); err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if fake.got.KeyId != nil {
		t.Fatalf("KeyId = %q, want unset", *fake.got.KeyId)
	}
}
