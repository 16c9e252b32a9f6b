package cryptoutil

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

// kmsDecrypter is the subset of the KMS API needed to unwrap a secret.
type kmsDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSDecryptor unwraps secrets that were encrypted with `aws kms encrypt`
// and shipped as base64 in config.
type KMSDecryptor struct {
	client kmsDecrypter
	// keyID pins the key the ciphertext must have been encrypted under.
	// Empty lets KMS pick it from the ciphertext metadata.
	keyID string
}

func NewKMSDecryptor(client *kms.Client, keyID string) *KMSDecryptor {
	return &KMSDecryptor{client: client, keyID: keyID}
}

// DecryptSecret decodes and decrypts ciphertextB64, trimming surrounding
// whitespace from the plaintext. It fails when fewer than minLen bytes remain.
func (d *KMSDecryptor) DecryptSecret(ctx context.Context, ciphertextB64 string, minLen int) ([]byte, error) {
	if d.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}
	blob, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, xerrors.Wrap(err, "decode kms ciphertext")
	}

	in := &kms.DecryptInput{CiphertextBlob: blob}
	if d.keyID != "" {
		in.KeyId = aws.String(d.keyID)
	}
	out, err := d.client.Decrypt(ctx, in)
	if err != nil {
		return nil, xerrors.Wrap(err, "kms decrypt")
	}

	secret := bytes.TrimSpace(out.Plaintext)
	if len(secret) < minLen {
		return nil, xerrors.Newf("kms plaintext must hold at least %d bytes", minLen)
	}
	return secret, nil
}
