package infra

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"

	"charted-server/config"
)

// ErrMissingSecret は署名用シークレットが設定されていない場合のエラー。
var ErrMissingSecret = errors.New("JWT_SECRET or JWT_SECRET_CIPHERTEXT is required")

// Decrypter は暗号文を復号する。
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KMSClient はCloud KMSクライアントをラップする。
type KMSClient struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSClient はkeyNameの鍵で復号するKMSClientを生成する。
func NewKMSClient(ctx context.Context, keyName string) (*KMSClient, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME environment variable is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSClient{
		client:  client,
		keyName: keyName,
	}, nil
}

// Decrypt は暗号文をCloud KMSで復号する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	req := &kmspb.DecryptRequest{
		Name:       c.keyName,
		Ciphertext: ciphertext,
	}
	resp, err := c.client.Decrypt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}

// ResolveSecret はトークン署名用のシークレットを返す。
// JWT_SECRET_CIPHERTEXTが設定されていればdecrypterで復号し、無ければJWT_SECRETを使う。
func ResolveSecret(ctx context.Context, cfg *config.Config, decrypter Decrypter) ([]byte, error) {
	if cfg.JWTSecretCiphertext != "" {
		if decrypter == nil {
			return nil, fmt.Errorf("KMS_KEY_NAME is required to decrypt JWT_SECRET_CIPHERTEXT")
		}
		ciphertext, err := base64.StdEncoding.DecodeString(cfg.JWTSecretCiphertext)
		if err != nil {
			return nil, fmt.Errorf("decoding JWT_SECRET_CIPHERTEXT: %w", err)
		}
		secret, err := decrypter.Decrypt(ctx, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypting JWT_SECRET_CIPHERTEXT: %w", err)
		}
		if len(secret) == 0 {
			return nil, ErrMissingSecret
		}
		return secret, nil
	}
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	return []byte(cfg.JWTSecret), nil
}
