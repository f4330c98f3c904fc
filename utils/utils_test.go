package utils

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeKVsHashesIdentityAndRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"user_id", "user-1", "service_token", "abc", "count", 3, "dangling"})

	require.Len(t, out, 7)
	assert.Equal(t, HashID("user-1"), out[1])
	assert.NotEqual(t, "user-1", out[1])
	assert.Equal(t, "[REDACTED]", out[3])
	assert.Equal(t, 3, out[5])
	assert.Equal(t, "dangling", out[6])
}

func TestHashIDIsStable(t *testing.T) {
	assert.Equal(t, HashID("abc"), HashID("abc"))
	assert.NotEqual(t, HashID("abc"), HashID("abd"))
	assert.Equal(t, "", HashID(""))
	assert.Len(t, HashID("abc"), len("hash:")+12)
}

func TestNewLoggerModes(t *testing.T) {
	for _, mode := range []string{"development", "production", "quiet"} {
		log, err := NewLogger(mode)
		require.NoError(t, err, mode)
		log.With("component", "test").Debug("hello", "user_id", "u")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SYNC_INTERVAL", "2m")
	t.Setenv("REMOTE_RETRY_ATTEMPTS", "5")
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	t.Setenv("R2_BUCKET_NAME", "profiles")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2*time.Minute, cfg.SyncInterval)
	assert.Equal(t, uint(5), cfg.RemoteRetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RemoteRetryInitial)
	assert.True(t, cfg.R2.Enabled())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{RemoteRetryAttempts: 3}
	assert.NoError(t, cfg.Validate(false))
	assert.Error(t, cfg.Validate(true))

	cfg.RemoteURL = "http://remote"
	assert.Error(t, cfg.Validate(true), "remote URL needs a token")
	cfg.GameServiceToken = "t"
	assert.NoError(t, cfg.Validate(true))

	cfg.RemoteRetryAttempts = 0
	assert.Error(t, cfg.Validate(false))
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestR2ArchiverPutsJSONObject(t *testing.T) {
	putter := &fakePutter{}
	archiver := NewR2ArchiverWithClient(putter, "bucket")

	require.NoError(t, archiver.Archive(context.Background(), "profiles/u/snapshots/2026010100.json", []byte(`{"id":"u"}`)))
	assert.Equal(t, "bucket", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "profiles/u/snapshots/2026010100.json", aws.ToString(putter.input.Key))
	assert.Equal(t, "application/json", aws.ToString(putter.input.ContentType))
	assert.JSONEq(t, `{"id":"u"}`, string(putter.body))
}
