package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/bond-venue/pkg/secrets"
)

type fakeProvider struct {
	secrets map[string]map[string]string
	calls   int
}

func (f *fakeProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	f.calls++
	if s, ok := f.secrets[key]; ok {
		return s, nil
	}
	return nil, errors.New("secret not found")
}

func (f *fakeProvider) ListSecrets(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func TestAWSSource_FetchesAndCaches(t *testing.T) {
	provider := &fakeProvider{secrets: map[string]map[string]string{
		"uat/clearing/agents": {"abn": "hunter2", "soros": "pass"},
	}}
	src := NewAWSSource(zap.NewNop(), "UAT", provider, pkgsecrets.NewCache[map[string]string](time.Minute))

	creds, err := src.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", creds["abn"])

	_, err = src.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls, "second lookup served from cache")
}

func TestAWSSource_MissingSecret(t *testing.T) {
	src := NewAWSSource(zap.NewNop(), "uat", &fakeProvider{}, pkgsecrets.NewCache[map[string]string](time.Minute))
	_, err := src.Credentials(context.Background())
	assert.Error(t, err)
}

func TestStaticSource_ParsesPairs(t *testing.T) {
	src := NewStaticSource("abn:hunter2, soros:pass,malformed,:nouser")

	creds, err := src.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"abn": "hunter2", "soros": "pass"}, creds)
}
