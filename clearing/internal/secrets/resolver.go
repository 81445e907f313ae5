package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/bond-venue/pkg/secrets"
)

// CredentialSource supplies the agent credential table clearing validates
// logins against.
type CredentialSource interface {
	Credentials(ctx context.Context) (map[string]string, error)
}

// AWSSource resolves the credential table from AWS Secrets Manager. The
// secret is a single JSON map of user to password under
// {env}/clearing/agents, cached in-memory to limit API calls.
type AWSSource struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[map[string]string]
}

// NewAWSSource constructs the resolver.
func NewAWSSource(logger *zap.Logger, env string, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[map[string]string]) *AWSSource {
	return &AWSSource{
		logger:   logger,
		env:      env,
		provider: provider,
		cache:    cache,
	}
}

func (s *AWSSource) secretName() string {
	return strings.ToLower(fmt.Sprintf("%s/clearing/agents", s.env))
}

func (s *AWSSource) Credentials(ctx context.Context) (map[string]string, error) {
	key := s.secretName()
	if creds, ok := s.cache.Get(key); ok {
		return creds, nil
	}

	creds, err := s.provider.GetSecret(ctx, key)
	if err != nil {
		s.logger.Warn("aws.secret_fetch_failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("resolve agent credentials: %w", err)
	}
	s.cache.Put(key, creds)
	return creds, nil
}

// StaticSource serves a fixed credential table parsed from the environment:
// a comma-separated list of user:password pairs. Used in dev where there is
// no Secrets Manager.
type StaticSource struct {
	creds map[string]string
}

// NewStaticSource parses "user:pass,user2:pass2" into a source. Malformed
// pairs are skipped.
func NewStaticSource(spec string) *StaticSource {
	creds := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		user, pass, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || user == "" {
			continue
		}
		creds[user] = pass
	}
	return &StaticSource{creds: creds}
}

func (s *StaticSource) Credentials(_ context.Context) (map[string]string, error) {
	return s.creds, nil
}
