package models

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"backend/entities"
)

const (
	// exchangeCodeTTL is how long an issued code is nominally valid.
	exchangeCodeTTL = 60 * time.Second
	// exchangeCodeGrace extends the stored TTL slightly past nominal so a
	// code presented right at the boundary still resolves.
	exchangeCodeGrace = 10 * time.Second
)

// ExchangeCodeStore holds the short-lived, single-use opaque codes the
// upgrade handshake exchanges for a verified identity. Codes live in redis
// under their TTL and are deleted atomically on first use, so reuse fails.
type ExchangeCodeStore struct {
	client *redis.Client
}

func NewExchangeCodeStore(client *redis.Client) *ExchangeCodeStore {
	return &ExchangeCodeStore{client: client}
}

func codeKey(code string) string {
	return fmt.Sprintf("auth_code:%s", code)
}

// Issue stores the identity under a fresh opaque code.
func (s *ExchangeCodeStore) Issue(ctx context.Context, identity entities.Identity) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ExchangeCodeStore: Issue: error generating code: %w", err)
	}
	code := hex.EncodeToString(buf)

	data, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("ExchangeCodeStore: Issue: error serializing identity: %w", err)
	}

	if err := s.client.Set(ctx, codeKey(code), data, exchangeCodeTTL+exchangeCodeGrace).Err(); err != nil {
		return "", fmt.Errorf("ExchangeCodeStore: Issue: error storing code: %w", err)
	}
	return code, nil
}

// Redeem resolves a code to its identity and deletes it in the same
// operation. A second redemption of the same code fails, as does a code
// past its TTL plus the grace window.
func (s *ExchangeCodeStore) Redeem(ctx context.Context, code string) (entities.Identity, error) {
	data, err := s.client.GetDel(ctx, codeKey(code)).Result()
	if err == redis.Nil {
		return entities.Identity{}, fmt.Errorf("ExchangeCodeStore: Redeem: code is invalid, expired or already used")
	}
	if err != nil {
		return entities.Identity{}, fmt.Errorf("ExchangeCodeStore: Redeem: error resolving code: %w", err)
	}

	var identity entities.Identity
	if err := json.Unmarshal([]byte(data), &identity); err != nil {
		return entities.Identity{}, fmt.Errorf("ExchangeCodeStore: Redeem: error deserializing identity: %w", err)
	}
	log.Printf("ExchangeCodeStore: Redeem: code redeemed for user %s", identity.UserId)
	return identity, nil
}
