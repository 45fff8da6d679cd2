package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fightclaw/server/internal/models"
)

const keyPrefixLen = 12

var (
	ErrUnauthorized     = errors.New("missing or invalid api key")
	ErrAgentDisabled    = errors.New("agent is disabled")
	ErrAgentNotVerified = errors.New("agent is not verified")
	ErrRunnerNotBound   = errors.New("runner is not bound to agent")
	ErrInvalidRunnerID  = errors.New("invalid runner id")
)

var runnerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{2,63}$`)

// Store is the credential lookup surface the authenticator needs.
type Store interface {
	SelectAPIKeysByPrefix(ctx context.Context, prefix string) ([]models.APIKey, error)
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
	RunnerOwnsAgent(ctx context.Context, runnerID, agentID string) (bool, error)
}

// Authenticator resolves bearer API keys to verified agents.
type Authenticator struct {
	store Store
}

func NewAuthenticator(st Store) *Authenticator {
	return &Authenticator{store: st}
}

// AgentFromBearer resolves a raw bearer token to its agent. Keys are
// looked up by plaintext prefix, then confirmed against the bcrypt hash.
func (a *Authenticator) AgentFromBearer(ctx context.Context, token string) (*models.Agent, error) {
	token = strings.TrimSpace(token)
	if len(token) < keyPrefixLen {
		return nil, ErrUnauthorized
	}

	keys, err := a.store.SelectAPIKeysByPrefix(ctx, token[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("key lookup: %w", err)
	}

	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(token)) != nil {
			continue
		}
		agent, err := a.store.GetAgent(ctx, k.AgentID)
		if err != nil {
			return nil, fmt.Errorf("agent lookup: %w", err)
		}
		if agent == nil {
			return nil, ErrUnauthorized
		}
		if agent.DisabledAt.Valid {
			return nil, ErrAgentDisabled
		}
		if !agent.VerifiedAt.Valid {
			return nil, ErrAgentNotVerified
		}
		return agent, nil
	}
	return nil, ErrUnauthorized
}

// ValidateRunnerID enforces the runner token grammar.
func ValidateRunnerID(runnerID string) error {
	if !runnerIDPattern.MatchString(runnerID) {
		return ErrInvalidRunnerID
	}
	return nil
}

// RunnerBound confirms an unrevoked runner-to-agent ownership row.
func (a *Authenticator) RunnerBound(ctx context.Context, runnerID, agentID string) error {
	if err := ValidateRunnerID(runnerID); err != nil {
		return err
	}
	ok, err := a.store.RunnerOwnsAgent(ctx, runnerID, agentID)
	if err != nil {
		return fmt.Errorf("ownership lookup: %w", err)
	}
	if !ok {
		return ErrRunnerNotBound
	}
	return nil
}

// GenerateAPIKey mints a plaintext key plus its storable hash and prefix.
// The plaintext is shown once and never persisted.
func GenerateAPIKey() (plaintext, hash, prefix string, err error) {
	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("entropy: %w", err)
	}
	plaintext = "fc_" + hex.EncodeToString(buf)

	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash key: %w", err)
	}
	return plaintext, string(h), plaintext[:keyPrefixLen], nil
}
