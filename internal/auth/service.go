package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"OpenMCP-Goals/pkg/logger"
)

const hashPrefix = "sha256:"

type credential struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 校验请求携带的 API key。
type Service struct {
	mode        Mode
	credentials []credential
	audit       *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if len(cfg.Keys) == 0 {
		return nil, errors.New("api_key mode requires at least one key")
	}
	seen := make(map[string]struct{}, len(cfg.Keys))
	for _, key := range cfg.Keys {
		if strings.TrimSpace(key.Name) == "" {
			return nil, errors.New("api key name must be configured")
		}
		if _, dup := seen[key.Name]; dup {
			return nil, fmt.Errorf("duplicate api key name: %s", key.Name)
		}
		seen[key.Name] = struct{}{}
		digest, err := digestOf(key.Secret)
		if err != nil {
			return nil, fmt.Errorf("api key %s: %w", key.Name, err)
		}
		svc.credentials = append(svc.credentials, credential{digest: digest, subject: newSubject(key)})
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}

	digest := sha256.Sum256([]byte(token))
	var match *Subject
	// 遍历全部凭据，耗时与命中位置无关。
	for _, cred := range s.credentials {
		if subtle.ConstantTimeCompare(cred.digest[:], digest[:]) == 1 {
			match = cred.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	if match.Disabled {
		return nil, ErrSubjectRevoked
	}
	return match, nil
}

// HashKey 返回可写入配置文件的 key 摘要。
func HashKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("api key cannot be empty")
	}
	digest := sha256.Sum256([]byte(key))
	return hashPrefix + hex.EncodeToString(digest[:]), nil
}

func digestOf(secret string) ([sha256.Size]byte, error) {
	var out [sha256.Size]byte
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return out, errors.New("secret cannot be empty")
	}
	if !strings.HasPrefix(secret, hashPrefix) {
		return sha256.Sum256([]byte(secret)), nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(secret, hashPrefix))
	if err != nil || len(raw) != sha256.Size {
		return out, errors.New("malformed sha256 digest")
	}
	copy(out[:], raw)
	return out, nil
}
