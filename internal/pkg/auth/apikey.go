/**
 * 工具类:管理面API密钥工具
 * @description: 管理员API密钥的生成、哈希与校验
 * @func:
 * 	1.生成随机API密钥
 * 	2.哈希API密钥
 * 	3.校验API密钥
 */
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2" // 引入Argon2id算法
)

// APIKeyConfig Argon2id哈希参数配置
type APIKeyConfig struct {
	Memory      uint32 // 内存使用量 (KB)
	Iterations  uint32 // 迭代次数
	Parallelism uint8  // 并行度
	SaltLength  uint32 // 盐长度
	KeyLength   uint32 // 密钥长度
}

// DefaultAPIKeyConfig 默认哈希参数
var DefaultAPIKeyConfig = &APIKeyConfig{
	Memory:      64 * 1024, // 64MB
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// APIKeyManager 管理面API密钥的哈希与校验
// 只存储哈希，明文密钥在生成时一次性返回给调用方
type APIKeyManager struct {
	config *APIKeyConfig
}

// NewAPIKeyManager 创建API密钥管理器
func NewAPIKeyManager(config *APIKeyConfig) *APIKeyManager {
	if config == nil {
		config = DefaultAPIKeyConfig
	}
	return &APIKeyManager{config: config}
}

// GenerateAPIKey 生成一个随机的明文API密钥，前缀便于运维识别泄露来源
func GenerateAPIKey() (string, error) {
	raw, err := generateRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return "nctl_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashAPIKey 哈希明文API密钥用于持久化存储
func (m *APIKeyManager) HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("api key cannot be empty")
	}

	salt, err := generateRandomBytes(m.config.SaltLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(key),
		salt,
		m.config.Iterations,
		m.config.Memory,
		m.config.Parallelism,
		m.config.KeyLength,
	)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encodedHash := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		m.config.Memory,
		m.config.Iterations,
		m.config.Parallelism,
		b64Salt,
		b64Hash,
	)

	return encodedHash, nil
}

// VerifyAPIKey 校验明文密钥是否匹配存储的哈希
func (m *APIKeyManager) VerifyAPIKey(key, encodedHash string) (bool, error) {
	if key == "" || encodedHash == "" {
		return false, errors.New("api key and hash cannot be empty")
	}

	config, salt, hash, err := m.decodeHash(encodedHash)
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	otherHash := argon2.IDKey(
		[]byte(key),
		salt,
		config.Iterations,
		config.Memory,
		config.Parallelism,
		config.KeyLength,
	)

	return subtle.ConstantTimeCompare(hash, otherHash) == 1, nil
}

// decodeHash 解码 $argon2id$... 格式的哈希字符串
func (m *APIKeyManager) decodeHash(encodedHash string) (*APIKeyConfig, []byte, []byte, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, nil, nil, errors.New("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, nil, errors.New("unsupported algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, nil, errors.New("incompatible version")
	}

	config := &APIKeyConfig{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &config.Memory, &config.Iterations, &config.Parallelism); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid salt: %w", err)
	}
	config.SaltLength = uint32(len(salt))

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid hash: %w", err)
	}
	config.KeyLength = uint32(len(hash))

	return config, salt, hash, nil
}

// generateRandomBytes 生成随机字节
func generateRandomBytes(n uint32) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
