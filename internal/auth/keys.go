package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "OneChain-Portal/internal/errors"
)

// KeyStore 按摘要保存 API Key。
type KeyStore struct {
	entries []keyEntry
}

type keyEntry struct {
	digest  []byte
	subject *Subject
}

// HashKey 返回 API Key 的十六进制 SHA-256 摘要。
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewKeyStore 校验并加载 Key 列表。
func NewKeyStore(keys []KeyConfig) (*KeyStore, error) {
	store := &KeyStore{}
	seen := make(map[string]struct{}, len(keys))
	for i, k := range keys {
		name := strings.TrimSpace(k.Name)
		if name == "" {
			name = fmt.Sprintf("key-%d", i+1)
		}
		digestHex := strings.ToLower(strings.TrimSpace(k.KeySHA256))
		if digestHex == "" {
			if strings.TrimSpace(k.Key) == "" {
				return nil, fmt.Errorf("API Key %s 缺少 key 或 key_sha256", name)
			}
			digestHex = HashKey(strings.TrimSpace(k.Key))
		}
		digest, err := hex.DecodeString(digestHex)
		if err != nil || len(digest) != sha256.Size {
			return nil, fmt.Errorf("API Key %s 的 key_sha256 不是合法的 SHA-256 摘要", name)
		}
		if _, dup := seen[digestHex]; dup {
			return nil, fmt.Errorf("API Key %s 与其他 Key 重复", name)
		}
		seen[digestHex] = struct{}{}

		subject := &Subject{
			Name:        name,
			Permissions: append([]string(nil), k.Permissions...),
			Disabled:    k.Disabled,
		}
		subject.normalise()
		store.entries = append(store.entries, keyEntry{digest: digest, subject: subject})
	}
	return store, nil
}

// LoadKeys 从 YAML 文件读取 Key 列表，文件顶层为 keys 数组。
func LoadKeys(path string) ([]KeyConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 API Key 文件失败: %w", err)
	}
	var doc struct {
		Keys []KeyConfig `yaml:"keys"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("解析 API Key 文件失败: %w", err)
	}
	return doc.Keys, nil
}

// Len 返回 Key 数量。
func (s *KeyStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Lookup 按明文 Key 查找调用方。所有条目都会参与比较。
func (s *KeyStore) Lookup(key string) (*Subject, error) {
	if strings.TrimSpace(key) == "" {
		return nil, xerrors.New(CodeUnauthenticated, "缺少 API Key")
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	var found *Subject
	for _, entry := range s.entries {
		if subtle.ConstantTimeCompare(entry.digest, sum[:]) == 1 {
			found = entry.subject
		}
	}
	if found == nil {
		return nil, xerrors.New(CodeUnauthenticated, "API Key 无效")
	}
	return found, nil
}
