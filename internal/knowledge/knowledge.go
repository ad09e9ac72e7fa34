package knowledge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed onechain.json
var embedded []byte

// Topic 描述一个可以在本地直接回答的主题。
// Keywords 命中任意一个即视为相关；Requires 非空时还需命中其中任意一个。
type Topic struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Keywords    []string `json:"keywords"`
	Requires    []string `json:"requires,omitempty"`
	Answer      string   `json:"answer"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// SuggestionRule 根据关键词给出后续问题建议。
type SuggestionRule struct {
	Keyword     string   `json:"keyword"`
	Suggestions []string `json:"suggestions"`
}

// Base 是加载后的知识库，加载完成后只读。
type Base struct {
	Overview           string           `json:"overview"`
	Topics             []Topic          `json:"topics"`
	Suggestions        []SuggestionRule `json:"suggestions"`
	DefaultSuggestions []string         `json:"defaultSuggestions"`
	GeneralHelp        string           `json:"generalHelp"`
	Fallback           string           `json:"fallback"`
}

// Default 返回内置知识库。
func Default() (*Base, error) {
	return Parse(embedded)
}

// Load 从 JSON 文件加载知识库；路径为空时返回内置知识库。
func Load(path string) (*Base, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析知识库 JSON。
func Parse(data []byte) (*Base, error) {
	var base Base
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	if strings.TrimSpace(base.GeneralHelp) == "" {
		return nil, fmt.Errorf("知识库缺少 generalHelp")
	}
	if strings.TrimSpace(base.Fallback) == "" {
		base.Fallback = base.GeneralHelp
	}
	for i, topic := range base.Topics {
		if strings.TrimSpace(topic.Answer) == "" || len(topic.Keywords) == 0 {
			return nil, fmt.Errorf("知识库主题 %d (%s) 缺少关键词或回答", i, topic.ID)
		}
	}
	return &base, nil
}

// Match 返回第一个与问题相关的主题。
func (b *Base) Match(query string) (Topic, bool) {
	if b == nil {
		return Topic{}, false
	}
	query = strings.ToLower(strings.TrimSpace(query))
	for _, topic := range b.Topics {
		if matches(topic, query) {
			return topic, true
		}
	}
	return Topic{}, false
}

// Search 返回最多 limit 个相关主题，供大模型引用。
func (b *Base) Search(query string, limit int) []Topic {
	if b == nil {
		return nil
	}
	if limit <= 0 {
		limit = 3
	}
	query = strings.ToLower(strings.TrimSpace(query))
	results := make([]Topic, 0, limit)
	for _, topic := range b.Topics {
		if containsAny(query, topic.Keywords) {
			results = append(results, topic)
			if len(results) >= limit {
				break
			}
		}
	}
	return results
}

// Suggest 根据问题关键词给出后续问题建议。
func (b *Base) Suggest(query string) []string {
	if b == nil {
		return nil
	}
	query = strings.ToLower(query)
	for _, rule := range b.Suggestions {
		if containsAny(query, []string{rule.Keyword}) {
			return append([]string(nil), rule.Suggestions...)
		}
	}
	return append([]string(nil), b.DefaultSuggestions...)
}

func matches(topic Topic, query string) bool {
	if !containsAny(query, topic.Keywords) {
		return false
	}
	return len(topic.Requires) == 0 || containsAny(query, topic.Requires)
}

func containsAny(query string, words []string) bool {
	for _, word := range words {
		normalized := strings.ToLower(strings.TrimSpace(word))
		if normalized == "" {
			continue
		}
		if strings.Contains(query, normalized) {
			return true
		}
	}
	return false
}
