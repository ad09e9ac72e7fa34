package llm

import (
	"fmt"
	"strings"
)

// Prompt 组装 OneChain 开发助手的系统提示词。
type Prompt struct {
	// Overview 是知识库概要，原样嵌入。
	Overview string
	// Notes 是与问题相关的知识条目标题。
	Notes []string
	// Network 是提问者当前使用的网络，例如 testnet。
	Network string
}

const promptIntro = "You are a helpful OneChain blockchain development assistant. You know the OneChain platform, " +
	"the Move language, Programmable Transaction Blocks (PTBs), the OneChain SDK and developer tools, " +
	"wallet integration with @onelabs/dapp-kit, the object ownership model, transaction signing and execution, " +
	"gas management, testing Move packages and OneChain network configuration."

const promptGuidelines = "Guidelines:\n" +
	"- Be concise but comprehensive\n" +
	"- Provide practical examples with code snippets\n" +
	"- Always format responses in markdown with headings, code blocks and bullet points\n" +
	"- If you don't know something specific, say so and give general guidance\n" +
	"- If the question is not about OneChain, politely redirect to OneChain topics"

// String 返回完整的系统提示词。
func (p Prompt) String() string {
	var b strings.Builder
	b.WriteString(promptIntro)
	if network := strings.TrimSpace(p.Network); network != "" {
		fmt.Fprintf(&b, "\n\nThe developer is currently connected to the OneChain %s network.", network)
	}
	b.WriteString("\n\nBased on this OneChain knowledge base:\n")
	b.WriteString(strings.TrimSpace(p.Overview))
	if len(p.Notes) > 0 {
		b.WriteString("\n\nRelevant notes:\n")
		for i, note := range p.Notes {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, note)
		}
	}
	b.WriteString("\n\n")
	b.WriteString(promptGuidelines)
	return b.String()
}
