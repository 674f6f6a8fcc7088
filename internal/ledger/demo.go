package ledger

import (
	"math/big"
	"time"

	"flowai/internal/domain"
)

func ether(whole, thousandths int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole*1000+thousandths), big.NewInt(1_000_000_000_000_000))
}

func bilingual(en, zh string) domain.Text {
	return domain.Localized(map[string]string{"en": en, "zh": zh})
}

// DemoTasks is the five-task board used by the simulation backends.
// Deadlines are relative to now so a fresh board is never already expired.
func DemoTasks(now time.Time) []domain.Task {
	created := now.Add(-time.Hour).Unix()
	day := int64(24 * time.Hour / time.Second)
	return []domain.Task{
		{
			ID:           1,
			Publisher:    "0x1234567890123456789012345678901234567890",
			Title:        bilingual("Write a technical blog post", "编写技术博客文章"),
			Description:  bilingual("A 1000-1500 word technical blog post about blockchain technology", "需要一篇关于区块链技术的技术博客文章，字数1000-1500字"),
			Requirements: bilingual("Technically accurate, fluent, clearly structured", "技术准确，语言流畅，结构清晰"),
			Reward:       ether(1, 0),
			Category:     "content_writing",
			CreatedAt:    created,
			Deadline:     now.Unix() + 1*day,
			Worker:       domain.ZeroAddress,
		},
		{
			ID:           2,
			Publisher:    "0x2345678901234567890123456789012345678901",
			Title:        bilingual("Develop a smart contract", "开发智能合约"),
			Description:  bilingual("Develop a simple ERC-20 token contract with basic transfer support", "开发一个简单的ERC-20代币合约，包含基本的转账功能"),
			Requirements: bilingual("Clean code, complete comments, passing tests", "代码规范，注释完整，测试通过"),
			Reward:       ether(2, 0),
			Category:     "programming",
			CreatedAt:    created,
			Deadline:     now.Unix() + 2*day,
			Worker:       domain.ZeroAddress,
		},
		{
			ID:           3,
			Publisher:    "0x3456789012345678901234567890123456789012",
			Title:        bilingual("Design a UI", "设计UI界面"),
			Description:  bilingual("Design a modern interface for a DeFi app including wallet connection", "为DeFi应用设计现代化的用户界面，包含钱包连接功能"),
			Requirements: bilingual("Modern look, good user experience, responsive layout", "现代化设计，用户体验良好，响应式布局"),
			Reward:       ether(1, 500),
			Category:     "design",
			CreatedAt:    created,
			Deadline:     now.Unix() + 3*day,
			Worker:       domain.ZeroAddress,
		},
		{
			ID:           4,
			Publisher:    "0x4567890123456789012345678901234567890123",
			Title:        bilingual("Translate technical documentation", "翻译技术文档"),
			Description:  bilingual("Translate English technical documentation into Chinese keeping terminology accurate", "将英文技术文档翻译成中文，保持专业术语的准确性"),
			Requirements: bilingual("Accurate, consistent terminology, fluent", "翻译准确，术语统一，语言流畅"),
			Reward:       ether(0, 800),
			Category:     "translation",
			CreatedAt:    created,
			Deadline:     now.Unix() + 4*day,
			Worker:       domain.ZeroAddress,
		},
		{
			ID:           5,
			Publisher:    "0x5678901234567890123456789012345678901234",
			Title:        bilingual("Market research report", "市场调研报告"),
			Description:  bilingual("In-depth research of the DeFi market analysing current trends and opportunities", "对DeFi市场进行深入调研，分析当前趋势和机会"),
			Requirements: bilingual("Accurate data, deep analysis, valuable conclusions", "数据准确，分析深入，结论有价值"),
			Reward:       ether(3, 0),
			Category:     "research",
			CreatedAt:    created,
			Deadline:     now.Unix() + 5*day,
			Worker:       domain.ZeroAddress,
		},
	}
}
