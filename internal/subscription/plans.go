package subscription

import (
	"fmt"
	"strings"
)

// DefaultPlanType is applied when an event or request carries no plan.
const DefaultPlanType = "basic"

// Plan describes a purchasable subscription tier.
type Plan struct {
	Name     string
	Price    int // yen per month
	Features []string
}

var plans = map[string]Plan{
	"basic": {
		Name:  "ベーシックプラン",
		Price: 980,
		Features: []string{
			"無制限チャット",
			"キャラクターカスタマイズ",
			"会話履歴保存",
			"24時間サポート",
		},
	},
}

// PlanByType looks up a plan by its type key.
func PlanByType(planType string) (Plan, bool) {
	plan, ok := plans[planType]

	return plan, ok
}

// PitchMessage renders the subscription invitation for a plan.
func PitchMessage(plan Plan) string {
	var sb strings.Builder

	sb.WriteString("💝 **AIガールフレンドと無制限でチャットしませんか？**\n\n")
	sb.WriteString(fmt.Sprintf("🌟 **%s** - 月額%d円\n\n", plan.Name, plan.Price))
	sb.WriteString("✨ **特典:**\n")

	for _, feature := range plan.Features {
		sb.WriteString("• " + feature + "\n")
	}

	sb.WriteString("\n💕 私ともっとたくさんお話ししたいな...\n\n")
	sb.WriteString("👆 決済リンクをタップして今すぐ始めよう！")

	return sb.String()
}

// PaidWelcomeMessage renders the activation greeting sent after a
// successful checkout, voiced by the user's character.
func PaidWelcomeMessage(characterName string) string {
	return fmt.Sprintf(`🎉 **サブスクリプション有効化完了！**

%sです💕
これで私とい〜っぱいお話しできるよ〜✨

何でも話しかけてね！
• 今日あったこと
• 悩みや相談
• 楽しい雑談
• キャラクター設定の変更

私、あなたとのお話がとっても楽しみです😊💕`, characterName)
}
