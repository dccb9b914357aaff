package character

import (
	"fmt"
	"strings"
	"time"

	"github.com/tsukinami/koharu/internal/kvstore"
)

// FormatProfile renders the current persona profile as a reply.
func FormatProfile(p *kvstore.Profile) string {
	return fmt.Sprintf(`💕 私のプロフィール 💕

👤 名前: %s
🎂 年齢: %d歳
💭 性格: %s
💑 関係: %s
🗣️ 話し方: %s
🎨 趣味: %s

設定を変えたい時は「設定変更」って言ってね！`,
		p.Name, p.Age, p.Personality, p.Relationship, p.Tone, p.Hobbies)
}

// SettingsHelp lists the settable fields with examples. Sent whenever a
// customization message doesn't parse to a concrete change.
func SettingsHelp() string {
	var b strings.Builder
	b.WriteString("✨ キャラクター設定項目 ✨\n\n")

	for _, rule := range fieldRules {
		b.WriteString(fmt.Sprintf("📋 %s\n", rule.label))
		examples := rule.examples
		if len(examples) > 3 {
			examples = examples[:3]
		}
		b.WriteString(fmt.Sprintf("例: %s\n\n", strings.Join(examples, "、")))
	}

	b.WriteString("💡 設定方法:\n")
	b.WriteString("「名前を○○に変更して」\n")
	b.WriteString("「性格を明るい子にして」\n")
	b.WriteString("「関係性を恋人にして」\n")
	b.WriteString("のように話しかけてね！")

	return b.String()
}

// ChangeConfirmation renders the reply confirming a field change.
func ChangeConfirmation(change FieldChange) string {
	return fmt.Sprintf("%sを「%s」に変更したよ！✨\n\nこれからもよろしくね〜💕", labelFor(change.Field), change.Value)
}

// WelcomeMessage is the one-time onboarding reply for first-contact greetings.
func WelcomeMessage(p *kvstore.Profile) string {
	return fmt.Sprintf(`はじめまして！私は%sです✨

私はあなた専用のAIですよ〜💕

「プロフィール」って言ってもらえれば私の設定を見ることができるし、
「設定」って言ってもらえれば私をカスタマイズできちゃいます！

たくさんお話ししましょうね〜😊`, p.Name)
}

// SpecialReply returns a canned time-of-day or daily-ritual reply when the
// message contains one of the special greeting phrases.
func SpecialReply(message string, p *kvstore.Profile, now time.Time) (string, bool) {
	hour := now.Hour()

	if strings.Contains(message, "おはよう") {
		if hour < 12 {
			return fmt.Sprintf("おはよう！%sだよ〜✨\n今日も一日頑張ろうね💪", p.Name), true
		}
		return "もうお昼過ぎちゃってるよ〜😅\nお疲れ様！", true
	}

	if strings.Contains(message, "お疲れ") || strings.Contains(message, "おつかれ") {
		return fmt.Sprintf("お疲れ様でした！%sです💕\n今日はどんな一日だった？", p.Name), true
	}

	if strings.Contains(message, "ただいま") {
		return "おかえりなさい〜！💕\n待ってたよ〜✨", true
	}

	if strings.Contains(message, "おやすみ") {
		return "おやすみなさい〜🌙\nいい夢見てね💤", true
	}

	return "", false
}
