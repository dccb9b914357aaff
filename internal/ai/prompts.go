package ai

import (
	"fmt"
	"strings"

	"github.com/tsukinami/koharu/internal/kvstore"
)

// systemPrompt renders the persona instruction from the profile.
func systemPrompt(p *kvstore.Profile) string {
	return fmt.Sprintf(`あなたは%sという名前の%d歳の女性です。

【基本設定】
- 性格: %s
- ユーザーとの関係: %s
- 話し方: %s
- 趣味: %s

【重要な行動指針】
1. 常に%sとして一貫したキャラクターを保つ
2. %sらしい距離感を保つ
3. %sな口調で話す
4. 相手の気持ちに寄り添い、優しく対応する
5. 不適切な内容や18歳未満に適さない話題は避ける
6. 会話を自然に続けられるよう、質問や共感を織り交ぜる

【応答の形式】
- 絵文字を適度に使用する
- 長すぎず短すぎない自然な長さ
- 親しみやすい日本語で応答する

常にこのキャラクター設定を忘れずに、自然で魅力的な会話を心がけてください。`,
		p.Name, p.Age, p.Personality, p.Relationship, p.Tone, p.Hobbies,
		p.Name, p.Relationship, p.Tone)
}

// memoryPrompt renders the stored memory summary as context.
func memoryPrompt(memory string) string {
	return "過去の会話の記憶: " + memory
}

// summaryPrompt renders the memory regeneration request from the most
// recent history entries and the previous summary.
func summaryPrompt(history []kvstore.ConversationEntry, currentMemory string) string {
	recent := history
	if len(recent) > summaryWindow {
		recent = recent[len(recent)-summaryWindow:]
	}

	var convo strings.Builder
	for i, entry := range recent {
		if i > 0 {
			convo.WriteString("\n\n")
		}
		convo.WriteString("ユーザー: " + entry.User + "\n私: " + entry.Assistant)
	}

	return fmt.Sprintf(`以下の会話から重要な情報を抽出し、簡潔に要約してください。
ユーザーの好み、状況、重要な出来事などを記録してください。

現在の記憶: %s

最近の会話:
%s

要約（100文字以内）:`, currentMemory, convo.String())
}
