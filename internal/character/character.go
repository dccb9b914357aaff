// Package character implements the persona customization grammar: intent
// classification of free-text messages, field-change parsing and validation,
// and the fixed persona-facing reply texts.
//
// Classification is keyword-containment based, not natural-language parsing.
// Field changes are matched against an ordered rule table; the first matching
// rule wins and only one field may change per message.
package character

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tsukinami/koharu/internal/kvstore"
)

// Field identifies a settable persona profile field.
type Field string

// Settable persona fields.
const (
	FieldName         Field = "name"
	FieldAge          Field = "age"
	FieldPersonality  Field = "personality"
	FieldRelationship Field = "relationship"
	FieldTone         Field = "tone"
	FieldHobbies      Field = "hobbies"
)

const (
	// MinAge and MaxAge bound the persona age, inclusive.
	MinAge = 18
	MaxAge = 30

	// maxTextLen caps free-text field values, in runes.
	maxTextLen = 50
)

// allowedRelationships is the closed label set for the relationship field.
var allowedRelationships = []string{"友達", "恋人", "お姉さん", "妹", "幼馴染"}

// FieldChange is a parsed, validated single-field update.
// Value is the display form; for age it holds the digits.
type FieldChange struct {
	Field Field
	Value string
}

// Apply mutates the given profile with the change. The change must have
// been produced by ParseFieldChange, so values are already validated.
func (c FieldChange) Apply(p *kvstore.Profile) {
	switch c.Field {
	case FieldName:
		p.Name = c.Value
	case FieldAge:
		age, _ := strconv.Atoi(c.Value)
		p.Age = age
	case FieldPersonality:
		p.Personality = c.Value
	case FieldRelationship:
		p.Relationship = c.Value
	case FieldTone:
		p.Tone = c.Value
	case FieldHobbies:
		p.Hobbies = c.Value
	}
}

// fieldRule binds a field to its extraction pattern and validator.
// Rules are pure data evaluated in fixed order; no shared mutable state.
type fieldRule struct {
	field    Field
	label    string
	examples []string
	pattern  *regexp.Regexp
	validate func(value string) bool
}

var fieldRules = []fieldRule{
	{
		field:    FieldName,
		label:    "名前",
		examples: []string{"あい", "さくら", "みお", "ゆい"},
		pattern:  regexp.MustCompile(`名前[をは]?(.+?)[にへ]?[変更更新設定]`),
		validate: validText,
	},
	{
		field:    FieldAge,
		label:    "年齢",
		examples: []string{"18", "19", "20"},
		pattern:  regexp.MustCompile(`年齢[をは]?([0-9]+)[歳さい]?[にへ]?[変更更新設定]`),
		validate: validAge,
	},
	{
		field:    FieldPersonality,
		label:    "性格",
		examples: []string{"優しくて思いやりがある", "明るくて元気", "少し天然でかわいい"},
		pattern:  regexp.MustCompile(`性格[をは]?(.+?)[にへ]?[変更更新設定]`),
		validate: validText,
	},
	{
		field:    FieldRelationship,
		label:    "関係性",
		examples: allowedRelationships,
		pattern:  regexp.MustCompile(`関係[性]?[をは]?(.+?)[にへ]?[変更更新設定]`),
		validate: validRelationship,
	},
	{
		field:    FieldTone,
		label:    "話し方",
		examples: []string{"フレンドリー", "丁寧", "カジュアル", "甘えん坊", "クール"},
		pattern:  regexp.MustCompile(`話し方[をは]?(.+?)[にへ]?[変更更新設定]`),
		validate: validText,
	},
	{
		field:    FieldHobbies,
		label:    "趣味",
		examples: []string{"読書、映画鑑賞", "音楽、ゲーム", "料理、お菓子作り"},
		pattern:  regexp.MustCompile(`趣味[をは]?(.+?)[にへ]?[変更更新設定]`),
		validate: validText,
	},
}

var showKeywords = []string{
	"プロフィール",
	"プロフィール確認",
	"設定確認",
	"今の設定",
	"キャラ確認",
}

var settingKeywords = []string{
	"設定",
	"せってい",
	"キャラ設定",
	"キャラクター設定",
	"変更",
	"へんこう",
	"カスタマイズ",
	"プロフィール",
}

var firstContactKeywords = []string{
	"はじめまして",
	"初めまして",
	"よろしく",
}

// IsShowProfileCommand reports whether the message asks to display the
// current persona profile. Checked before IsSettingCommand, so
// "プロフィール" (in both vocabularies) resolves to show.
func IsShowProfileCommand(message string) bool {
	return containsAny(message, showKeywords)
}

// IsSettingCommand reports whether the message is persona-customization
// related (whether or not it parses to a concrete field change).
func IsSettingCommand(message string) bool {
	return containsAny(message, settingKeywords)
}

// IsFirstContact reports whether the message contains a first-contact
// greeting phrase.
func IsFirstContact(message string) bool {
	return containsAny(message, firstContactKeywords)
}

// ParseFieldChange extracts a validated field change from the message.
// Rules are evaluated in fixed order; the first rule whose pattern matches
// and whose value validates wins. Returns false when nothing matches, which
// the caller turns into the settings help text.
func ParseFieldChange(message string) (FieldChange, bool) {
	for _, rule := range fieldRules {
		m := rule.pattern.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if !rule.validate(value) {
			continue
		}
		return FieldChange{Field: rule.field, Value: value}, true
	}
	return FieldChange{}, false
}

func containsAny(message string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}

func validText(value string) bool {
	n := utf8.RuneCountInString(value)
	return n > 0 && n <= maxTextLen
}

func validAge(value string) bool {
	age, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return age >= MinAge && age <= MaxAge
}

func validRelationship(value string) bool {
	for _, allowed := range allowedRelationships {
		if value == allowed {
			return true
		}
	}
	return false
}

func labelFor(field Field) string {
	for _, rule := range fieldRules {
		if rule.field == field {
			return rule.label
		}
	}
	return string(field)
}
