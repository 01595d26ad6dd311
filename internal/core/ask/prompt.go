package ask

import (
	"fmt"
	"strings"
)

const (
	questionPlaceholder  = "{question}"
	knowledgePlaceholder = "{knowledge_block}"
)

// DefaultPromptTemplate はデフォルトのプロンプトテンプレート
const DefaultPromptTemplate = `
Answer the user's question:
{question}

briefly, and based only on this information:

{knowledge_block}

If you cannot find the answer to the user's question in this information,
answer "I can't tell you that".
`

// PromptTemplate は {question} と {knowledge_block} を含むプロンプトテンプレート
type PromptTemplate struct {
	text string
}

// ParsePromptTemplate はテンプレートを検証する
// 両方のプレースホルダーを含まない場合は ErrInvalidTemplate を返す
func ParsePromptTemplate(text string) (PromptTemplate, error) {
	var missing []string
	for _, p := range []string{questionPlaceholder, knowledgePlaceholder} {
		if !strings.Contains(text, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return PromptTemplate{}, fmt.Errorf("%w: missing %s", ErrInvalidTemplate, strings.Join(missing, ", "))
	}
	return PromptTemplate{text: text}, nil
}

// MustParsePromptTemplate は ParsePromptTemplate の失敗時に panic する
func MustParsePromptTemplate(text string) PromptTemplate {
	t, err := ParsePromptTemplate(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Render はプレースホルダーを1パスで置換する
// 質問や知識ブロック中のプレースホルダー文字列は再展開しない
func (t PromptTemplate) Render(question string, block KnowledgeBlock) string {
	r := strings.NewReplacer(
		questionPlaceholder, question,
		knowledgePlaceholder, string(block),
	)
	return r.Replace(t.text)
}

func (t PromptTemplate) String() string {
	return t.text
}

// IsZero はテンプレートが未設定かを返す
func (t PromptTemplate) IsZero() bool {
	return t.text == ""
}
