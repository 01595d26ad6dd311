package ask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/search"
)

func TestAssembleKnowledgeBlock(t *testing.T) {
	tests := []struct {
		name    string
		results []*search.RetrievalResult
		want    KnowledgeBlock
	}{
		{name: "空の結果", results: nil, want: ""},
		{name: "1件", results: []*search.RetrievalResult{{Text: "alpha"}}, want: "alpha"},
		{
			name:    "受け取った順に連結",
			results: []*search.RetrievalResult{{Text: "b", Score: 0.1}, {Text: "a", Score: 0.5}, {Text: "c", Score: 0.3}},
			want:    "b\n\n----\n\na\n\n----\n\nc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := AssembleKnowledgeBlock(tt.results)
			assert.Equal(t, tt.want, block)
			assert.Equal(t, len(tt.results) == 0, block.IsEmpty())
		})
	}
}

func TestParsePromptTemplate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "デフォルト", text: DefaultPromptTemplate},
		{name: "両方あり", text: "Q: {question}\nK: {knowledge_block}"},
		{name: "質問なし", text: "K: {knowledge_block}", wantErr: true},
		{name: "知識ブロックなし", text: "Q: {question}", wantErr: true},
		{name: "空", text: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePromptTemplate(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTemplate)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPromptTemplateRenderSinglePass(t *testing.T) {
	tmpl, err := ParsePromptTemplate("Q: {question}\nK: {knowledge_block}")
	require.NoError(t, err)

	got := tmpl.Render("what is {knowledge_block}?", KnowledgeBlock("text with {question}"))
	assert.Equal(t, "Q: what is {knowledge_block}?\nK: text with {question}", got)
}
