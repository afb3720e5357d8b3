package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/knowledge-base/internal/kb/model"
)

const (
	langTamil = "ta"
	// excerptRunes 来源摘录的最大字符数
	excerptRunes = 200
	// historyAnswerRunes 拼入检索查询的历史回答截断长度
	historyAnswerRunes = 100
)

func systemPrompt(language, topic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a knowledge-base assistant answering questions about %s.\n\n", topic)
	b.WriteString(`Rules:
1. Answer ONLY from the provided context. Never use outside knowledge.
2. If the context is not sufficient, say so clearly.
3. Cite the sources you rely on.
4. Do not invent facts, names, dates or figures.`)
	if language == langTamil {
		b.WriteString(`
5. Respond in Tamil (தமிழ்). English terms are acceptable where no clear Tamil word exists.
6. Keep a respectful, formal tone.`)
	} else {
		b.WriteString(`
5. Respond in clear, professional English.
6. Prefer plain language without losing accuracy.`)
	}
	return b.String()
}

func formatContext(chunks []model.ScoredChunk) string {
	var b strings.Builder
	for i, ch := range chunks {
		fmt.Fprintf(&b, "Source %d (Relevance: %.2f):\nTitle: %s\nCategory: %s\nContent: %s\n\n---\n\n",
			i+1, ch.Score, ch.Title, ch.Category, ch.Content)
	}
	return b.String()
}

func userPrompt(question string, chunks []model.ScoredChunk) string {
	return fmt.Sprintf(`Context Information:
%s
User Question: %s

Answer using ONLY the context above. If it does not contain enough information, say so clearly.`,
		formatContext(chunks), question)
}

func fallbackText(language, topic string) string {
	if language == langTamil {
		return fmt.Sprintf("மன்னிக்கவும், %s பற்றிய உங்கள் கேள்விக்கு எனது தரவுத்தளத்தில் போதுமான தகவல் இல்லை. தயவுசெய்து வேறு வழியில் கேள்வியை கேட்க முயற்சிக்கவும்.", topic)
	}
	return fmt.Sprintf("I don't have sufficient information in the knowledge base to answer your question about %s. Please try rephrasing it or asking about a different aspect of this topic.", topic)
}

func unavailableText(language string) string {
	if language == langTamil {
		return "மன்னிக்கவும், தற்போது பதிலை உருவாக்க முடியவில்லை. கீழே உள்ள மூலங்கள் உங்கள் கேள்வியுடன் தொடர்புடையவை. சிறிது நேரம் கழித்து மீண்டும் முயற்சிக்கவும்."
	}
	return "I'm unable to generate an answer right now. The sources below are relevant to your question. Please try again later."
}

// retrievalQuery 把最近几轮对话拼到当前问题前，改善指代类追问的检索效果。
func retrievalQuery(question string, history []model.ConversationTurn, turns int) string {
	question = strings.TrimSpace(question)
	if len(history) == 0 || turns <= 0 {
		return question
	}
	if len(history) > turns {
		history = history[len(history)-turns:]
	}
	var b strings.Builder
	for _, t := range history {
		if q := strings.TrimSpace(t.Question); q != "" {
			fmt.Fprintf(&b, "Previous question: %s\n", q)
		}
		if a := strings.TrimSpace(t.Answer); a != "" {
			fmt.Fprintf(&b, "Previous answer: %s...\n", truncateRunes(a, historyAnswerRunes))
		}
	}
	if b.Len() == 0 {
		return question
	}
	fmt.Fprintf(&b, "\nCurrent question: %s", question)
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
