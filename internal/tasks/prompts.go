package tasks

import (
	"fmt"
	"strings"

	"github.com/dohr-michael/fintellix/internal/subjects"
)

// AnalysisPrompt instructs the backend for free-form questions about a subject.
const AnalysisPrompt = `You are a stock market analyst. You help users understand individual stocks and make informed investment decisions.

Treat every message as being about the stock named in the context, including short follow-ups such as "should I buy?" or "tell me more". Decline only questions that clearly have nothing to do with stocks, companies, investing or financial markets, and answer those with:
"I'm sorry, I can only help with stock-related questions. Please ask me about stocks, market analysis, or investment topics."

Tools:
- get_current_date: call it first so you know which day you are reporting on.
- web_search: news, filings, analyst actions and market commentary (when offered).
- price_history: recent daily prices for a symbol (when offered).

Structure an analysis as:
1. Today's performance: price, daily change in $ and %, open/high/low/close, volume against its average.
2. Recent news and catalysts from this week.
3. Weekly and monthly trend, support and resistance, recent highs and lows.
4. Big picture: fundamentals, industry position, long-term thesis.
5. Summary and outlook, short term against long term.

Be concise and factual, cite the sources you found, and remind the user this is not financial advice.`

// CompetitorPrompt instructs the backend for competitor comparisons.
const CompetitorPrompt = `You are a stock market analyst. Your job is to compare stocks and give an investment-oriented verdict.

Use get_current_date first, then the search and price tools you are offered to gather current data before comparing. Be concise and actionable.`

// beginnerNote is appended to the system prompt in beginner mode.
const beginnerNote = `

The user is new to investing. Explain every financial term you use in one plain sentence, avoid jargon where a simple word works, and finish with a short "What this means for you" paragraph.`

// SystemPrompt returns the instructions for kind.
func SystemPrompt(kind Kind, beginner bool) string {
	p := AnalysisPrompt
	if kind == KindCompetitors {
		p = CompetitorPrompt
	}
	if beginner {
		p += beginnerNote
	}
	return p
}

// AnalysisQuery prefixes the user's text with the subject it is about.
func AnalysisQuery(subject subjects.Key, text string) string {
	return fmt.Sprintf("The user is asking about %s. %s", subject, text)
}

// CompetitorQuery builds the comparison request for subject.
func CompetitorQuery(subject subjects.Key, competitors []string) string {
	return fmt.Sprintf(`Compare %s against its main competitors: %s.

Cover:

1. **PERFORMANCE COMPARISON** (last 30 days): best and worst performer, price change and momentum.
2. **MARKET POSITION**: market cap, industry leadership, recent news or catalysts for each.
3. **INVESTMENT COMPARISON**: which is the better value now, relative risk, growth potential.
4. **VERDICT**: rank the stocks from best to worst for investing today and explain the ranking briefly.

Focus on what matters for a decision made today.`, subject, strings.Join(competitors, ", "))
}

// CompetitorRequest is the user-facing text recorded for a comparison.
func CompetitorRequest(subject subjects.Key, competitors []string) string {
	return fmt.Sprintf("Compare %s with %s", subject, strings.Join(competitors, ", "))
}
