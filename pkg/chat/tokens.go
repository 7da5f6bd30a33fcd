// Package chat — token estimation.
//
// The engine never sees provider-side token counts for history it assembled
// itself, so thresholds work off a chars/4 estimate. Intentionally
// conservative (overestimates tokens).
package chat

import (
	"encoding/json"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// EstimateHistoryTokens estimates the total token count of a message history.
func EstimateHistoryTokens(msgs []ai.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}

// EstimateMessageTokens estimates the token count of a single message using
// chars/4, with a floor of 1 for any non-empty message.
func EstimateMessageTokens(m ai.Message) int {
	chars := 0
	for _, p := range m.Parts {
		switch blk := p.(type) {
		case ai.TextPart:
			chars += len(blk.Text)
		case ai.FunctionCall:
			chars += len(blk.Name)
			if j, err := json.Marshal(blk.Args); err == nil {
				chars += len(j)
			}
		case ai.FunctionResponse:
			chars += len(blk.Name)
			chars += len(blk.Error)
			if j, err := json.Marshal(blk.Response); err == nil {
				chars += len(j)
			}
		}
	}
	if chars == 0 {
		return 0
	}
	t := chars / 4
	if t == 0 {
		t = 1
	}
	return t
}
