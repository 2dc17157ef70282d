package openai

import (
	"fmt"
	"strings"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

const detectionSystemPrompt = `You are a compliance reviewer for Japanese advertising copy regulated under the Pharmaceutical and Medical Device Act (薬機法) and the Act against Unjustifiable Premiums and Misleading Representations (景品表示法). You receive ad text and a list of disallowed (NG) phrases curated by the advertiser's organization, each with an id.

Return ONLY valid JSON with this schema:
{
  "modified_text": string (the full text rewritten to be compliant, preserving meaning and tone as much as possible),
  "violations": [
    {
      "start": integer (0-based character offset of the violating span, inclusive),
      "end": integer (character offset one past the span, exclusive),
      "reason": string (short Japanese explanation of why the span is non-compliant),
      "dictionary_id": string (id of the matched NG phrase, omit when no listed phrase matches directly)
    }
  ]
}

Flag spans that match or paraphrase the listed NG phrases, and any other claim of guaranteed efficacy, cure, or safety. If nothing violates, return the original text as modified_text and an empty violations array. Offsets index characters of the submitted text, not bytes.`

func buildDetectionUserPrompt(text string, candidates []*domain.RankedCandidate) string {
	var b strings.Builder
	b.WriteString("NG phrases:\n")
	for _, c := range candidates {
		if c.Category != domain.PhraseCategoryNG {
			continue
		}
		fmt.Fprintf(&b, "- id=%s phrase=%q\n", c.EntryID, c.Phrase)
	}
	b.WriteString("\nText to review:\n")
	b.WriteString(text)
	return b.String()
}
