// Package extraction turns raw model text into structured data.
//
// Extract classifies a response as json, markdown or conversation and pulls
// out the JSON payload when there is one. Processor layers decoding, optional
// JSON Schema validation and memoization on top of Extract, and drives a
// generate, parse, re-prompt loop against any Generator.
//
// # Detection order
//
// The first rule that matches wins:
//
//  1. A fenced block (```json or a bare ```) wrapping a {...} object.
//  2. The whole trimmed text is a {...} object.
//  3. The first balanced-brace object anywhere in the text that decodes as JSON.
//  4. A markdown marker: #, ```, | or ** anywhere, or a line opening with a
//     bullet ("- ", "* ", "+ ", "> ").
//  5. Everything else is conversation.
//
// Generation uses Extract directly in plain-text mode; GenerateAndParse is for
// callers that need a JSON payload.
//
// # Fallback
//
// When GenerateAndParse runs out of attempts and the last response was
// markdown or conversation, the result is still a success in conversation
// mode with Data set to {"content": raw, "mode": "conversation"}. A successful
// ParseResult therefore does not imply schema conformance; check Mode.
//
// # Usage
//
//	p := extraction.NewProcessor(extraction.WithLogger(logger))
//	res, err := p.GenerateAndParse(ctx, client, messages, extraction.CallOptions{
//	    Schema: schema,
//	})
//	if err != nil {
//	    return err
//	}
//	if res.Mode == extraction.ModeConversation {
//	    // degrade gracefully
//	}
package extraction
