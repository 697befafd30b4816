package synthesis

import (
	"encoding/json"
	"strings"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// contract is the wire form of a synthesis reply. List fields stay raw so that a bare
// string can be coerced to a one-element list.
type contract struct {
	Recommendation string          `json:"recommendation"`
	Reasoning      *string         `json:"reasoning"`
	Risks          json.RawMessage `json:"risks"`
	RiskFactors    json.RawMessage `json:"risk_factors"`
	Alternatives   json.RawMessage `json:"alternatives"`
	Confidence     float64         `json:"confidence"`
}

// StripFences removes surrounding whitespace and markdown code fences (```json or ```)
// from a completion. Text outside the outermost fences is dropped.
func StripFences(text string) string {
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		// drop the info string (e.g. "json") on the opening fence line
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
			body = body[nl+1:]
		} else {
			body = strings.TrimPrefix(body, "json")
		}
		if end := strings.LastIndex(body, "```"); end >= 0 {
			body = body[:end]
		}
		text = strings.TrimSpace(body)
	}

	return text
}

// Parse turns a completion into a Synthesis. The reply must be a JSON object matching the
// contract, optionally wrapped in code fences or surrounded by prose. Every failure wraps
// model.ErrSynthesisParse.
func Parse(text string) (*model.Synthesis, error) {
	body := StripFences(text)
	if body == "" {
		return nil, goerr.Wrap(model.ErrSynthesisParse, "empty synthesis response")
	}

	if !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "[") {
		start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
		if start < 0 || end <= start {
			return nil, goerr.Wrap(model.ErrSynthesisParse, "no JSON object in synthesis response", goerr.V("text", text))
		}
		body = body[start : end+1]
	}

	var instance any
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return nil, goerr.Wrap(errJoin(err), "synthesis response is not valid JSON", goerr.V("text", text))
	}
	if err := resolvedContract.Validate(instance); err != nil {
		return nil, goerr.Wrap(errJoin(err), "synthesis response violates the contract", goerr.V("text", text))
	}

	var c contract
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, goerr.Wrap(errJoin(err), "failed to decode synthesis response", goerr.V("text", text))
	}

	risks, err := coerceList(c.Risks)
	if err != nil {
		return nil, goerr.Wrap(errJoin(err), "invalid risks", goerr.V("text", text))
	}
	if len(risks) == 0 {
		if risks, err = coerceList(c.RiskFactors); err != nil {
			return nil, goerr.Wrap(errJoin(err), "invalid risk_factors", goerr.V("text", text))
		}
	}
	alternatives, err := coerceList(c.Alternatives)
	if err != nil {
		return nil, goerr.Wrap(errJoin(err), "invalid alternatives", goerr.V("text", text))
	}

	synthesis := &model.Synthesis{
		Recommendation: strings.TrimSpace(c.Recommendation),
		RiskFactors:    risks,
		Alternatives:   alternatives,
		Confidence:     c.Confidence,
	}
	if c.Reasoning != nil {
		synthesis.Reasoning = *c.Reasoning
	}

	if err := synthesis.Validate(); err != nil {
		return nil, goerr.Wrap(errJoin(err), "invalid synthesis", goerr.V("text", text))
	}
	return synthesis, nil
}

// coerceList reads a JSON string, list of strings or null. A bare non-empty string becomes a
// one-element list; absent and null become an empty list.
func coerceList(raw json.RawMessage) ([]string, error) {
	list := []string{}
	if len(raw) == 0 || string(raw) == "null" {
		return list, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
		return list, nil
	}

	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, goerr.Wrap(err, "expected string or list of strings")
	}
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list, nil
}
