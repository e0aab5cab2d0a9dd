package pact

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrParse is the cause of every error returned while loading a pact document.
var ErrParse = errors.New("unable to parse pact")

type pactJSON struct {
	Consumer     Pacticipant            `json:"consumer"`
	Provider     Pacticipant            `json:"provider"`
	Interactions []interactionJSON      `json:"interactions"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type interactionJSON struct {
	Description    string          `json:"description"`
	ProviderState  string          `json:"providerState,omitempty"`
	ProviderStates []ProviderState `json:"providerStates,omitempty"`
	Request        requestJSON     `json:"request"`
	Response       responseJSON    `json:"response"`
}

type requestJSON struct {
	Method        string          `json:"method"`
	Path          string          `json:"path"`
	Query         json.RawMessage `json:"query,omitempty"`
	Headers       json.RawMessage `json:"headers,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	MatchingRules json.RawMessage `json:"matchingRules,omitempty"`
	Generators    json.RawMessage `json:"generators,omitempty"`
}

type responseJSON struct {
	Status        int             `json:"status"`
	Headers       json.RawMessage `json:"headers,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	MatchingRules json.RawMessage `json:"matchingRules,omitempty"`
	Generators    json.RawMessage `json:"generators,omitempty"`
}

// Load parses and validates a pact document (specification v2 or v3).
func Load(data []byte) (*Pact, error) {
	if !json.Valid(data) {
		return nil, errors.Wrap(ErrParse, "pact is not valid JSON")
	}
	if err := Validate(data); err != nil {
		return nil, errors.Wrapf(ErrParse, "pact does not match the pact schema: %v", err)
	}

	var doc pactJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrParse, "unable to decode pact: %v", err)
	}

	p := &Pact{Consumer: doc.Consumer, Provider: doc.Provider, Metadata: doc.Metadata}
	for i, raw := range doc.Interactions {
		interaction, err := decodeInteraction(raw)
		if err != nil {
			return nil, errors.Wrapf(ErrParse, "interaction %d ('%s'): %v", i, raw.Description, err)
		}
		p.Interactions = append(p.Interactions, interaction)
	}
	return p, nil
}

func decodeInteraction(raw interactionJSON) (*Interaction, error) {
	interaction := NewInteraction(raw.Description)
	interaction.ProviderStates = raw.ProviderStates
	if raw.ProviderState != "" && len(raw.ProviderStates) == 0 {
		interaction.ProviderStates = []ProviderState{{Name: raw.ProviderState}}
	}

	req := &interaction.Request
	if raw.Request.Method != "" {
		req.Method = strings.ToUpper(raw.Request.Method)
	}
	if raw.Request.Path != "" {
		req.Path = raw.Request.Path
	}

	query, err := decodeQuery(raw.Request.Query)
	if err != nil {
		return nil, err
	}
	req.Query = query

	if err := decodePart(&req.HTTPPart, raw.Request.Headers, raw.Request.Body, raw.Request.MatchingRules, raw.Request.Generators); err != nil {
		return nil, errors.Wrap(err, "request")
	}

	res := &interaction.Response
	if raw.Response.Status != 0 {
		res.Status = raw.Response.Status
	}
	if err := decodePart(&res.HTTPPart, raw.Response.Headers, raw.Response.Body, raw.Response.MatchingRules, raw.Response.Generators); err != nil {
		return nil, errors.Wrap(err, "response")
	}
	return interaction, nil
}

func decodePart(part *HTTPPart, headers, body, rules, generators json.RawMessage) error {
	values, err := decodeValues(headers)
	if err != nil {
		return errors.Wrap(err, "invalid headers")
	}
	part.Headers = values

	if len(rules) > 0 && string(rules) != "null" {
		if err := json.Unmarshal(rules, &part.MatchingRules); err != nil {
			return err
		}
	}
	if len(generators) > 0 && string(generators) != "null" {
		if err := json.Unmarshal(generators, &part.Generators); err != nil {
			return err
		}
	}

	part.Body, err = decodeBody(body, part.ContentType())
	return err
}

func decodeBody(raw json.RawMessage, contentType string) (Body, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Body{State: BodyMissing}, nil
	}

	var text string
	isString := raw[0] == '"'
	if isString {
		if err := json.Unmarshal(raw, &text); err != nil {
			return Body{}, errors.Wrap(err, "invalid body")
		}
		if text == "" {
			return Body{State: BodyEmpty, ContentType: contentType}, nil
		}
	}

	switch {
	case contentType == "" && isString:
		return NewBody([]byte(text), MediaTypeText), nil
	case contentType == "":
		return NewBody(compact(raw), MediaTypeJSON), nil
	case IsJSON(contentType):
		return NewBody(compact(raw), contentType), nil
	case isString && IsText(contentType):
		return NewBody([]byte(text), contentType), nil
	case isString:
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return NewBody([]byte(text), contentType), nil
		}
		return NewBody(decoded, contentType), nil
	}
	return NewBody(compact(raw), contentType), nil
}

func compact(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// decodeValues reads header or query maps whose values are a string or a list of strings.
func decodeValues(raw json.RawMessage) (map[string][]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	values := make(map[string][]string, len(entries))
	for name, value := range entries {
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			values[name] = list
			continue
		}
		var single string
		if err := json.Unmarshal(value, &single); err != nil {
			return nil, errors.Errorf("value of '%s' must be a string or a list of strings", name)
		}
		values[name] = []string{single}
	}
	return values, nil
}

func decodeQuery(raw json.RawMessage) (map[string][]string, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var query string
		if err := json.Unmarshal(raw, &query); err != nil {
			return nil, err
		}
		if query == "" {
			return nil, nil
		}
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, errors.Wrap(err, "invalid query string")
		}
		return values, nil
	}
	values, err := decodeValues(raw)
	return values, errors.Wrap(err, "invalid query")
}

// Marshal writes the pact as an indented v3 document. The output is deterministic.
func Marshal(p *Pact) ([]byte, error) {
	doc := pactJSON{
		Consumer:     p.Consumer,
		Provider:     p.Provider,
		Interactions: []interactionJSON{},
		Metadata:     map[string]interface{}{},
	}
	for k, v := range p.Metadata {
		doc.Metadata[k] = v
	}
	doc.Metadata["pactSpecification"] = map[string]string{"version": SpecificationVersion}

	for _, interaction := range p.Interactions {
		encoded, err := encodeInteraction(interaction)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to encode interaction '%s'", interaction.Description)
		}
		doc.Interactions = append(doc.Interactions, encoded)
	}

	return json.MarshalIndent(doc, "", "  ")
}

func encodeInteraction(i *Interaction) (interactionJSON, error) {
	out := interactionJSON{
		Description:    i.Description,
		ProviderStates: i.ProviderStates,
		Request: requestJSON{
			Method: i.Request.Method,
			Path:   i.Request.Path,
		},
		Response: responseJSON{
			Status: i.Response.Status,
		},
	}
	if out.Response.Status == 0 {
		out.Response.Status = http.StatusOK
	}

	var err error
	if len(i.Request.Query) > 0 {
		if out.Request.Query, err = json.Marshal(i.Request.Query); err != nil {
			return out, err
		}
	}
	if out.Request.Headers, out.Request.Body, out.Request.MatchingRules, out.Request.Generators, err = encodePart(&i.Request.HTTPPart); err != nil {
		return out, err
	}
	if out.Response.Headers, out.Response.Body, out.Response.MatchingRules, out.Response.Generators, err = encodePart(&i.Response.HTTPPart); err != nil {
		return out, err
	}
	return out, nil
}

func encodePart(part *HTTPPart) (headers, body, rules, generators json.RawMessage, err error) {
	if len(part.Headers) > 0 {
		if headers, err = json.Marshal(part.Headers); err != nil {
			return
		}
	}
	if body, err = encodeBody(part); err != nil {
		return
	}
	if !part.MatchingRules.IsEmpty() {
		if rules, err = json.Marshal(part.MatchingRules); err != nil {
			return
		}
	}
	if !part.Generators.IsEmpty() {
		generators, err = json.Marshal(part.Generators)
	}
	return
}

func encodeBody(part *HTTPPart) (json.RawMessage, error) {
	switch part.Body.State {
	case BodyMissing:
		return nil, nil
	case BodyEmpty:
		return json.RawMessage(`""`), nil
	}

	contentType := part.ContentType()
	switch {
	case IsJSON(contentType) && json.Valid(part.Body.Content):
		return compact(part.Body.Content), nil
	case IsText(contentType):
		return json.Marshal(string(part.Body.Content))
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(part.Body.Content))
}
