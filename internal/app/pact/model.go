package pact

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const (
	MediaTypeJSON      = "application/json"
	MediaTypeText      = "text/plain"
	MediaTypeXML       = "application/xml"
	MediaTypeForm      = "application/x-www-form-urlencoded"
	MediaTypeMultipart = "multipart/form-data"
	MediaTypeBinary    = "application/octet-stream"

	SpecificationVersion = "3.0.0"
)

// Part selects the request or response half of an interaction.
type Part int

const (
	PartRequest Part = iota
	PartResponse
)

func (p Part) String() string {
	if p == PartResponse {
		return "response"
	}
	return "request"
}

type BodyState int

const (
	BodyMissing BodyState = iota
	BodyEmpty
	BodyPresent
)

type Body struct {
	State       BodyState
	Content     []byte
	ContentType string
}

func NewBody(content []byte, contentType string) Body {
	if len(content) == 0 {
		return Body{State: BodyEmpty, ContentType: contentType}
	}
	return Body{State: BodyPresent, Content: content, ContentType: contentType}
}

func (b Body) IsPresent() bool {
	return b.State == BodyPresent
}

// HTTPPart holds what requests and responses have in common.
type HTTPPart struct {
	Headers       map[string][]string
	Body          Body
	MatchingRules MatchingRules
	Generators    Generators
}

// Header returns the values of a header, ignoring the case of the name.
func (p *HTTPPart) Header(name string) ([]string, bool) {
	for key, values := range p.Headers {
		if strings.EqualFold(key, name) {
			return values, true
		}
	}
	return nil, false
}

// SetHeader sets the value at index, padding missing earlier values with "".
// Indexes far past the existing values are rejected.
func (p *HTTPPart) SetHeader(name string, index int, value string) error {
	if p.Headers == nil {
		p.Headers = map[string][]string{}
	}
	for key := range p.Headers {
		if strings.EqualFold(key, name) {
			name = key
			break
		}
	}
	values, err := setIndexed(p.Headers[name], index, value)
	if err != nil {
		return errors.Wrapf(err, "header '%s'", name)
	}
	p.Headers[name] = values
	return nil
}

// ContentType is the declared Content-Type, falling back to the body's own
// content type and finally to content detection.
func (p *HTTPPart) ContentType() string {
	if values, ok := p.Header("Content-Type"); ok && len(values) > 0 && values[0] != "" {
		return values[0]
	}
	if p.Body.ContentType != "" {
		return p.Body.ContentType
	}
	if p.Body.IsPresent() {
		return DetectContentType(p.Body.Content)
	}
	return ""
}

func (p *HTTPPart) clone() HTTPPart {
	return HTTPPart{
		Headers: cloneValues(p.Headers),
		Body: Body{
			State:       p.Body.State,
			Content:     append([]byte(nil), p.Body.Content...),
			ContentType: p.Body.ContentType,
		},
		MatchingRules: p.MatchingRules.Clone(),
		Generators:    p.Generators.Clone(),
	}
}

type Request struct {
	Method string
	Path   string
	Query  map[string][]string
	HTTPPart
}

type Response struct {
	Status int
	HTTPPart
}

type ProviderState struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type Interaction struct {
	Description    string
	ProviderStates []ProviderState
	Request        Request
	Response       Response
}

func NewInteraction(description string) *Interaction {
	return &Interaction{
		Description: description,
		Request:     Request{Method: http.MethodGet, Path: "/"},
		Response:    Response{Status: http.StatusOK},
	}
}

// Part returns the request or response half.
func (i *Interaction) Part(part Part) *HTTPPart {
	if part == PartResponse {
		return &i.Response.HTTPPart
	}
	return &i.Request.HTTPPart
}

// Key identifies an interaction within a pact: description plus provider state names.
func (i *Interaction) Key() string {
	names := make([]string, 0, len(i.ProviderStates))
	for _, state := range i.ProviderStates {
		names = append(names, state.Name)
	}
	return i.Description + "\x00" + strings.Join(names, "\x00")
}

// StateParams merges the parameters of all provider states.
func (i *Interaction) StateParams() map[string]interface{} {
	params := map[string]interface{}{}
	for _, state := range i.ProviderStates {
		for k, v := range state.Params {
			params[k] = v
		}
	}
	return params
}

func (i *Interaction) Clone() *Interaction {
	clone := &Interaction{
		Description: i.Description,
		Request: Request{
			Method:   i.Request.Method,
			Path:     i.Request.Path,
			Query:    cloneValues(i.Request.Query),
			HTTPPart: i.Request.HTTPPart.clone(),
		},
		Response: Response{
			Status:   i.Response.Status,
			HTTPPart: i.Response.HTTPPart.clone(),
		},
	}
	for _, state := range i.ProviderStates {
		params := make(map[string]interface{}, len(state.Params))
		for k, v := range state.Params {
			params[k] = v
		}
		if len(params) == 0 {
			params = nil
		}
		clone.ProviderStates = append(clone.ProviderStates, ProviderState{Name: state.Name, Params: params})
	}
	return clone
}

type Pacticipant struct {
	Name string `json:"name"`
}

type Pact struct {
	Consumer     Pacticipant
	Provider     Pacticipant
	Interactions []*Interaction
	Metadata     map[string]interface{}
}

func New(consumer, provider string) *Pact {
	return &Pact{
		Consumer: Pacticipant{Name: consumer},
		Provider: Pacticipant{Name: provider},
	}
}

func (p *Pact) Clone() *Pact {
	clone := &Pact{Consumer: p.Consumer, Provider: p.Provider}
	for _, interaction := range p.Interactions {
		clone.Interactions = append(clone.Interactions, interaction.Clone())
	}
	if p.Metadata != nil {
		clone.Metadata = map[string]interface{}{}
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Deduplicate collapses interactions that share a description and provider
// states. The last definition wins and takes the position of the first.
func (p *Pact) Deduplicate() {
	positions := map[string]int{}
	var result []*Interaction
	for _, interaction := range p.Interactions {
		key := interaction.Key()
		if pos, ok := positions[key]; ok {
			result[pos] = interaction
			continue
		}
		positions[key] = len(result)
		result = append(result, interaction)
	}
	p.Interactions = result
}

// FileName is the name pact files are written under.
func (p *Pact) FileName() string {
	sanitise := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return sanitise.Replace(p.Consumer.Name) + "-" + sanitise.Replace(p.Provider.Name) + ".json"
}

// MediaType strips parameters from a Content-Type value.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType
}

func IsJSON(contentType string) bool {
	mediaType := MediaType(contentType)
	return mediaType == MediaTypeJSON || strings.HasSuffix(mediaType, "+json")
}

func IsText(contentType string) bool {
	mediaType := MediaType(contentType)
	return strings.HasPrefix(mediaType, "text/") ||
		mediaType == MediaTypeXML ||
		strings.HasSuffix(mediaType, "+xml") ||
		mediaType == MediaTypeForm ||
		IsJSON(mediaType)
}

// DetectContentType guesses the content type of a body without a Content-Type header.
func DetectContentType(content []byte) string {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return MediaTypeJSON
	}
	if bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return MediaTypeXML
	}
	return http.DetectContentType(content)
}

// maxIndexGap bounds how far past the existing values an index may reach.
const maxIndexGap = 64

func setIndexed(values []string, index int, value string) ([]string, error) {
	if index < 0 {
		index = 0
	}
	if index > len(values)+maxIndexGap {
		return values, errors.Errorf("index %d is more than %d past the %d existing values", index, maxIndexGap, len(values))
	}
	for len(values) <= index {
		values = append(values, "")
	}
	values[index] = value
	return values, nil
}

func cloneValues(values map[string][]string) map[string][]string {
	if values == nil {
		return nil
	}
	clone := make(map[string][]string, len(values))
	for k, v := range values {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}

// SortedKeys returns map keys in a stable order.
func SortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
