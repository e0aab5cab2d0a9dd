// Package pactffi is the handle based interface used by pact consumer
// libraries: build pacts, serve them from mock servers, write pact files.
// Every function reports failure in band and never lets a panic escape.
package pactffi

import (
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type (
	PactHandle        = pact.PactHandle
	InteractionHandle = pact.InteractionHandle
	Part              = pact.Part
)

const (
	PartRequest  = pact.PartRequest
	PartResponse = pact.PartResponse
)

var registry = pact.DefaultRegistry

func NewPact(consumer, provider string) (h PactHandle) {
	defer recoverTo(&h, PactHandle{}, "NewPact")
	return registry.NewPact(consumer, provider)
}

// FreePact releases a pact that no mock server is serving.
func FreePact(h PactHandle) (freed bool) {
	defer recoverTo(&freed, false, "FreePact")
	if err := registry.FreePact(h); err != nil {
		log.WithError(err).Warnf("unable to free pact %d", h.Pact)
		return false
	}
	return true
}

// NewInteraction appends an interaction to the pact. The zero handle is
// returned when the pact handle is invalid.
func NewInteraction(h PactHandle, description string) (i InteractionHandle) {
	defer recoverTo(&i, InteractionHandle{}, "NewInteraction")
	i, err := registry.NewInteraction(h, description)
	if err != nil {
		log.WithError(err).Warnf("unable to add interaction '%s' to pact %d", description, h.Pact)
		return InteractionHandle{}
	}
	return i
}

func update(op string, h InteractionHandle, fn func(*pact.Interaction) error) bool {
	err := registry.UpdateInteraction(h, fn)
	if err != nil {
		log.WithError(err).Warnf("%s failed for interaction %d of pact %d", op, h.Interaction, h.Pact)
		return false
	}
	return true
}

func UponReceiving(h InteractionHandle, description string) (done bool) {
	defer recoverTo(&done, false, "UponReceiving")
	return update("UponReceiving", h, func(i *pact.Interaction) error {
		i.UponReceiving(description)
		return nil
	})
}

func Given(h InteractionHandle, description string) (done bool) {
	defer recoverTo(&done, false, "Given")
	return update("Given", h, func(i *pact.Interaction) error {
		i.Given(description)
		return nil
	})
}

// GivenWithParam sets a parameter on the provider state, adding the state
// when needed. JSON values keep their type, anything else is a string.
func GivenWithParam(h InteractionHandle, description, name, value string) (done bool) {
	defer recoverTo(&done, false, "GivenWithParam")
	return update("GivenWithParam", h, func(i *pact.Interaction) error {
		i.GivenWithParam(description, name, value)
		return nil
	})
}

func WithRequest(h InteractionHandle, method, path string) (done bool) {
	defer recoverTo(&done, false, "WithRequest")
	return update("WithRequest", h, func(i *pact.Interaction) error {
		i.WithRequest(method, path)
		return nil
	})
}

func WithHeader(h InteractionHandle, part Part, name string, index int, value string) (done bool) {
	defer recoverTo(&done, false, "WithHeader")
	return update("WithHeader", h, func(i *pact.Interaction) error {
		return i.WithHeader(part, name, index, value)
	})
}

func WithQueryParameter(h InteractionHandle, name string, index int, value string) (done bool) {
	defer recoverTo(&done, false, "WithQueryParameter")
	return update("WithQueryParameter", h, func(i *pact.Interaction) error {
		return i.WithQueryParameter(name, index, value)
	})
}

func WithBody(h InteractionHandle, part Part, contentType, body string) (done bool) {
	defer recoverTo(&done, false, "WithBody")
	return update("WithBody", h, func(i *pact.Interaction) error {
		i.WithBody(part, contentType, body)
		return nil
	})
}

func WithBinaryFile(h InteractionHandle, part Part, contentType string, body []byte) (done bool) {
	defer recoverTo(&done, false, "WithBinaryFile")
	return update("WithBinaryFile", h, func(i *pact.Interaction) error {
		i.WithBinaryFile(part, contentType, body)
		return nil
	})
}

// WithMultipartFile uses the content of filePath as the part partName of a
// multipart/form-data body. Ok holds nothing useful; Failed explains the failure.
func WithMultipartFile(h InteractionHandle, part Part, contentType, filePath, partName string) (result StringResult) {
	defer recoverResult(&result, "WithMultipartFile")
	err := registry.UpdateInteraction(h, func(i *pact.Interaction) error {
		return i.WithMultipartFile(part, contentType, filePath, partName)
	})
	if err != nil {
		if errors.Cause(err) == pact.ErrInvalidHandle {
			err = errors.Errorf("interaction handle %d of pact %d is not valid", h.Interaction, h.Pact)
		}
		log.WithError(err).Warnf("unable to add multipart file '%s'", filePath)
		return failedResult(err)
	}
	return okResult("")
}

func ResponseStatus(h InteractionHandle, status uint16) (done bool) {
	defer recoverTo(&done, false, "ResponseStatus")
	return update("ResponseStatus", h, func(i *pact.Interaction) error {
		i.ResponseStatus(int(status))
		return nil
	})
}

// PactJSON renders the pact as it would be written, for debugging.
func PactJSON(h PactHandle) (s *String) {
	defer recoverTo(&s, nil, "PactJSON")
	p, err := registry.Snapshot(h)
	if err != nil {
		return nil
	}
	p.Deduplicate()
	data, err := pact.Marshal(p)
	if err != nil {
		log.WithError(err).Error("unable to render pact")
		return nil
	}
	return newString(string(data))
}
