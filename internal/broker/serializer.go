package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/taskworker/internal/domain"
)

// ErrUnsupportedSerializer is returned for any format other than json
var ErrUnsupportedSerializer = errors.New("unsupported serializer")

// ContentTypeJSON is the only accepted content type
const ContentTypeJSON = "application/json"

// Serializer encodes invocations for the wire
type Serializer interface {
	Name() string
	ContentType() string
	Encode(inv *domain.Invocation) ([]byte, error)
	Decode(contentType string, body []byte) (*domain.Invocation, error)
}

// NewSerializer returns the serializer for format; an empty format means json
func NewSerializer(format string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return jsonSerializer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSerializer, format)
	}
}

type jsonSerializer struct{}

func (jsonSerializer) Name() string        { return "json" }
func (jsonSerializer) ContentType() string { return ContentTypeJSON }

func (jsonSerializer) Encode(inv *domain.Invocation) ([]byte, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invocation: %w", err)
	}
	return body, nil
}

func (jsonSerializer) Decode(contentType string, body []byte) (*domain.Invocation, error) {
	if contentType != "" && !strings.HasPrefix(contentType, ContentTypeJSON) {
		return nil, fmt.Errorf("%w: content type %q", ErrUnsupportedSerializer, contentType)
	}

	var inv domain.Invocation
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if inv.ID == "" || inv.Task == "" {
		return nil, fmt.Errorf("%w: id and task are required", domain.ErrInvalidPayload)
	}
	if len(inv.Args) == 0 || string(inv.Args) == "null" {
		inv.Args = json.RawMessage("[]")
	}
	return &inv, nil
}
