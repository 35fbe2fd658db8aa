package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nstogner/chatd/pkg/domain"
)

//go:embed request.schema.json
var requestSchemaJSON string

var requestSchema = jsonschema.MustCompileString("mem://chatd/request.schema.json", requestSchemaJSON)

// decodeTurnRequest validates data against the request schema and decodes it.
func decodeTurnRequest(data []byte) (domain.TurnRequest, error) {
	var req domain.TurnRequest

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return req, fmt.Errorf("%w: malformed JSON: %w", domain.ErrValidation, err)
	}
	if err := requestSchema.Validate(doc); err != nil {
		return req, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return req, nil
}

func readTurnRequest(r io.Reader) (domain.TurnRequest, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxRequestBytes+1))
	if err != nil {
		return domain.TurnRequest{}, fmt.Errorf("%w: reading body: %w", domain.ErrValidation, err)
	}
	if len(data) > maxRequestBytes {
		return domain.TurnRequest{}, fmt.Errorf("%w: request body too large", domain.ErrValidation)
	}
	return decodeTurnRequest(data)
}
