package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/modrelay/internal/errors"
)

// decode maps tool arguments onto T. Arguments of the wrong JSON type come
// back as INVALID_REQUEST naming the tool.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, errors.NewInternal(fmt.Errorf("marshal %s arguments: %w", req.Params.Name, err))
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, errors.NewInvalidRequest(fmt.Sprintf("invalid arguments for %s: %v", req.Params.Name, err))
	}
	return result, nil
}
