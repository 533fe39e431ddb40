// Package probe dumps a value as indented JSON into the logs, for looking
// inside a running service.
package probe

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/kart-io/leaf-server/pkg/infra/logger"
)

const indent = "    "

var api = sonic.Config{
	SortMapKeys:      true,
	EscapeHTML:       true,
	CompactMarshaler: true,
}.Froze()

var protoJSON = protojson.MarshalOptions{
	Multiline: true,
	Indent:    indent,
}

// Dump renders v as indented JSON with sorted keys. Proto messages use
// their protobuf JSON mapping. A nil value renders as "null".
func Dump(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	if msg, ok := v.(proto.Message); ok {
		// protojson output is not stable; normalise it through a map
		raw, err := protoJSON.Marshal(msg)
		if err != nil {
			return "", fmt.Errorf("marshal proto %T: %w", msg, err)
		}
		var generic interface{}
		if err := api.Unmarshal(raw, &generic); err != nil {
			return "", fmt.Errorf("normalise proto %T: %w", msg, err)
		}
		v = generic
	}

	out, err := api.MarshalIndent(v, "", indent)
	if err != nil {
		return "", fmt.Errorf("marshal %T: %w", v, err)
	}
	return string(out), nil
}

// Probe logs "<name>: <json>" at info level on the context logger.
func Probe(ctx context.Context, name string, v interface{}) {
	out, err := Dump(v)
	if err != nil {
		logger.LogError(ctx, "probe failed", err, "name", name)
		return
	}
	logger.LogInfo(ctx, fmt.Sprintf("%s: %s", name, out))
}
