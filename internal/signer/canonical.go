// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Canonicalize serializes fields into the byte form that gets signed.
// encoding/json writes map keys in sorted order at every depth, so two maps
// holding the same entries always produce identical bytes. Timestamps are
// normalized to RFC3339 in UTC and string slices are sorted.
func Canonicalize(fields map[string]any) ([]byte, error) {
	normalized, err := normalize(fields)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("failed to encode canonical payload: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normalize(v any) (any, error) {
	switch value := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64:
		return value, nil
	case float64:
		return value, nil
	case time.Time:
		return value.UTC().Format(time.RFC3339), nil
	case *time.Time:
		if value == nil {
			return nil, nil
		}
		return value.UTC().Format(time.RFC3339), nil
	case []string:
		out := append([]string(nil), value...)
		sort.Strings(out)
		return out, nil
	case map[string]string:
		return value, nil
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			n, err := normalize(item)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported canonical value type %T", v)
}
