// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	formatCBOR = "cbor"
)

func validateOutputFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML, formatCBOR:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use text, json, yaml or cbor)", format)
	}
}

// marshalOutput encodes v in one of the structured formats.
func marshalOutput(format string, v any) ([]byte, error) {
	switch format {
	case formatJSON:
		return json.Marshal(v)

	case formatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case formatCBOR:
		return cbor.Marshal(v)

	default:
		return nil, fmt.Errorf("format %q is not structured", format)
	}
}

// writeOutput writes v to w. CBOR going to a terminal is hex encoded.
func writeOutput(w io.Writer, format string, v any) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	data, err := marshalOutput(format, v)
	if err != nil {
		return err
	}

	if format == formatCBOR && isTerminal(w) {
		_, err = fmt.Fprintln(w, hex.EncodeToString(data))
		return err
	}

	_, err = w.Write(data)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
