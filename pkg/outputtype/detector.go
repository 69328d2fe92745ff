// Package outputtype classifies captured session logs.
package outputtype

import (
	"bytes"
	"io"
	"os"
)

// OutputType represents the detected type of a log
type OutputType string

const (
	OutputTypeUnknown OutputType = "unknown"
	OutputTypeEmpty   OutputType = "empty"
	OutputTypeBinary  OutputType = "binary"
	OutputTypeText    OutputType = "text"
	OutputTypeANSI    OutputType = "ansi"
)

// sniffSize is how much of a log gets analyzed.
const sniffSize = 8192

// Detect classifies the first sniffSize bytes of data. Binary wins over
// everything else.
func Detect(data []byte) OutputType {
	if len(data) > sniffSize {
		data = data[:sniffSize]
	}
	switch {
	case len(data) == 0:
		return OutputTypeEmpty
	case isBinaryData(data):
		return OutputTypeBinary
	case containsSGR(data):
		return OutputTypeANSI
	default:
		return OutputTypeText
	}
}

// DetectFile classifies the first bytes of the file at path.
func DetectFile(path string) (OutputType, error) {
	f, err := os.Open(path)
	if err != nil {
		return OutputTypeUnknown, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return OutputTypeUnknown, err
	}
	return Detect(buf[:n]), nil
}

// isBinaryData reports null bytes or more than 30% control characters
func isBinaryData(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}

	nonPrintableCount := 0
	for _, b := range chunk {
		if b == 0 {
			return true
		}
		// ESC is left out since it starts ANSI sequences
		if b < 32 && b != '\t' && b != '\n' && b != '\r' && b != 0x1B {
			nonPrintableCount++
		} else if b == 127 {
			nonPrintableCount++
		}
	}

	threshold := float64(len(chunk)) * 0.3
	return float64(nonPrintableCount) > threshold
}

// containsSGR checks for SGR (Select Graphic Rendition) escape sequences like \x1b[<n>m
func containsSGR(chunk []byte) bool {
	csi := []byte("\x1b[")
	idx := bytes.Index(chunk, csi)
	for idx != -1 && idx+2 < len(chunk) {
		j := idx + 2
		hasContent := false
		for j < len(chunk) && (chunk[j] >= '0' && chunk[j] <= '9' || chunk[j] == ';') {
			hasContent = true
			j++
		}
		if hasContent && j < len(chunk) && chunk[j] == 'm' {
			return true
		}
		next := bytes.Index(chunk[idx+2:], csi)
		if next == -1 {
			break
		}
		idx = idx + 2 + next
	}
	return false
}
