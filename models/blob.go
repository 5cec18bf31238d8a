package models

import (
	"bytes"
	"compress/zlib"
	"database/sql/driver"
	"fmt"
	"io"
)

// CompressedText is a string column stored zlib-compressed. Callers only see
// the plain string; an empty value is stored as NULL.
type CompressedText string

func (CompressedText) GormDataType() string {
	return "bytes"
}

func (c CompressedText) Value() (driver.Value, error) {
	if c == "" {
		return nil, nil
	}
	return compress([]byte(c))
}

func (c *CompressedText) Scan(src any) error {
	raw, err := decompressSource(src)
	if err != nil {
		return err
	}
	*c = CompressedText(raw)
	return nil
}

// CompressedBytes is CompressedText for binary payloads such as raw API
// responses.
type CompressedBytes []byte

func (CompressedBytes) GormDataType() string {
	return "bytes"
}

func (c CompressedBytes) Value() (driver.Value, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return compress(c)
}

func (c *CompressedBytes) Scan(src any) error {
	raw, err := decompressSource(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*c = nil
		return nil
	}
	*c = raw
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress column: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress column: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressSource(src any) ([]byte, error) {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, fmt.Errorf("unsupported column type %T", src)
	}
	if len(data) == 0 {
		return nil, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress column: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress column: %w", err)
	}
	return out, nil
}
