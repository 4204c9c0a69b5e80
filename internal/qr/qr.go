// Package qr renders pairing payloads as PNG data URLs that a browser can
// show directly in an <img> tag.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	dataURLPrefix = "data:image/png;base64,"
	defaultSize   = 256
)

var ErrEmptyPayload = errors.New("empty pairing payload")

func Render(payload string) (string, error) {
	return RenderSize(payload, defaultSize)
}

func RenderSize(payload string, size int) (string, error) {
	if payload == "" {
		return "", ErrEmptyPayload
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
