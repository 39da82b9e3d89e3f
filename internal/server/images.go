package server

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"
)

var dataURLTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/x-portable-graymap",
	"image/x-portable-anymap",
}

// decodeImagePayload returns the raw bytes of a base64 image, optionally
// wrapped in a data URL.
func decodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "image is required")
	}
	if strings.HasPrefix(payload, "data:") {
		parts := strings.SplitN(payload, ",", 2)
		if len(parts) != 2 {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid base64 image format")
		}
		meta := parts[0]
		payload = parts[1]

		supported := false
		for _, t := range dataURLTypes {
			if strings.Contains(meta, t) {
				supported = true
				break
			}
		}
		if !supported {
			return nil, fiber.NewError(fiber.StatusUnsupportedMediaType, "Unsupported image type")
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Failed to decode base64: "+err.Error())
	}
	return decoded, nil
}
