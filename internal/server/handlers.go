package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/high-horse/fingerprint-server/internal/afis"
	"github.com/high-horse/fingerprint-server/internal/fingerprint"
	"github.com/high-horse/fingerprint-server/internal/logging"
)

type handlers struct {
	registry       *fingerprint.Registry
	matcher        fingerprint.TemplateMatcher
	logger         *zap.Logger
	captureTimeout time.Duration
}

func (h *handlers) opLogger(c *fiber.Ctx, op string) *zap.Logger {
	return logging.WithOperation(h.logger, op, c.GetRespHeader(fiber.HeaderXRequestID))
}

func (h *handlers) devices(c *fiber.Ctx) error {
	profiles := h.registry.Profiles()
	out := make([]DeviceInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, DeviceInfo{
			ID:         p.ID,
			Name:       p.Name,
			Family:     p.Family,
			Policy:     p.Policy.String(),
			Threshold:  p.Policy.Threshold(),
			MinQuality: p.Capture.MinQuality,
		})
	}
	return ok(c, "", fiber.Map{"devices": out})
}

// initialize opens the session for modelId and brings the reader up.
func (h *handlers) initialize(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Query("modelId"))
	if err != nil {
		return fingerprint.NewError(fingerprint.CodeUnsupportedDevice, "Fingerprint device not supported", err)
	}

	sess, err := h.registry.Initialize(c.UserContext(), id)
	if err != nil {
		return err
	}

	h.opLogger(c, "init").Info("reader connected", zap.String("device", sess.Profile().Name))
	return ok(c, "CONNECTED", fiber.Map{"device": sess.Profile().Name})
}

func (h *handlers) capture(c *fiber.Ctx) error {
	sess, err := h.registry.Active()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.captureTimeout)
	defer cancel()

	tpl, err := sess.Capture(ctx)
	if err != nil {
		return err
	}
	h.opLogger(c, "capture").Info("fingerprint captured", zap.String("device", tpl.Device))
	return ok(c, "", fiber.Map{"fingerprint": encodeTemplate(tpl.Data)})
}

func (h *handlers) startCapture(c *fiber.Ctx) error {
	sess, err := h.registry.Active()
	if err != nil {
		return err
	}
	if err := sess.StartCapture(); err != nil {
		return err
	}
	return ok(c, "CAPTURING", captureStatus(sess))
}

func (h *handlers) captureStatus(c *fiber.Ctx) error {
	sess, err := h.registry.Active()
	if err != nil {
		return err
	}
	return ok(c, "", captureStatus(sess))
}

func (h *handlers) takeCapture(c *fiber.Ctx) error {
	sess, err := h.registry.Active()
	if err != nil {
		return err
	}
	tpl, err := sess.TakeCapture()
	if err != nil {
		return err
	}
	return ok(c, "", fiber.Map{"fingerprint": encodeTemplate(tpl.Data)})
}

func (h *handlers) stopCapture(c *fiber.Ctx) error {
	sess, err := h.registry.Active()
	if err != nil {
		return err
	}
	if err := sess.StopCapture(); err != nil {
		return err
	}
	return ok(c, "STOPPED", captureStatus(sess))
}

func (h *handlers) match(c *fiber.Ctx) error {
	var req MatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	captured, err := decodeTemplate(req.DigitalCaptured)
	if err != nil {
		return err
	}
	stored, err := decodeTemplate(req.DigitalToCompare)
	if err != nil {
		return err
	}

	sess, err := h.registry.Active()
	if err != nil {
		return err
	}
	res, err := sess.Match(c.UserContext(), captured, stored)
	if err != nil {
		return err
	}

	h.opLogger(c, "match").Info("fingerprints compared",
		zap.Bool("matched", res.Matched),
		zap.Float64("score", res.Score),
	)
	return ok(c, "", res)
}

// enroll turns an uploaded image into a template comparable with captures.
func (h *handlers) enroll(c *fiber.Ctx) error {
	var req EnrollRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	raw, err := decodeImagePayload(req.Image)
	if err != nil {
		return err
	}
	img, err := afis.DecodeImage(raw)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	data, err := h.matcher.Encode(img)
	if err != nil {
		return fingerprint.NewError(fingerprint.CodeCaptureFailed, "No fingerprint found in image", err)
	}
	return ok(c, "", fiber.Map{"fingerprint": encodeTemplate(data)})
}

func (h *handlers) status(c *fiber.Ctx) error {
	sess, err := h.registry.Active()
	if err != nil {
		return ok(c, "", fiber.Map{"state": fingerprint.StateUninitialized})
	}
	return ok(c, "", sess.Status())
}

func (h *handlers) shutdown(c *fiber.Ctx) error {
	if err := h.registry.Shutdown(c.UserContext()); err != nil {
		return err
	}
	h.opLogger(c, "shutdown").Info("reader released")
	return ok(c, "SHUTDOWN", nil)
}

func captureStatus(s *fingerprint.Session) CaptureStatus {
	return CaptureStatus{State: s.State().String(), Captured: s.HasCapture()}
}

func encodeTemplate(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeTemplate(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fingerprint.NewError(fingerprint.CodeMatchFailed, "Fingerprint match failed",
			fmt.Errorf("%w: %v", fingerprint.ErrUndecodable, err))
	}
	return data, nil
}
