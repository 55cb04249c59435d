package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/middleware"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/pool"
)

func (h *Handler) KeyStats(c *fiber.Ctx) error {
	return c.JSON(h.keys.Stats())
}

func (h *Handler) AddKey(c *fiber.Ctx) error {
	const op = "Handler.AddKey"

	var req models.KeyRequest
	if err := parseBody(c, op, &req); err != nil {
		return err
	}
	if err := h.validator.ValidateAPIKey(req.APIKey); err != nil {
		return err
	}

	id, err := h.keys.AddKey(req.APIKey)
	if err != nil {
		return err
	}
	middleware.GetLogger(c).WithField("key_id", id).Info("API key added")

	return c.JSON(fiber.Map{
		"success": true,
		"keyId":   id,
		"message": "API key added successfully",
	})
}

func (h *Handler) RemoveKey(c *fiber.Ctx) error {
	const op = "Handler.RemoveKey"

	var req models.KeyRequest
	if err := parseBody(c, op, &req); err != nil {
		return err
	}
	if blank(req.APIKey) && blank(req.KeyID) {
		return errors.InvalidInput(op, nil, "API key or key ID is required")
	}

	var removed bool
	if req.KeyID != "" {
		removed = h.keys.Remove(req.KeyID)
	} else {
		removed = h.keys.RemoveKey(req.APIKey)
	}
	if !removed {
		return errors.NotFound(op, nil, "API key not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "API key removed successfully",
	})
}

func (h *Handler) ResetKeys(c *fiber.Ctx) error {
	h.keys.ResetCooldowns()
	return c.JSON(fiber.Map{
		"success": true,
		"message": "All API key cooldowns reset",
	})
}

func (h *Handler) ProxyStats(c *fiber.Ctx) error {
	return c.JSON(h.proxies.EgressStats())
}

func (h *Handler) AddProxy(c *fiber.Ctx) error {
	const op = "Handler.AddProxy"

	var req models.ProxyRequest
	if err := parseBody(c, op, &req); err != nil {
		return err
	}

	id, err := h.proxies.AddProxy(pool.Proxy{
		URL:      req.URL,
		Scheme:   pool.Scheme(req.Type),
		Username: req.Username,
		Password: req.Password,
		Country:  req.Country,
		Speed:    req.Speed,
	})
	if err != nil {
		return err
	}
	middleware.GetLogger(c).WithField("proxy_id", id).Info("Proxy added")

	return c.JSON(fiber.Map{
		"success": true,
		"proxyId": id,
		"message": "Proxy added successfully",
	})
}

func (h *Handler) RemoveProxy(c *fiber.Ctx) error {
	const op = "Handler.RemoveProxy"

	id, err := proxyID(c, op)
	if err != nil {
		return err
	}
	if !h.proxies.Remove(id) {
		return errors.NotFound(op, nil, "Proxy not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Proxy removed successfully",
	})
}

func (h *Handler) ResetProxies(c *fiber.Ctx) error {
	h.proxies.ResetCooldowns()
	return c.JSON(fiber.Map{
		"success": true,
		"message": "All proxy cooldowns reset",
	})
}

func (h *Handler) TestProxy(c *fiber.Ctx) error {
	const op = "Handler.TestProxy"

	id, err := proxyID(c, op)
	if err != nil {
		return err
	}

	result, err := h.proxies.Test(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *Handler) TestAllProxies(c *fiber.Ctx) error {
	results := h.proxies.TestAll(c.UserContext())
	return c.JSON(fiber.Map{
		"success": true,
		"results": results,
	})
}

func proxyID(c *fiber.Ctx, op string) (string, error) {
	var req models.ProxyRequest
	if err := parseBody(c, op, &req); err != nil {
		return "", err
	}
	if blank(req.ProxyID) {
		return "", errors.InvalidInput(op, nil, "Proxy ID is required")
	}
	return req.ProxyID, nil
}
