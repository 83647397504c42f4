package order

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

const (
	msgOrderNotFound = "Order not found"
	msgNotReady      = "Care plan not ready"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the order endpoints on api. createMW wraps only the
// create endpoint, which is the one that calls the generator.
func (h *Handler) RegisterRoutes(api *echo.Group, createMW ...echo.MiddlewareFunc) {
	api.POST("/orders/", h.CreateOrder, createMW...)
	api.GET("/orders/search/", h.SearchOrders)
	api.GET("/orders/:id/", h.GetOrder)
	api.GET("/orders/:id/download/", h.DownloadCarePlan)
}

type createOrderResponse struct {
	OrderID int64  `json:"order_id"`
	Status  Status `json:"status"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var in CreateOrderInput
	if err := c.Bind(&in); err != nil {
		// Errors raised while reading the body, such as 413 from the body
		// limit, keep their own status.
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code != http.StatusBadRequest {
			return err
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}

	o, err := h.svc.CreateOrder(c.Request().Context(), in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":          verr.Error(),
				"missing_fields": lo.Ternary(verr.Missing == nil, []string{}, verr.Missing),
				"invalid_fields": lo.Ternary(verr.Invalid == nil, []string{}, verr.Invalid),
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create order").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, createOrderResponse{OrderID: o.ID, Status: o.Status})
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": msgOrderNotFound})
	}
	d, err := h.svc.GetOrderDetail(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": msgOrderNotFound})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load order").SetInternal(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SearchOrders(c echo.Context) error {
	items, err := h.svc.SearchOrders(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to search orders").SetInternal(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DownloadCarePlan(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.String(http.StatusNotFound, msgOrderNotFound)
	}
	exp, err := h.svc.ExportCarePlanText(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		return c.String(http.StatusNotFound, msgOrderNotFound)
	case errors.Is(err, ErrNotReady):
		return c.String(http.StatusBadRequest, msgNotReady)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to export care plan").SetInternal(err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", exp.Filename))
	return c.String(http.StatusOK, exp.Content)
}

// parseID reads the :id path parameter. Ids are positive integers; anything
// else can never match an order.
func parseID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
