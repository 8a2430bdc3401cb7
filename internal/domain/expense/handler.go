package expense

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/auth"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	readGroup.GET("/expenses", h.ListExpenses)
	readGroup.GET("/expenses/totals", h.ExpenseTotals)
	readGroup.GET("/expenses/:id", h.GetExpense)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleFrontDesk))
	writeGroup.POST("/expenses", h.CreateExpense)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/expenses/:id/approve", h.ApproveExpense)
	adminGroup.POST("/expenses/:id/reject", h.RejectExpense)
}

type reviewRequest struct {
	Notes  *string `json:"notes"`
	Reason string  `json:"reason"`
}

func (h *Handler) CreateExpense(c echo.Context) error {
	var e Expense
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	by := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateExpense(c.Request().Context(), &e, by); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, &e)
}

func (h *Handler) GetExpense(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetExpense(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ApproveExpense(c echo.Context) error {
	return h.review(c, true)
}

func (h *Handler) RejectExpense(c echo.Context) error {
	return h.review(c, false)
}

func (h *Handler) review(c echo.Context, approve bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	by := auth.UserIDFromContext(ctx)
	var e *Expense
	if approve {
		e, err = h.svc.ApproveExpense(ctx, id, by, req.Notes)
	} else {
		e, err = h.svc.RejectExpense(ctx, id, by, req.Reason)
	}
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func parseFilter(c echo.Context) (Filter, error) {
	var f Filter
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	if v := c.QueryParam("category"); v != "" {
		cat := Category(v)
		f.Category = &cat
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.QueryParam(param); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+param+", want YYYY-MM-DD")
			}
			*dst = &t
		}
	}
	return f, nil
}

func (h *Handler) ListExpenses(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListExpenses(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Expense{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ExpenseTotals(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	t, err := h.svc.ExpenseTotals(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}
