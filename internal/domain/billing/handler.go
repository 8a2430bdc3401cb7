package billing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleDoctor, auth.RoleFrontDesk))
	readGroup.GET("/billing-reports", h.SearchReports)
	readGroup.GET("/billing-reports/:id", h.GetReport)
	readGroup.GET("/billing-reports/:id/quick-payments", h.QuickPaymentOptions)
	readGroup.GET("/appointments/:id/billing-reports", h.ListByAppointment)
	readGroup.GET("/appointments/:id/billing-summary", h.GetAppointmentSummary)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleFrontDesk))
	writeGroup.POST("/billing-reports", h.CreateReport)
	writeGroup.PATCH("/billing-reports/:id", h.UpdateDetails)
	writeGroup.PUT("/billing-reports/:id/services", h.UpdateServices)
	writeGroup.PUT("/billing-reports/:id/discount", h.UpdateDiscount)
	writeGroup.POST("/billing-reports/:id/complete", h.CompleteReport)
	writeGroup.POST("/billing-reports/:id/payments", h.AddPayment)
	writeGroup.POST("/billing-reports/:id/duplicate", h.DuplicateReport)
	writeGroup.POST("/billing-reports/link", h.LinkReports)
	writeGroup.DELETE("/billing-reports/:id/link", h.UnlinkReport)

	billingGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	billingGroup.POST("/billing-reports/:id/payments/:paymentId/void", h.VoidPayment)
	billingGroup.POST("/billing-reports/:id/payments/:paymentId/verify", h.VerifyPayment)
	billingGroup.POST("/billing-reports/:id/cancel", h.CancelReport)
	billingGroup.POST("/billing-reports/:id/archive", h.ArchiveReport)
	billingGroup.POST("/billing-reports/:id/unarchive", h.UnarchiveReport)
	billingGroup.DELETE("/billing-reports/:id", h.SoftDelete)
	billingGroup.POST("/billing-reports/:id/restore", h.RestoreReport)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/billing-reports/:id/permanent", h.HardDelete)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func bindBody(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func reply(c echo.Context, status int, v interface{}, err error) error {
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(status, v)
}

// -- Reports --

type createReportRequest struct {
	AppointmentID uuid.UUID        `json:"appointment_id"`
	Services      []BillingService `json:"services"`
	CreateReportOptions
}

func (h *Handler) CreateReport(c echo.Context) error {
	var req createReportRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if req.AppointmentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "appointment_id is required")
	}
	r, err := h.svc.CreateReport(c.Request().Context(), req.AppointmentID, actor(c), req.CreateReportOptions, req.Services)
	return reply(c, http.StatusCreated, r, err)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetReport(c.Request().Context(), id)
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) SearchReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ReportFilter
	if s := c.QueryParam("status"); s != "" {
		st := ReportStatus(s)
		f.Status = &st
	}
	for param, dst := range map[string]**uuid.UUID{
		"doctor_id":      &f.DoctorID,
		"patient_id":     &f.PatientID,
		"appointment_id": &f.AppointmentID,
	} {
		if v := c.QueryParam(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &id
		}
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.QueryParam(param); v != "" {
			t, err := parseDate(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &t
		}
	}
	f.IncludeDeleted, _ = strconv.ParseBool(c.QueryParam("include_deleted"))

	items, total, err := h.svc.SearchReports(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*BillingReport{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) ListByAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByAppointment(c.Request().Context(), id)
	if items == nil {
		items = []*BillingReport{}
	}
	return reply(c, http.StatusOK, items, err)
}

func (h *Handler) GetAppointmentSummary(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.GetAppointmentBillingSummary(c.Request().Context(), id)
	return reply(c, http.StatusOK, sum, err)
}

func (h *Handler) UpdateDetails(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ReportDetails
	if err := bindBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.UpdateDetails(c.Request().Context(), id, req, actor(c))
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) UpdateServices(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Services []BillingService `json:"services"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.UpdateServices(c.Request().Context(), id, req.Services, actor(c))
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) UpdateDiscount(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Discount decimal.Decimal `json:"discount"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.UpdateDiscount(c.Request().Context(), id, req.Discount, actor(c))
	return reply(c, http.StatusOK, r, err)
}

type notesRequest struct {
	Notes  string  `json:"notes"`
	Reason *string `json:"reason"`
}

func (h *Handler) CompleteReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.CompleteReport(c.Request().Context(), id, actor(c), req.Notes)
	return reply(c, http.StatusOK, r, err)
}

// -- Payments --

func (h *Handler) AddPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req PaymentInput
	if err := bindBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.AddPayment(c.Request().Context(), id, req, actor(c))
	return reply(c, http.StatusCreated, r, err)
}

func (h *Handler) VoidPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	reason := req.Notes
	if req.Reason != nil {
		reason = *req.Reason
	}
	r, err := h.svc.VoidPayment(c.Request().Context(), id, c.Param("paymentId"), actor(c), reason)
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) VerifyPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.VerifyPayment(c.Request().Context(), id, c.Param("paymentId"), actor(c))
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) QuickPaymentOptions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	opts, err := h.svc.QuickPaymentOptions(c.Request().Context(), id)
	return reply(c, http.StatusOK, opts, err)
}

// -- Relationships --

func (h *Handler) DuplicateReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req DuplicateOptions
	if err := bindBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.DuplicateReport(c.Request().Context(), id, actor(c), req)
	return reply(c, http.StatusCreated, r, err)
}

func (h *Handler) LinkReports(c echo.Context) error {
	var req struct {
		ReportIDs []uuid.UUID `json:"report_ids"`
		LinkType  LinkType    `json:"link_type"`
		Notes     string      `json:"notes"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if req.LinkType == "" {
		req.LinkType = LinkRelated
	}
	items, err := h.svc.LinkReports(c.Request().Context(), req.ReportIDs, req.LinkType, actor(c), req.Notes)
	return reply(c, http.StatusOK, items, err)
}

func (h *Handler) UnlinkReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.UnlinkReport(c.Request().Context(), id, actor(c))
	return reply(c, http.StatusOK, r, err)
}

// -- Lifecycle --

func (h *Handler) CancelReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	reason := req.Notes
	if req.Reason != nil {
		reason = *req.Reason
	}
	r, err := h.svc.CancelReport(c.Request().Context(), id, actor(c), reason)
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) ArchiveReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	r, err := h.svc.ArchiveReport(c.Request().Context(), id, actor(c), req.Reason)
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) UnarchiveReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.UnarchiveReport(c.Request().Context(), id, actor(c))
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) SoftDelete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var reason *string
	if v := c.QueryParam("reason"); v != "" {
		reason = &v
	}
	r, err := h.svc.SoftDelete(c.Request().Context(), id, actor(c), reason)
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) RestoreReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.RestoreReport(c.Request().Context(), id, actor(c))
	return reply(c, http.StatusOK, r, err)
}

func (h *Handler) HardDelete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	confirm, _ := strconv.ParseBool(c.QueryParam("confirm"))
	if err := h.svc.HardDelete(c.Request().Context(), id, actor(c), confirm); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
