package memberships

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/memberships"
	membershipsvc "membership-app/internal/memberships"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Service interface {
	Create(ctx context.Context, in membershipsvc.Input) (*memberships.Membership, error)
	Update(ctx context.Context, id uint, in membershipsvc.Input) (*memberships.Membership, error)
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context) ([]memberships.Membership, error)
	ListVisible(ctx context.Context) ([]memberships.Membership, error)
	GetBySlug(ctx context.Context, slug string) (*memberships.Membership, error)
	Quote(m *memberships.Membership) billing.Quote
	UpdateSubscriptionPrices(ctx context.Context, in membershipsvc.PriceUpdate) (membershipsvc.PriceUpdateResult, error)
}

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log.Named("api.memberships")}
}

type MembershipDTO struct {
	ID              uint                 `json:"id"`
	Name            string               `json:"name"`
	Slug            string               `json:"slug"`
	Description     string               `json:"description"`
	EntryCost       int64                `json:"entry_cost"`
	RecurringPrice  int64                `json:"recurring_price"`
	Interval        memberships.Interval `json:"interval"`
	IsPurchasable   bool                 `json:"is_purchasable"`
	IsVisible       *bool                `json:"is_visible,omitempty"`
	RemoteProductID string               `json:"remote_product_id,omitempty"`
	Quote           billing.Quote        `json:"quote"`
}

func (h *Handler) toDTO(m *memberships.Membership, admin bool) MembershipDTO {
	dto := MembershipDTO{
		ID:             m.ID,
		Name:           m.Name,
		Slug:           m.Slug,
		Description:    m.Description,
		EntryCost:      m.EntryCost,
		RecurringPrice: m.RecurringPrice,
		Interval:       m.Interval,
		IsPurchasable:  m.IsPurchasable,
		Quote:          h.service.Quote(m),
	}
	if admin {
		visible := m.IsVisible
		dto.IsVisible = &visible
		dto.RemoteProductID = m.RemoteProductID
	}
	return dto
}

func (h *Handler) toDTOs(list []memberships.Membership, admin bool) []MembershipDTO {
	out := make([]MembershipDTO, 0, len(list))
	for i := range list {
		out = append(out, h.toDTO(&list[i], admin))
	}
	return out
}

// ListMemberships is the public catalogue with the fee breakdown per plan.
func (h *Handler) ListMemberships(c *gin.Context) {
	list, err := h.service.ListVisible(c.Request.Context())
	if err != nil {
		h.log.Error("listing visible memberships", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load memberships"})
		return
	}
	c.JSON(http.StatusOK, h.toDTOs(list, false))
}

func (h *Handler) GetMembership(c *gin.Context) {
	m, err := h.service.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toDTO(m, false))
}

func (h *Handler) AdminListMemberships(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toDTOs(list, true))
}

func (h *Handler) CreateMembership(c *gin.Context) {
	var in membershipsvc.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	m, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.toDTO(m, true))
}

func (h *Handler) UpdateMembership(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var in membershipsvc.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	m, err := h.service.Update(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toDTO(m, true))
}

func (h *Handler) DeleteMembership(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateSubscriptionPrices reprices the selected subscriptions. Partial
// failures are reported per subscription with a 207.
func (h *Handler) UpdateSubscriptionPrices(c *gin.Context) {
	var in membershipsvc.PriceUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	res, err := h.service.UpdateSubscriptionPrices(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(res.Failed) > 0 {
		c.JSON(http.StatusMultiStatus, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, membershipsvc.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
	case errors.Is(err, membershipsvc.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, membershipsvc.ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Slug already in use"})
	case errors.Is(err, memberships.ErrMembershipInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "Membership has active subscriptions"})
	default:
		h.log.Error("membership request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Membership request failed"})
	}
}
