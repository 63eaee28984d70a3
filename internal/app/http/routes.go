package routes

import (
	"net/http"

	adminapi "membership-app/internal/api/admin"
	checkoutapi "membership-app/internal/api/checkout"
	membershipsapi "membership-app/internal/api/memberships"
	stripewebhooks "membership-app/internal/api/stripewebhook"
	"membership-app/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Webhook     *stripewebhooks.Handler
	Checkout    *checkoutapi.Handler
	Memberships *membershipsapi.Handler
	Admin       *adminapi.Handler
	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics   http.Handler
	JWTSecret []byte
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	// The signature covers the raw body, so the webhook skips sanitizing.
	r.POST("/webhook", h.Webhook.Receive)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	public := r.Group("/")
	public.Use(middleware.SanitizeAndCleanInputMiddleware())
	public.GET("/memberships", h.Memberships.ListMemberships)
	public.GET("/memberships/:slug", h.Memberships.GetMembership)
	public.POST("/checkout", h.Checkout.Checkout)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(h.JWTSecret), middleware.RequireRole("admin"))
	admin.GET("/stats", h.Admin.GetStats)
	admin.GET("/customers", h.Admin.ListCustomers)
	admin.GET("/subscriptions", h.Admin.ListSubscriptions)
	admin.GET("/payments", h.Admin.ListPayments)
	admin.POST("/resync", h.Admin.Resync)

	admin.GET("/memberships", h.Memberships.AdminListMemberships)
	admin.POST("/memberships", h.Memberships.CreateMembership)
	admin.PUT("/memberships/:id", h.Memberships.UpdateMembership)
	admin.DELETE("/memberships/:id", h.Memberships.DeleteMembership)
	admin.POST("/subscriptions/prices", h.Memberships.UpdateSubscriptionPrices)
}
