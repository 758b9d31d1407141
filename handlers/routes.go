package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the open endpoints, the client portal and the staff back office.
// Admin routes are staff only.
func RegisterRoutes(r *gin.Engine) {
	r.POST("/users", CreateUser)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	authRequired := r.Group("/")
	authRequired.Use(AuthMiddleware())
	{
		authRequired.GET("/plans", ListPlans)
		authRequired.GET("/plans/:id", GetPlan)
		authRequired.GET("/clients/:id/summary", GetClientSummary)
		authRequired.GET("/users/:id/subscriptions", GetUserSubscriptions)
		authRequired.GET("/subscriptions/:id", GetSubscription)
		authRequired.GET("/demands", ListDemands)
		authRequired.GET("/demands/:id", GetDemand)
		authRequired.POST("/tickets", OpenTicket)
		authRequired.GET("/tickets", ListTickets)
		authRequired.GET("/tickets/:id", GetTicket)
		authRequired.GET("/invoices", ListInvoices)
		authRequired.GET("/invoices/:id", GetInvoice)
		authRequired.POST("/invoices/:id/report_payment", ReportPayment)
	}

	staff := authRequired.Group("/")
	staff.Use(StaffOnly())
	{
		staff.POST("/clients", CreateClient)
		staff.POST("/clients/:id/domains", CreateDomain)

		staff.POST("/plans", CreatePlan)
		staff.PUT("/plans/:id", UpdatePlan)

		staff.POST("/subscriptions", Subscribe)
		staff.POST("/subscriptions/:id/change_plan", ChangePlan)
		staff.POST("/subscriptions/:id/reset_hours", ResetSubscriptionHours)
		staff.POST("/subscriptions/:id/cancel", CancelSubscription)

		staff.POST("/demands", CreateDemand)
		staff.PUT("/demands/:id/hours", UpdateDemandHours)
		staff.PATCH("/demands/:id/status", UpdateDemandStatus)
		staff.POST("/demands/:id/:action", DemandAction)
		staff.DELETE("/demands/:id", DeleteDemand)

		staff.POST("/tickets/:id/:action", TicketAction)
		staff.DELETE("/tickets/:id", DeleteTicket)

		staff.POST("/invoices", CreateInvoice)
		staff.POST("/invoices/:id/confirm_payment", ConfirmPayment)
		staff.POST("/invoices/:id/reject_payment", RejectPayment)
		staff.POST("/invoices/:id/cancel", CancelInvoice)

		staff.POST("/billing/run", RunBilling)

		staff.POST("/admin/clear_db", ClearDatabase)
	}
}
