package handler

import (
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/resource-allocator/internal/adapter/auth"
	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/core/service"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	workflow *service.Workflow
	verifier *auth.TokenVerifier
	log      *logrus.Entry
}

type CreateResourceHTTPRequest struct {
	Name     string `json:"name" binding:"required,notblank"`
	Quantity int    `json:"quantity" binding:"required,gte=1"`
}

type AddStockHTTPRequest struct {
	Quantity int `json:"quantity" binding:"required,gte=1"`
}

type SubmitHTTPRequest struct {
	ResourceID string `json:"resource_id" binding:"required,notblank"`
	Reason     string `json:"reason" binding:"required"`
}

type ActionHTTPRequest struct {
	ID     string `json:"id" binding:"required,notblank"`
	Status string `json:"status" binding:"required"`
}

type WishHTTPRequest struct {
	ItemName string `json:"item_name" binding:"required,notblank"`
	Reason   string `json:"reason" binding:"required"`
}

var registerValidators sync.Once

func NewHTTPHandler(workflow *service.Workflow, verifier *auth.TokenVerifier, log *logrus.Logger) *HTTPHandler {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("notblank", validators.NotBlank)
		}
	})
	return &HTTPHandler{
		workflow: workflow,
		verifier: verifier,
		log:      log.WithField("module", "http"),
	}
}

// Router builds the gin engine. Everything under /api needs a bearer token.
func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api", h.authenticate())
	api.GET("/resources", h.ListResources)
	api.POST("/resources", h.AddResource)
	api.POST("/resources/:id/stock", h.AddStock)
	api.DELETE("/resources/:id", h.RemoveResource)

	api.POST("/requests", h.Submit)
	api.GET("/requests/pending", h.ListPending)
	api.GET("/requests/approved", h.ListApproved)
	api.PATCH("/requests/action", h.Decide)
	api.GET("/requests/:id", h.GetRequest)
	api.GET("/requests/:id/history", h.RequestHistory)
	api.POST("/requests/:id/fulfill", h.Fulfill)
	api.GET("/my-requests", h.ListOwnRequests)
	api.GET("/employees/:identity/requests", h.ListEmployeeRequests)

	api.POST("/wishlist", h.SubmitWish)
	api.GET("/wishlist", h.ListWishlist)
	return r
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) ListResources(c *gin.Context) {
	seq, err := h.workflow.ListResources(c.Request.Context(), identity(c))
	writeList(h, c, seq, err)
}

func (h *HTTPHandler) AddResource(c *gin.Context) {
	var body CreateResourceHTTPRequest
	if !h.allowed(c, domain.ActionManageInventory) || !h.bind(c, &body) {
		return
	}
	res, err := h.workflow.AddResource(c.Request.Context(), identity(c), body.Name, body.Quantity)
	h.respond(c, http.StatusCreated, res, err)
}

func (h *HTTPHandler) AddStock(c *gin.Context) {
	var body AddStockHTTPRequest
	if !h.allowed(c, domain.ActionManageInventory) || !h.bind(c, &body) {
		return
	}
	res, err := h.workflow.AddStock(c.Request.Context(), identity(c), c.Param("id"), body.Quantity)
	h.respond(c, http.StatusOK, res, err)
}

func (h *HTTPHandler) RemoveResource(c *gin.Context) {
	res, err := h.workflow.RemoveResource(c.Request.Context(), identity(c), c.Param("id"))
	h.respond(c, http.StatusOK, res, err)
}

func (h *HTTPHandler) Submit(c *gin.Context) {
	var body SubmitHTTPRequest
	if !h.bind(c, &body) {
		return
	}
	req, err := h.workflow.Submit(c.Request.Context(), identity(c), service.SubmitInput{
		ResourceID:     body.ResourceID,
		Reason:         body.Reason,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotencyHeader)),
	})
	h.respond(c, http.StatusCreated, req, err)
}

func (h *HTTPHandler) ListPending(c *gin.Context) {
	seq, err := h.workflow.ListPending(c.Request.Context(), identity(c))
	writeList(h, c, seq, err)
}

func (h *HTTPHandler) ListApproved(c *gin.Context) {
	seq, err := h.workflow.ListApproved(c.Request.Context(), identity(c))
	writeList(h, c, seq, err)
}

func (h *HTTPHandler) ListOwnRequests(c *gin.Context) {
	seq, err := h.workflow.ListOwnRequests(c.Request.Context(), identity(c))
	writeList(h, c, seq, err)
}

func (h *HTTPHandler) ListEmployeeRequests(c *gin.Context) {
	seq, err := h.workflow.ListEmployeeRequests(c.Request.Context(), identity(c), c.Param("identity"))
	writeList(h, c, seq, err)
}

func (h *HTTPHandler) GetRequest(c *gin.Context) {
	req, err := h.workflow.GetRequest(c.Request.Context(), identity(c), c.Param("id"))
	h.respond(c, http.StatusOK, req, err)
}

func (h *HTTPHandler) RequestHistory(c *gin.Context) {
	events, err := h.workflow.RequestHistory(c.Request.Context(), identity(c), c.Param("id"))
	h.respond(c, http.StatusOK, events, err)
}

func (h *HTTPHandler) Decide(c *gin.Context) {
	var body ActionHTTPRequest
	if !h.allowed(c, domain.ActionDecide) || !h.bind(c, &body) {
		return
	}
	to, err := domain.ParseRequestStatus(body.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	req, err := h.workflow.Decide(c.Request.Context(), identity(c), body.ID, to)
	h.respond(c, http.StatusOK, req, err)
}

func (h *HTTPHandler) Fulfill(c *gin.Context) {
	req, err := h.workflow.Fulfill(c.Request.Context(), identity(c), c.Param("id"))
	h.respond(c, http.StatusOK, req, err)
}

func (h *HTTPHandler) SubmitWish(c *gin.Context) {
	var body WishHTTPRequest
	if !h.bind(c, &body) {
		return
	}
	item, err := h.workflow.SubmitWish(c.Request.Context(), identity(c), body.ItemName, body.Reason)
	h.respond(c, http.StatusCreated, item, err)
}

func (h *HTTPHandler) ListWishlist(c *gin.Context) {
	seq, err := h.workflow.ListWishlist(c.Request.Context(), identity(c))
	writeList(h, c, seq, err)
}

func (h *HTTPHandler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		id, err := h.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func (h *HTTPHandler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		}
		if id, ok := auth.IdentityFrom(c.Request.Context()); ok {
			fields["actor"] = id.ID
		}
		h.log.WithFields(fields).Info("request handled")
	}
}

// allowed rejects a caller before its body is read, so a forbidden caller
// never sees validation errors.
func (h *HTTPHandler) allowed(c *gin.Context, action domain.Action) bool {
	if err := domain.Authorize(identity(c), action); err != nil {
		h.fail(c, err)
		return false
	}
	return true
}

func (h *HTTPHandler) bind(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return false
	}
	return true
}

func (h *HTTPHandler) respond(c *gin.Context, status int, data any, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, data)
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	kind, body := errorBody(err)
	if kind.status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(kind.status, body)
}

func writeList[T any](h *HTTPHandler, c *gin.Context, seq iter.Seq2[T, error], err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	items, err := service.Collect(seq)
	h.respond(c, http.StatusOK, items, err)
}

func identity(c *gin.Context) domain.Identity {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return id
}
