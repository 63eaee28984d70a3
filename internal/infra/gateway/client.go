package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"go.uber.org/zap"
)

const currency = "usd"

type Config struct {
	SecretKey         string
	WebhookSecret     string
	MaxNetworkRetries int64
	// URL overrides the API endpoint, for tests.
	URL        string
	HTTPClient *http.Client
}

// Client is the only place that talks to the processor's API.
type Client struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Client {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     log.Named("sdk").Sugar(),
	}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.URL, "/"))
	}
	if cfg.HTTPClient != nil {
		backendCfg.HTTPClient = cfg.HTTPClient
	}

	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})

	return &Client{api: api, webhookSecret: cfg.WebhookSecret, log: log}
}

type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

type CustomerInput struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	Phone     string
	Address   Address
	// PaymentMethod is attached and made the invoice default on create.
	PaymentMethod string
	Metadata      map[string]string
}

func (in CustomerInput) params(ctx context.Context) *stripe.CustomerParams {
	p := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
		Name:  stripe.String(strings.TrimSpace(in.FirstName + " " + in.LastName)),
		Address: &stripe.AddressParams{
			Line1:      stripe.String(in.Address.Line1),
			Line2:      stripe.String(in.Address.Line2),
			City:       stripe.String(in.Address.City),
			State:      stripe.String(in.Address.State),
			PostalCode: stripe.String(in.Address.PostalCode),
			Country:    stripe.String(in.Address.Country),
		},
	}
	if in.Phone != "" {
		p.Phone = stripe.String(in.Phone)
	}
	p.Context = ctx
	p.AddMetadata("first_name", in.FirstName)
	p.AddMetadata("last_name", in.LastName)
	if in.Company != "" {
		p.AddMetadata("company", in.Company)
	}
	for k, v := range in.Metadata {
		p.AddMetadata(k, v)
	}
	return p
}

func (c *Client) CreateCustomer(ctx context.Context, in CustomerInput, idempotencyKey string) (*stripe.Customer, error) {
	p := in.params(ctx)
	if in.PaymentMethod != "" {
		p.PaymentMethod = stripe.String(in.PaymentMethod)
		p.InvoiceSettings = &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(in.PaymentMethod),
		}
	}
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	cus, err := c.api.Customers.New(p)
	return cus, classify("create_customer", err)
}

// UpdateCustomer updates the remote customer, re-creating it when it no
// longer exists remotely. The returned customer's ID may therefore differ
// from id.
func (c *Client) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (*stripe.Customer, error) {
	cus, err := c.api.Customers.Update(id, in.params(ctx))
	err = classify("update_customer", err)
	if IsNotFound(err) {
		c.log.Warn("remote customer missing, re-creating", zap.String("customer", id))
		return c.CreateCustomer(ctx, in, "")
	}
	return cus, err
}

// DeleteCustomer treats an already deleted customer as success.
func (c *Client) DeleteCustomer(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	p := &stripe.CustomerParams{}
	p.Context = ctx
	_, err := c.api.Customers.Del(id, p)
	err = classify("delete_customer", err)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error) {
	p := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	p.Context = ctx
	pm, err := c.api.PaymentMethods.Attach(paymentMethodID, p)
	return pm, classify("attach_payment_method", err)
}

type ProductInput struct {
	Name        string
	Description string
	Metadata    map[string]string
}

func (in ProductInput) params(ctx context.Context) *stripe.ProductParams {
	p := &stripe.ProductParams{Name: stripe.String(in.Name)}
	if in.Description != "" {
		p.Description = stripe.String(in.Description)
	}
	p.Context = ctx
	for k, v := range in.Metadata {
		p.AddMetadata(k, v)
	}
	return p
}

func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (*stripe.Product, error) {
	prod, err := c.api.Products.New(in.params(ctx))
	return prod, classify("create_product", err)
}

// UpdateProduct re-creates the product when it no longer exists remotely.
// An empty id is treated the same way.
func (c *Client) UpdateProduct(ctx context.Context, id string, in ProductInput) (*stripe.Product, error) {
	if id == "" {
		return c.CreateProduct(ctx, in)
	}
	prod, err := c.api.Products.Update(id, in.params(ctx))
	err = classify("update_product", err)
	if IsNotFound(err) {
		c.log.Warn("remote product missing, re-creating", zap.String("product", id))
		return c.CreateProduct(ctx, in)
	}
	return prod, err
}

// DeleteProduct treats an already deleted product as success. Products that
// have prices cannot be deleted remotely and are archived instead.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	p := &stripe.ProductParams{}
	p.Context = ctx
	_, err := c.api.Products.Del(id, p)
	err = classify("delete_product", err)
	if err == nil || IsNotFound(err) {
		return nil
	}
	if k, _ := KindOf(err); k != KindFatal {
		return err
	}

	c.log.Info("product has prices, archiving instead", zap.String("product", id))
	archive := &stripe.ProductParams{Active: stripe.Bool(false)}
	archive.Context = ctx
	_, err = c.api.Products.Update(id, archive)
	return classify("archive_product", err)
}
