package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preapproval"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://api.mercadopago.com"

	defaultTimeout  = 10 * time.Second
	maxErrorBodyLen = 4096
)

var (
	// ErrNotFound is returned when the API answers 404 for a resource.
	ErrNotFound = errors.New("mercadopago: resource not found")
	// ErrInvalidID is returned for ids the API can never resolve, such as a
	// non-numeric payment id.
	ErrInvalidID = errors.New("mercadopago: invalid resource id")
)

// APIError is any non-2xx answer other than 404.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: unexpected status %d: %s", e.StatusCode, e.Body)
}

type preapprovalGetter interface {
	Get(ctx context.Context, id string) (*preapproval.Response, error)
}

type paymentGetter interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

// Client fetches the resources the billing webhook needs through the official
// SDK and maps them onto the package's own types.
type Client struct {
	preapprovals preapprovalGetter
	payments     paymentGetter
}

// NewClient creates a client. A nil httpClient gets a client with a 10 second
// timeout. A baseURL other than the public API (a sandbox proxy or a test
// server) is reached by rewriting the host of every SDK request.
func NewClient(baseURL, accessToken string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" && base != DefaultBaseURL {
		target, err := url.Parse(base)
		if err != nil || target.Host == "" {
			return nil, fmt.Errorf("mercadopago: invalid base url %q", baseURL)
		}
		rewritten := *httpClient
		rewritten.Transport = &hostRewriter{target: target, next: httpClient.Transport}
		httpClient = &rewritten
	}

	cfg, err := config.New(accessToken, config.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("mercadopago: configure sdk: %w", err)
	}
	return &Client{
		preapprovals: preapproval.NewClient(cfg),
		payments:     payment.NewClient(cfg),
	}, nil
}

// GetPreapproval fetches a subscription by id.
func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	resp, err := c.preapprovals.Get(ctx, id)
	if err != nil {
		return nil, mapError("preapproval", id, err)
	}
	return preapprovalFromResponse(resp), nil
}

// GetPayment fetches a payment by id. Payment ids are numeric.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: payment %q", ErrInvalidID, id)
	}
	resp, err := c.payments.Get(ctx, n)
	if err != nil {
		return nil, mapError("payment", id, err)
	}
	return paymentFromResponse(resp), nil
}

func mapError(resource, id string, err error) error {
	var respErr *mperror.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s %s", ErrNotFound, resource, id)
		}
		body := strings.TrimSpace(respErr.Message)
		if len(body) > maxErrorBodyLen {
			body = body[:maxErrorBodyLen]
		}
		return &APIError{StatusCode: respErr.StatusCode, Body: body}
	}
	return fmt.Errorf("mercadopago: get %s %s: %w", resource, id, err)
}

func preapprovalFromResponse(r *preapproval.Response) *Preapproval {
	return &Preapproval{
		ID:                r.ID,
		Status:            r.Status,
		PayerID:           int64(r.PayerID),
		PayerEmail:        r.PayerEmail,
		PreapprovalPlanID: r.PreapprovalPlanID,
		ExternalReference: r.ExternalReference,
		Reason:            r.Reason,
		NextPaymentDate:   timePtr(r.NextPaymentDate),
		DateCreated:       timePtr(r.DateCreated),
		LastModified:      timePtr(r.LastModified),
	}
}

func paymentFromResponse(r *payment.Response) *Payment {
	p := &Payment{
		ID:                int64(r.ID),
		Status:            r.Status,
		StatusDetail:      r.StatusDetail,
		ExternalReference: r.ExternalReference,
		TransactionAmount: decimal.NewFromFloat(r.TransactionAmount),
		CurrencyID:        r.CurrencyID,
		Description:       r.Description,
		DateApproved:      timePtr(r.DateApproved),
		DateCreated:       timePtr(r.DateCreated),
		Metadata:          r.Metadata,
	}
	p.Payer.Email = r.Payer.Email
	return p
}

// timePtr maps the SDK's zero time (field absent) to nil.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// hostRewriter sends SDK requests to another scheme and host, keeping path
// and query.
type hostRewriter struct {
	target *url.URL
	next   http.RoundTripper
}

func (h *hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	out.Host = h.target.Host
	if h.target.Path != "" {
		out.URL.Path = h.target.Path + out.URL.Path
	}
	next := h.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(out)
}
