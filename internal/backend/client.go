// Package backend is the REST client for the equipment-borrowing service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andresmejia3/warden/internal/auth"
)

// Config holds the configuration for the backend client
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	UserAgent        string
	AppType          string
	LoginPath        string
	PermissionPath   string
	LookupPath       string
	CheckoutPath     string
	CheckinPath      string
	CheckoutStatuses []string
	CheckinStatuses  []string
}

// DefaultConfig returns a Config pointing at a local backend
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:5000",
		Timeout:          10 * time.Second,
		UserAgent:        "Warden-Kiosk/1.0",
		AppType:          "Desktop",
		LoginPath:        "/api/Auth/login",
		PermissionPath:   "/api/Auth/getpermission",
		LookupPath:       "/api/Borrowing/GetScanDataByQr/{code}",
		CheckoutPath:     "/api/Borrowing/VerifyPeminjaman/{id}",
		CheckinPath:      "/api/Borrowing/VerifyPengembalian/{id}",
		CheckoutStatuses: []string{"Disetujui", "Approved", "Reserved"},
		CheckinStatuses:  []string{"Dipinjam", "Borrowed", "InPossession"},
	}
}

// TokenSource supplies the bearer credential. *auth.Session implements it.
type TokenSource interface {
	Token() (string, error)
}

// Client makes single-attempt calls; retry policy belongs to the caller.
type Client struct {
	httpClient *http.Client
	config     Config
	tokens     TokenSource
}

func NewClient(config Config, tokens TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		tokens:     tokens,
	}
}

type requestIDKey struct{}

// WithRequestID tags outgoing requests made with ctx with an X-Request-ID header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Route picks the confirm direction for a status using the configured vocabularies.
func (c *Client) Route(status string) (Direction, error) {
	for _, s := range c.config.CheckoutStatuses {
		if strings.EqualFold(strings.TrimSpace(s), status) {
			return CheckOut, nil
		}
	}
	for _, s := range c.config.CheckinStatuses {
		if strings.EqualFold(strings.TrimSpace(s), status) {
			return CheckIn, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnroutableStatus, status)
}

// FetchTransaction looks up the transaction behind a scanned code. It never changes server state.
func (c *Client) FetchTransaction(ctx context.Context, code string) (*Transaction, error) {
	path := expand(c.config.LookupPath, "code", code)

	var dto transactionDTO
	err := c.do(ctx, http.MethodGet, path, nil, &dto, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	if dto.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, code)
	}

	return &Transaction{
		ID:       string(dto.ID),
		Code:     code,
		Status:   dto.Status,
		Borrower: dto.Borrower,
		Items:    dto.Items,
	}, nil
}

// ConfirmTransaction marks tx verified on the route its status selects.
func (c *Client) ConfirmTransaction(ctx context.Context, tx *Transaction, verifiedBy string) (*Confirmation, error) {
	dir, err := c.Route(tx.EffectiveStatus())
	if err != nil {
		return nil, err
	}
	tmpl := c.config.CheckoutPath
	if dir == CheckIn {
		tmpl = c.config.CheckinPath
	}

	req := confirmRequest{
		IsQrVerified:   true,
		IsFaceVerified: true,
		VerifiedBy:     verifiedBy,
	}
	var resp envelope
	if err := c.do(ctx, http.MethodPost, expand(tmpl, "id", tx.ID), req, &resp, true); err != nil {
		return nil, err
	}
	return &Confirmation{TransactionID: tx.ID, Direction: dir, Message: resp.Message}, nil
}

// Login is the first sign-in leg. It implements auth.Authenticator.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.Login, error) {
	req := loginRequest{Username: username, Password: password, JenisAplikasi: c.config.AppType}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, c.config.LoginPath, req, &resp, false); err != nil {
		return nil, err
	}

	out := &auth.Login{Token: resp.Token, DisplayName: resp.Nama}
	for _, a := range resp.ListAplikasi {
		out.Apps = append(out.Apps, auth.App{AppID: a.AppID, RoleID: a.RoleID})
	}
	return out, nil
}

// Permissions exchanges the provisional token for a role-scoped one.
func (c *Client) Permissions(ctx context.Context, provisional, username string, app auth.App) (*auth.Grant, error) {
	req := permissionRequest{Username: username, AppID: app.AppID, RoleID: app.RoleID}

	var resp permissionResponse
	if err := c.doWithToken(ctx, http.MethodPost, c.config.PermissionPath, req, &resp, provisional); err != nil {
		return nil, err
	}

	grant := &auth.Grant{Token: resp.Token, Permissions: resp.ListPermission}
	if resp.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			grant.ExpiresAt = t
		}
	}
	return grant, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, authed bool) error {
	token := ""
	if authed && c.tokens != nil {
		t, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendRejected, err)
		}
		token = t
	}
	return c.doWithToken(ctx, method, path, body, result, token)
}

// doWithToken executes a single HTTP request
func (c *Client) doWithToken(ctx context.Context, method, path string, body, result any, token string) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.BaseURL, "/")+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Application-Type", c.config.AppType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrBackendUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		kind := ErrBackendRejected
		if resp.StatusCode >= 500 {
			kind = ErrBackendUnreachable
		}
		return &APIError{Kind: kind, StatusCode: resp.StatusCode, Message: serverMessage(respBody)}
	}

	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	return decode(respBody, result)
}

// decode unwraps an optional {"data": ...} envelope before unmarshalling into result.
func decode(body []byte, result any) error {
	if _, isEnvelope := result.(*envelope); !isEnvelope {
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
			body = env.Data
		}
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func serverMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func expand(tmpl, key, value string) string {
	return strings.ReplaceAll(tmpl, "{"+key+"}", url.PathEscape(value))
}
