package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/handlers"
)

// apiClient talks to the rolodex HTTP API with a bearer token.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(cfg config.Config) (*apiClient, error) {
	base := strings.TrimSpace(opts.apiBaseURL)
	if base == "" {
		base = defaultAPIBaseURL(cfg.Server.Addr)
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(opts.timeout).
		SetHeader("Accept", "application/json")

	token := strings.TrimSpace(opts.token)
	if token == "" {
		var err error
		if token, err = login(client, cfg); err != nil {
			return nil, err
		}
	}
	client.SetAuthToken(token)
	return &apiClient{http: client}, nil
}

func defaultAPIBaseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func login(client *resty.Client, cfg config.Config) (string, error) {
	username := strings.TrimSpace(opts.username)
	if username == "" {
		username = cfg.Auth.OperatorUser
	}
	if opts.password == "" {
		return "", errors.New("--token or --password is required")
	}
	var out handlers.LoginResponse
	resp, err := client.R().
		SetBody(handlers.LoginRequest{Username: username, Password: opts.password}).
		SetResult(&out).
		Post("/auth/login")
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("login: %s", apiMessage(resp))
	}
	return out.AccessToken, nil
}

// do sends a request and prints the JSON response body.
func (c *apiClient) do(method, path string, body any) error {
	req := c.http.R()
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), apiMessage(resp))
	}
	return printJSON(resp.Body())
}

func apiMessage(resp *resty.Response) string {
	var e handlers.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(resp.String())
}

func printJSON(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		fmt.Println("ok")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = os.Stdout.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}
