package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/itemize-cloud/campaign-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const testOrg = "org-1"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(CorrelationMiddleware())
	return app
}

// performRequest sends body as JSON on behalf of testOrg.
func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(HeaderOrganizationID, testOrg)
	return doRequest(t, app, req)
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
