package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"time"

	"flowai/internal/app"
	"flowai/internal/config"
	"flowai/internal/logging"
	"flowai/internal/server"
	flowaisdk "flowai/sdk/go"
)

// Runs one work cycle against a throwaway workspace through the HTTP API.
func main() {
	workspace, err := os.MkdirTemp("", "flowai-smoke")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(workspace)

	ctx := context.Background()
	a, err := app.Open(ctx, workspace, config.Default(), logging.Default())
	if err != nil {
		panic(err)
	}
	defer a.Close()

	jwtSecret := "smoke-secret"
	h, err := server.New(server.Config{
		Engine: a.Engine,
		Repo:   a.Repo,
		Auth:   server.AuthConfig{JWTSecret: jwtSecret},
		Locale: "en",
		Log:    a.Log,
	})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	token, err := server.MintToken(jwtSecret, "smoke", time.Hour, time.Now())
	if err != nil {
		panic(err)
	}
	c := flowaisdk.New(ts.URL)
	c.BearerToken = token

	out, err := c.RunWork(ctx, nil)
	if err != nil {
		panic(err)
	}
	fmt.Printf("status=%s task=%d reward=%s message=%q\n", out.Status, out.TaskID, out.Reward, out.Message)
	stats, err := c.WorkerStats(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("completed=%d earnings=%s\n", stats.CompletedTasks, stats.EarningsEther)
}
