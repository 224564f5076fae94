package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/loykin/bluegreen"
	"github.com/loykin/bluegreen/pkg/client"
)

type command struct {
	global *GlobalFlags
	api    *APIFlags
}

// client resolves the API URL from --api-url, falling back to the manage
// port of the loaded config.
func (c command) client() (*client.Client, error) {
	url := c.api.APIUrl
	if url == "" {
		cfg, err := bluegreen.LoadConfig(c.global.ConfigPath)
		if err != nil {
			return nil, err
		}
		url = "http://localhost:" + strconv.Itoa(cfg.ManagePort) + cfg.BasePath
	}
	return client.New(client.Config{BaseURL: url, Timeout: c.api.APITimeout}), nil
}

func (c command) Status(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func (c command) Swap(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	res, err := cl.Swap(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(out, res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("swap failed: %s", res.Reason)
	}
	return nil
}

func (c command) Redeploy(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	res, err := cl.Redeploy(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(out, res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("redeploy failed: %s", res.Reason)
	}
	return nil
}

func (c command) Processes(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	ps, err := cl.Processes(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, ps)
}

func renderRoutes(configPath, active string, out io.Writer) error {
	cfg, err := bluegreen.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b, err := bluegreen.RenderRoutes(cfg, active)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

func printJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
