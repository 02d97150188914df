package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gis-tools/arcrest/pkg/robusthttp"
	"github.com/gis-tools/arcrest/request"

	"github.com/urfave/cli/v2"
)

var cmdGet = &cli.Command{
	Name:      "get",
	Usage:     "fetch a REST endpoint and print the JSON response",
	ArgsUsage: "<url>",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "param",
			Aliases: []string{"p"},
			Usage:   "query parameter as key=value (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "anonymous",
			Usage: "skip saved credentials",
		},
	},
	Action: runGet,
}

func runGet(cctx *cli.Context) error {
	ctx := context.Background()

	rawURL := cctx.Args().First()
	if rawURL == "" {
		return fmt.Errorf("expected URL argument")
	}

	params := request.Params{}
	for _, kv := range cctx.StringSlice("param") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("bad --param %q, expected key=value", kv)
		}
		params[k] = v
	}

	opts := &request.Options{
		Params:     params,
		HTTPClient: robusthttp.NewClient(),
	}
	if !cctx.Bool("anonymous") {
		provider, err := loadAuthProvider()
		if err != nil && err != ErrNoAuthSession {
			return err
		}
		opts.Auth = provider
	}

	resp, err := request.Do(ctx, rawURL, opts)
	if err != nil {
		return err
	}

	if resp.JSON == nil {
		_, err = os.Stdout.Write(resp.Bytes)
		return err
	}

	var buf map[string]any
	if err := json.Unmarshal(resp.JSON, &buf); err != nil {
		// non-object JSON, print as-is
		fmt.Println(string(resp.JSON))
		return nil
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
