package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gis-tools/arcrest/jobs"
	"github.com/gis-tools/arcrest/pkg/robusthttp"
	"github.com/gis-tools/arcrest/request"

	"github.com/urfave/cli/v2"
)

var cmdJob = &cli.Command{
	Name:      "job",
	Usage:     "submit a geoprocessing job, wait, and print an output",
	ArgsUsage: "<task-url>",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "param",
			Aliases: []string{"p"},
			Usage:   "job parameter as key=value (repeatable)",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "named output to fetch after the job succeeds",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "polling interval",
			Value: jobs.DefaultInterval,
		},
	},
	Action: runJob,
}

func runJob(cctx *cli.Context) error {
	ctx := context.Background()

	taskURL := cctx.Args().First()
	if taskURL == "" {
		return fmt.Errorf("expected task URL argument")
	}

	params := request.Params{}
	for _, kv := range cctx.StringSlice("param") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("bad --param %q, expected key=value", kv)
		}
		params[k] = v
	}

	provider, err := loadAuthProvider()
	if err != nil && err != ErrNoAuthSession {
		return err
	}

	client := &jobs.Client{
		TaskURL:    strings.TrimSuffix(taskURL, "/"),
		Auth:       provider,
		HTTPClient: robusthttp.NewClient(robusthttp.WithTimeout(5 * time.Minute)),
		Interval:   cctx.Duration("interval"),
		OnStatus: func(info jobs.Info) {
			fmt.Printf("job %s: %s\n", info.ID, info.Status)
		},
	}

	job, err := client.Submit(ctx, params)
	if err != nil {
		return err
	}
	fmt.Printf("submitted job %s\n", job.ID)

	info, err := job.Wait(ctx)
	if err != nil {
		return err
	}

	if out := cctx.String("output"); out != "" {
		raw, err := job.Result(ctx, out)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	enc, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
