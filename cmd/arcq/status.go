package main

import (
	"context"
	"fmt"

	"github.com/gis-tools/arcrest/pkg/robusthttp"
	"github.com/gis-tools/arcrest/request"

	"github.com/urfave/cli/v2"
)

var cmdStatus = &cli.Command{
	Name:   "status",
	Usage:  "check saved credentials against the portal",
	Flags:  []cli.Flag{},
	Action: runStatus,
}

func runStatus(cctx *cli.Context) error {
	ctx := context.Background()

	provider, err := loadAuthProvider()
	if err != nil {
		return err
	}

	resp, err := request.Do(ctx, provider.Portal()+"/portals/self", &request.Options{
		Auth:       provider,
		HTTPClient: robusthttp.NewClient(),
	})
	if err != nil {
		return err
	}

	var self struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := resp.Decode(&self); err != nil {
		return err
	}

	fmt.Printf("Portal: %s\n", provider.Portal())
	if self.Name != "" {
		fmt.Printf("Organization: %s (%s)\n", self.Name, self.ID)
	}
	if self.User.Username != "" {
		fmt.Printf("User: %s\n", self.User.Username)
	}

	return nil
}
