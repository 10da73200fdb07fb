package probes

import (
	"context"
	"os/user"

	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/module"
)

func init() {
	module.Register(module.Module{
		Name:              "users",
		Category:          "user",
		RunAfterIfEnabled: []string{"hardware"},
		Collect:           collectUsers,
	})
}

func collectUsers(_ context.Context, params *module.Params) error {
	current, err := user.Current()
	if err != nil || current.Username == "" {
		return err
	}

	if err := params.Inventory.AddEntry("USERS", inventory.Record{
		"LOGIN": current.Username,
	}); err != nil {
		return err
	}
	params.Inventory.SetHardware(inventory.Record{
		"LASTLOGGEDUSER": current.Username,
	})
	return nil
}
