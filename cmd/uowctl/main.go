// Command uowctl runs migrations, transactional statements and health probes
// against the configured unit-of-work database.
package main

import (
	"github.com/nimburion/unitofwork/pkg/cli"
)

func main() {
	cli.Execute(cli.NewServiceCommand(cli.Options{
		Name:        "uowctl",
		Description: "Unit-of-work database operations",
		ConfigPath:  "",
	}))
}
