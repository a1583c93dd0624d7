package command

import (
	"fmt"

	"github.com/tomatool/exam/internal/version"
	"github.com/urfave/cli/v2"
)

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(c *cli.Context) error {
		fmt.Print(version.String())
		return nil
	},
}
