package serve

import (
	"github.com/spf13/cobra"

	"github.com/stockway/portal/internal/business"
	"github.com/stockway/portal/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"serve",
		"Stockway Portal server",
		"Stockway Portal server hosts the auth pages, the role dashboards behind the navigation guard and the backend API proxy",
		buildInfo,
		cmdutils.RunAsService,
		business.ServeMain,
	)
}
