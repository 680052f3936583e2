// Command authzcore runs the OIDC/OAuth2 authorization endpoint as a
// standalone server: request parsing (including PAR resolution and JAR
// verification), session/consent/interaction challenges, and
// code/hybrid/implicit token minting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func commandRoot() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authzcore",
		Short: "authzcore is a standalone OpenID Connect authorization endpoint",
		Long:  "",
	}

	rootCmd.AddCommand(commandServe())
	rootCmd.AddCommand(commandVersion())

	return rootCmd
}

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
