package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/criticalstack/partd/pkg/buildinfo"
	"github.com/criticalstack/partd/pkg/log"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "partd version",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := json.Marshal(map[string]string{
			"Version":   buildinfo.Version,
			"GitSHA":    buildinfo.GitSHA,
			"GoVersion": buildinfo.GoVersion,
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s\n", data)
	},
}
