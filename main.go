// splitmate-migrate copies the SplitMate tables from one Supabase project to
// another and repairs team admin memberships afterwards.
//
// Configuration (env, or .env / .env.local):
//
//	SOURCE_URL=https://<old-ref>.supabase.co   // or a postgres DSN with STORE_DRIVER=postgres
//	SOURCE_KEY=<service role key>
//	TARGET_URL=https://<new-ref>.supabase.co
//	TARGET_KEY=<service role key>
//	STORE_DRIVER=rest                          // optional: rest (default) or postgres
//	BATCH_SIZE=50                              // optional
//	DRY_RUN=false                              // optional (true to read but not write)
//	LOG_LEVEL=info                             // optional
//
// The table list and identifier map are read from migrate.yaml.
package main

import (
	"fmt"
	"os"

	"github.com/mentosming/splitmate-migrate/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
