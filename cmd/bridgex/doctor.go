package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"bridgex/internal/config"
	"bridgex/internal/domain"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your BridgeX installation",
		Long: `Verifies that the configuration, route table, identity journal and
network prerequisites are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("BridgeX Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'bridgex init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\nResults: %d passed, %d failed\n", passed, failed)
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Route table and filters compile
			table, err := config.BuildTable(cfg)
			if err != nil {
				printFail("Route table", err.Error())
				failed++
			} else {
				printPass("Route table", fmt.Sprintf("%d bridge(s)", len(table.Routes)))
				passed++
			}

			// 4. Every bridged platform is enabled
			if table != nil {
				for _, p := range []domain.Platform{domain.PlatformTelegram, domain.PlatformDiscord, domain.PlatformIRC} {
					groups := table.GroupsFor(p)
					if len(groups) == 0 {
						continue
					}
					enabled := map[domain.Platform]bool{
						domain.PlatformTelegram: cfg.Telegram.Enabled,
						domain.PlatformDiscord:  cfg.Discord.Enabled,
						domain.PlatformIRC:      cfg.IRC.Enabled,
					}[p]
					if enabled {
						printPass("Platform: "+string(p), fmt.Sprintf("%d group(s) bridged", len(groups)))
						passed++
					} else {
						printWarn("Platform: "+string(p), "referenced by a bridge but not enabled")
						warned++
					}
				}
			}

			// 5. Identity journal writable
			if cfg.Identity.JournalPath != "" {
				if err := checkJournal(cfg.Identity.JournalPath); err != nil {
					printFail("Identity journal", err.Error())
					failed++
				} else {
					printPass("Identity journal", cfg.Identity.JournalPath)
					passed++
				}
			} else {
				printWarn("Identity journal", "not configured; edits and deletes stop resolving after a restart")
				warned++
			}

			// 6. IRC server reachable
			if cfg.IRC.Enabled {
				addr := net.JoinHostPort(cfg.IRC.Host, strconv.Itoa(cfg.IRC.Port))
				conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
				if err != nil {
					printWarn("IRC server", fmt.Sprintf("%s unreachable: %v", addr, err))
					warned++
				} else {
					conn.Close()
					printPass("IRC server", addr)
					passed++
				}
			}

			// 7. Console port free
			if cfg.Web.Enabled {
				if err := checkPort(cfg.Web.Port); err != nil {
					printWarn("Console port", fmt.Sprintf("port %d may be in use: %v", cfg.Web.Port, err))
					warned++
				} else {
					printPass("Console port", fmt.Sprintf(":%d available", cfg.Web.Port))
					passed++
				}
			}

			// 8. Pastebin dir writable (self mode)
			if cfg.Pastebin.Mode == "self" {
				if err := os.MkdirAll(cfg.Pastebin.Dir, 0o755); err != nil {
					printFail("Pastebin dir", err.Error())
					failed++
				} else {
					printPass("Pastebin dir", cfg.Pastebin.Dir)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the bridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe bridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The bridge is ready to run.\n")
			}
			return nil
		},
	}
}

func checkJournal(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
