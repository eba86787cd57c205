package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"care-migrate/internal/backup"
	"care-migrate/internal/config"
	"care-migrate/internal/migration"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "no tags", input: nil, want: nil},
		{name: "single tag", input: []string{"env=prod"}, want: map[string]string{"env": "prod"}},
		{name: "multiple tags", input: []string{"env=prod", "ticket=CR-114"}, want: map[string]string{"env": "prod", "ticket": "CR-114"}},
		{name: "value containing equals", input: []string{"note=a=b"}, want: map[string]string{"note": "a=b"}},
		{name: "empty value", input: []string{"env="}, want: map[string]string{"env": ""}},
		{name: "missing separator", input: []string{"prod"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTags(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTags(%v): %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseTags(%v) = %v, want %v", tt.input, got, tt.want)
			}
			for key, want := range tt.want {
				if got[key] != want {
					t.Errorf("tag %s = %q, want %q", key, got[key], want)
				}
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2025-08-12T09:30:00Z")
	if err != nil {
		t.Fatalf("RFC3339: %v", err)
	}
	if !got.Equal(time.Date(2025, 8, 12, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("RFC3339 = %v", got)
	}

	got, err = parseDate("2025-08-12")
	if err != nil {
		t.Fatalf("plain date: %v", err)
	}
	if got.Year() != 2025 || got.Month() != time.August || got.Day() != 12 {
		t.Errorf("plain date = %v", got)
	}

	relative := []struct {
		input string
		want  time.Time
	}{
		{"7d", time.Now().AddDate(0, 0, -7)},
		{"2w", time.Now().AddDate(0, 0, -14)},
		{"1m", time.Now().AddDate(0, -1, 0)},
	}
	for _, tt := range relative {
		got, err := parseDate(tt.input)
		if err != nil {
			t.Fatalf("parseDate(%q): %v", tt.input, err)
		}
		if diff := got.Sub(tt.want); diff < -time.Minute || diff > time.Minute {
			t.Errorf("parseDate(%q) = %v, want about %v", tt.input, got, tt.want)
		}
	}

	for _, input := range []string{"yesterday", "12-08-2025", "xd", ""} {
		if _, err := parseDate(input); err == nil {
			t.Errorf("parseDate(%q) should fail", input)
		}
	}
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		input   string
		want    rune
		wantErr bool
	}{
		{input: "", want: 0},
		{input: ";", want: ';'},
		{input: "|", want: '|'},
		{input: "tab", want: '\t'},
		{input: `\t`, want: '\t'},
		{input: ";;", wantErr: true},
		{input: "comma", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseDelimiter(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDelimiter(%q) should fail", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDelimiter(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDelimiter(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func importPlansFixture() []migration.MigrationPlan {
	return []migration.MigrationPlan{
		{
			Phase:       1,
			ServiceName: "resident-service",
			Tables: []migration.MigrationTableConfig{
				{SourceTable: "residents", TargetTable: "residents"},
				{SourceTable: "audit_log", TargetTable: "audit_log"},
			},
		},
		{
			Phase:       2,
			ServiceName: "medication-service",
			Tables: []migration.MigrationTableConfig{
				{SourceTable: "medication_rounds", TargetTable: "rounds"},
				{SourceTable: "audit_log", TargetTable: "audit_log"},
			},
		},
	}
}

func TestLocateTableConfig(t *testing.T) {
	plans := importPlansFixture()

	service, table, err := locateTableConfig(plans, "", "medication_rounds")
	if err != nil {
		t.Fatalf("unique table: %v", err)
	}
	if service != "medication-service" || table.TargetTable != "rounds" {
		t.Errorf("unique table = %s/%s", service, table.TargetTable)
	}

	_, _, err = locateTableConfig(plans, "", "audit_log")
	if err == nil || !strings.Contains(err.Error(), "--service") {
		t.Errorf("ambiguous table should ask for --service, got %v", err)
	}

	service, _, err = locateTableConfig(plans, "resident-service", "audit_log")
	if err != nil {
		t.Fatalf("scoped lookup: %v", err)
	}
	if service != "resident-service" {
		t.Errorf("scoped lookup = %s", service)
	}

	if _, _, err := locateTableConfig(plans, "", "invoices"); err == nil {
		t.Error("unknown table should fail")
	}
	if _, _, err := locateTableConfig(plans, "resident-service", "medication_rounds"); err == nil {
		t.Error("table outside the named service should fail")
	}
	if _, _, err := locateTableConfig(plans, "", ""); err == nil {
		t.Error("empty table should fail")
	}
}

// globalFlagSet registers the persistent display flags on a scratch command
// so tests can mark them changed without touching rootCmd.
func globalFlagSet(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "scratch"}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "")
	cmd.Flags().StringVar(&logFile, "log-file", "", "")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "")
	cmd.Flags().StringVar(&theme, "theme", "dark", "")
	cmd.Flags().StringVar(&outputFormat, "format", "table", "")
	cmd.Flags().BoolVar(&noIcons, "no-icons", false, "")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "")
	cmd.Flags().BoolVar(&noInteractive, "no-interactive", false, "")
	cmd.Flags().IntVar(&maxWidth, "max-width", 120, "")
	t.Cleanup(func() {
		verbose, quiet, logFile = false, false, ""
		noColor, noIcons, noProgress, noInteractive = false, false, false, false
		theme, outputFormat, maxWidth = "dark", "table", 120
	})
	return cmd
}

func TestApplyGlobalFlags(t *testing.T) {
	t.Run("unset flags keep file values", func(t *testing.T) {
		cmd := globalFlagSet(t)
		cfg := config.Default()
		cfg.Display.Theme = "light"
		cfg.Display.ColorEnabled = false
		cfg.Logging.File = "/var/log/care-migrate.log"

		applyGlobalFlags(cmd, cfg)

		if cfg.Display.Theme != "light" {
			t.Errorf("theme = %q, want the file value", cfg.Display.Theme)
		}
		if cfg.Display.ColorEnabled {
			t.Error("color setting from the file should survive")
		}
		if cfg.Logging.File != "/var/log/care-migrate.log" {
			t.Errorf("log file = %q, want the file value", cfg.Logging.File)
		}
	})

	t.Run("set flags override the file", func(t *testing.T) {
		cmd := globalFlagSet(t)
		for flag, value := range map[string]string{
			"no-color":    "true",
			"theme":       "plain",
			"format":      "json",
			"no-progress": "true",
			"max-width":   "80",
			"log-file":    "run.log",
		} {
			if err := cmd.Flags().Set(flag, value); err != nil {
				t.Fatalf("set %s: %v", flag, err)
			}
		}
		cfg := config.Default()

		applyGlobalFlags(cmd, cfg)

		if cfg.Display.ColorEnabled {
			t.Error("no-color should disable color")
		}
		if cfg.Display.Theme != "plain" {
			t.Errorf("theme = %q, want plain", cfg.Display.Theme)
		}
		if cfg.Display.OutputFormat != "json" {
			t.Errorf("format = %q, want json", cfg.Display.OutputFormat)
		}
		if cfg.Display.ShowProgress {
			t.Error("no-progress should disable progress output")
		}
		if cfg.Display.MaxWidth != 80 {
			t.Errorf("max width = %d, want 80", cfg.Display.MaxWidth)
		}
		if cfg.Logging.File != "run.log" {
			t.Errorf("log file = %q, want run.log", cfg.Logging.File)
		}
	})

	t.Run("quiet wins over verbose", func(t *testing.T) {
		cmd := globalFlagSet(t)
		if err := cmd.Flags().Set("quiet", "true"); err != nil {
			t.Fatal(err)
		}
		cfg := config.Default()
		cfg.Display.Verbose = true

		applyGlobalFlags(cmd, cfg)

		if !cfg.Display.Quiet || cfg.Display.Verbose {
			t.Errorf("quiet=%v verbose=%v, want quiet only", cfg.Display.Quiet, cfg.Display.Verbose)
		}
	})
}

// migrateRunFlagSet mirrors the migrate run flag registrations on a
// scratch command.
func migrateRunFlagSet(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "scratch"}
	cmd.Flags().StringVar(&migratePlanFile, "plan-file", "", "")
	cmd.Flags().StringVar(&migratePipelineID, "pipeline", "", "")
	cmd.Flags().Int64Var(&migrateBatchSize, "batch-size", 0, "")
	cmd.Flags().BoolVar(&migrateLenient, "lenient", false, "")
	cmd.Flags().StringVar(&migrateSourceSchema, "source-schema", "", "")
	cmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "")
	cmd.Flags().BoolVar(&migrateAutoApprove, "auto-approve", false, "")
	cmd.Flags().BoolVar(&migrateNoBackup, "no-backup", false, "")
	cmd.Flags().DurationVar(&migrateTimeout, "timeout", 0, "")
	t.Cleanup(func() {
		migratePlanFile, migratePipelineID, migrateSourceSchema = "", "", ""
		migrateBatchSize, migrateTimeout = 0, 0
		migrateLenient, migrateDryRun, migrateAutoApprove, migrateNoBackup = false, false, false, false
	})
	return cmd
}

func TestBuildMigrationConfig(t *testing.T) {
	t.Run("file values flow through", func(t *testing.T) {
		cmd := migrateRunFlagSet(t)
		cfg := config.Default()
		cfg.Migration.PipelineID = "night-shift"
		cfg.Migration.BatchSize = 250
		cfg.Migration.BackupBeforeRun = true
		cfg.Backup.Schema = "legacy_care"

		appConfig := buildMigrationConfig(cmd, cfg)

		if appConfig.PipelineID != "night-shift" {
			t.Errorf("pipeline = %q", appConfig.PipelineID)
		}
		if appConfig.BatchSize != 250 {
			t.Errorf("batch size = %d", appConfig.BatchSize)
		}
		if !appConfig.BackupBeforeRun {
			t.Error("backup_before_run from the file should survive")
		}
		if appConfig.Backup == nil {
			t.Fatal("configured backup section should be passed through")
		}
		if appConfig.Backup.Schema != "legacy_care" {
			t.Errorf("backup schema = %q", appConfig.Backup.Schema)
		}
	})

	t.Run("flags override the file", func(t *testing.T) {
		cmd := migrateRunFlagSet(t)
		for flag, value := range map[string]string{
			"pipeline":   "rehearsal",
			"batch-size": "100",
			"timeout":    "5m",
		} {
			if err := cmd.Flags().Set(flag, value); err != nil {
				t.Fatalf("set %s: %v", flag, err)
			}
		}
		cfg := config.Default()
		cfg.Migration.BatchSize = 250

		appConfig := buildMigrationConfig(cmd, cfg)

		if appConfig.PipelineID != "rehearsal" {
			t.Errorf("pipeline = %q, want rehearsal", appConfig.PipelineID)
		}
		if appConfig.BatchSize != 100 {
			t.Errorf("batch size = %d, want 100", appConfig.BatchSize)
		}
		if appConfig.Timeout != 5*time.Minute {
			t.Errorf("timeout = %s, want 5m", appConfig.Timeout)
		}
	})

	t.Run("no-backup disables the pre-migration backup", func(t *testing.T) {
		cmd := migrateRunFlagSet(t)
		if err := cmd.Flags().Set("no-backup", "true"); err != nil {
			t.Fatal(err)
		}
		cfg := config.Default()
		cfg.Migration.BackupBeforeRun = true

		appConfig := buildMigrationConfig(cmd, cfg)

		if appConfig.BackupBeforeRun {
			t.Error("no-backup should disable the pre-migration backup")
		}
	})

	t.Run("unconfigured backup section stays nil", func(t *testing.T) {
		cmd := migrateRunFlagSet(t)

		appConfig := buildMigrationConfig(cmd, config.Default())

		if appConfig.Backup != nil {
			t.Error("backup should be nil without a backup section")
		}
	})
}

func backupListFlagSet(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "scratch"}
	cmd.Flags().StringVar(&backupPipelineID, "pipeline", "", "")
	t.Cleanup(func() {
		backupPipelineID = ""
		backupListType, backupListStatus = "", ""
		backupListAfter, backupListBefore = "", ""
		backupListTags = nil
		backupListLimit = 0
	})
	return cmd
}

func TestBuildListFilter(t *testing.T) {
	cfg := config.Default()

	t.Run("defaults to the configured pipeline", func(t *testing.T) {
		cmd := backupListFlagSet(t)

		filter, err := buildListFilter(cmd, cfg)
		if err != nil {
			t.Fatalf("buildListFilter: %v", err)
		}
		if filter.PipelineID != cfg.Migration.PipelineID {
			t.Errorf("pipeline = %q, want %q", filter.PipelineID, cfg.Migration.PipelineID)
		}
		if filter.BackupType != "" || filter.Status != "" || filter.CreatedAfter != nil {
			t.Errorf("empty flags should leave the filter open, got %+v", filter)
		}
	})

	t.Run("pipeline flag overrides", func(t *testing.T) {
		cmd := backupListFlagSet(t)
		if err := cmd.Flags().Set("pipeline", "rehearsal"); err != nil {
			t.Fatal(err)
		}

		filter, err := buildListFilter(cmd, cfg)
		if err != nil {
			t.Fatalf("buildListFilter: %v", err)
		}
		if filter.PipelineID != "rehearsal" {
			t.Errorf("pipeline = %q, want rehearsal", filter.PipelineID)
		}
	})

	t.Run("filters parse", func(t *testing.T) {
		cmd := backupListFlagSet(t)
		backupListType = "incremental"
		backupListStatus = "completed"
		backupListAfter = "2025-01-01"
		backupListTags = []string{"env=prod"}
		backupListLimit = 5

		filter, err := buildListFilter(cmd, cfg)
		if err != nil {
			t.Fatalf("buildListFilter: %v", err)
		}
		if filter.BackupType != backup.BackupTypeIncremental {
			t.Errorf("type = %q", filter.BackupType)
		}
		if filter.Status != backup.BackupStatusCompleted {
			t.Errorf("status = %q", filter.Status)
		}
		if filter.CreatedAfter == nil || filter.CreatedAfter.Year() != 2025 {
			t.Errorf("created after = %v", filter.CreatedAfter)
		}
		if filter.Tags["env"] != "prod" {
			t.Errorf("tags = %v", filter.Tags)
		}
		if filter.Limit != 5 {
			t.Errorf("limit = %d", filter.Limit)
		}
	})

	t.Run("rejects unknown backup type", func(t *testing.T) {
		cmd := backupListFlagSet(t)
		backupListType = "hourly"

		if _, err := buildListFilter(cmd, cfg); err == nil {
			t.Error("unknown backup type should fail")
		}
	})
}
