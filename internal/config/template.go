package config

// SampleConfig returns a commented configuration template for
// `care-migrate config init`. Every key shows its default or a realistic
// value; credential fields point at their environment variables instead of
// inviting secrets into the file.
func SampleConfig() string {
	return `# care-migrate configuration file
# Place this file as .care-migrate.yaml in the working directory or pass
# it with --config.

# Source database: the legacy care system rows are migrated from.
databases:
  source:
    host: localhost          # Legacy database hostname or IP
    port: 3306               # Legacy database port
    username: care_migrate   # Read access is enough for migration runs
    password: ""             # Leave empty and set CARE_MIGRATE_SOURCE_PASSWORD
    database: legacy_care    # Legacy database name
    timeout: 30s             # Connection timeout

  # Target databases: one per service of the care records platform.
  targets:
    resident-service:
      host: localhost
      port: 3307
      username: care_migrate
      password: ""           # Or set CARE_MIGRATE_TARGET_PASSWORD
      database: residents
      timeout: 30s
    medication-service:
      host: localhost
      port: 3308
      username: care_migrate
      password: ""
      database: medications
      timeout: 30s

# Migration run settings.
migration:
  pipeline_id: care-records  # Names the pipeline in backups and audit records
  plan_file: ""              # YAML plan file; empty uses the built-in plans
  batch_size: 500            # Rows read and written per batch
  lenient: false             # Record validation failures instead of stopping the table
  backup_before_run: true    # Full backup of the source store before migrating
  timeout: 30m               # Overall run timeout

# Backup subsystem.
backup:
  schema: legacy_care        # Schema backups are dumped from
  # tables: [residents, medications]   # Empty means every table in the schema

  storage:
    provider: local          # local, s3, gcs or azure
    local:
      base_path: ./backups

    # s3:
    #   region: eu-west-2
    #   bucket: care-backups
    #   access_key: ""       # Or set CARE_MIGRATE_S3_ACCESS_KEY
    #   secret_key: ""       # Or set CARE_MIGRATE_S3_SECRET_KEY

    # gcs:
    #   bucket: care-backups
    #   credentials_path: "" # Falls back to GOOGLE_APPLICATION_CREDENTIALS

    # azure:
    #   account_name: ""
    #   account_key: ""      # Or set CARE_MIGRATE_AZURE_ACCOUNT_KEY
    #   container_name: care-backups

  compression:
    enabled: true
    algorithm: zstd          # gzip, lz4 or zstd
    level: 3

  encryption:
    enabled: true
    key_source: env          # env, file or passphrase
    key_env_var: CARE_MIGRATE_ENCRYPTION_KEY

  verification:
    enabled: true            # Checksum verification after upload

  retention:
    full_days: 30
    incremental_days: 7
    differential_days: 14
    keep_daily: 7
    keep_weekly: 4
    keep_monthly: 12
    sweep_interval: 24h

  notifications:
    enabled: false
    min_severity: warning
    # file:
    #   enabled: true
    #   path: ./care-migrate-events.log
    #   format: json
    # webhook:
    #   enabled: true
    #   url: https://ops.example.org/hooks/care-migrate

# Scheduled backup daemon (care-migrate serve).
serve:
  listen_addr: ":9464"       # Prometheus metrics and health endpoint
  sweep_cron: "0 3 * * *"    # Retention sweep, daily at 03:00
  schedules:
    - pipeline_id: care-records
      backup_type: full
      cron: "0 1 * * *"      # Daily at 01:00
    - pipeline_id: care-records
      backup_type: incremental
      cron: "0 */6 * * *"    # Every six hours

# Structured logging.
logging:
  level: normal              # quiet, normal, verbose or debug
  format: text               # text or json
  # file: /var/log/care-migrate.log

# Terminal output.
display:
  color_enabled: true
  theme: dark                # dark, light or plain
  output_format: table       # table, json or yaml
  use_icons: true
  show_progress: true
  interactive: true
  max_width: 120
`
}
