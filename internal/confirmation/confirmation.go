package confirmation

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"care-migrate/internal/backup"
	"care-migrate/internal/display"
	"care-migrate/internal/migration"
)

// Service prompts for explicit approval before operations that write
// into target stores or permanently delete backups.
type Service interface {
	ConfirmMigrationRun(plans []migration.MigrationPlan, autoApprove bool) (bool, error)
	ConfirmRestore(meta *backup.BackupMetadata, autoApprove bool) (bool, error)
	ConfirmBackupDeletion(meta *backup.BackupMetadata, autoApprove bool) (bool, error)
	HandleInterruption() error
}

type service struct {
	display *display.Service
	reader  *bufio.Reader
}

// NewService creates a confirmation service reading responses from
// stdin.
func NewService(displayService *display.Service) Service {
	return &service{
		display: displayService,
		reader:  bufio.NewReader(os.Stdin),
	}
}

// ConfirmMigrationRun shows the plan set and asks before the run writes
// into the target stores.
func (s *service) ConfirmMigrationRun(plans []migration.MigrationPlan, autoApprove bool) (bool, error) {
	if len(plans) == 0 {
		s.display.Info("No migration plans to run.")
		return false, nil
	}

	s.displayRunSummary(plans)

	if autoApprove {
		s.display.Success("Auto-approving migration run.")
		return true, nil
	}

	return s.confirm("Run this migration? [y/N/d]: ", func() {
		s.displayTableDetails(plans)
	})
}

// ConfirmRestore shows the backup about to be replayed and asks before
// existing target data is replaced.
func (s *service) ConfirmRestore(meta *backup.BackupMetadata, autoApprove bool) (bool, error) {
	s.display.RenderBackupDetail(meta)
	s.display.Warning(fmt.Sprintf("Restoring will replace the current contents of pipeline %q.", meta.PipelineID))

	if autoApprove {
		s.display.Success("Auto-approving restore.")
		return true, nil
	}

	return s.confirm("Restore this backup? [y/N]: ", nil)
}

// ConfirmBackupDeletion asks before a backup and its artifact are
// permanently removed.
func (s *service) ConfirmBackupDeletion(meta *backup.BackupMetadata, autoApprove bool) (bool, error) {
	s.display.RenderBackupDetail(meta)
	s.display.Warning(fmt.Sprintf("Backup %s and its artifact will be permanently deleted.", meta.BackupID))

	if autoApprove {
		s.display.Success("Auto-approving deletion.")
		return true, nil
	}

	return s.confirm("Delete this backup? [y/N]: ", nil)
}

// HandleInterruption runs when the user interrupts a pending prompt.
func (s *service) HandleInterruption() error {
	s.display.Info("Cleaning up.")
	return nil
}

// confirm runs the prompt loop until the user answers or interrupts.
// The details callback, when set, handles the 'd' response and loops
// back to the prompt.
func (s *service) confirm(question string, details func()) (bool, error) {
	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	for {
		inputChan := make(chan string, 1)
		errorChan := make(chan error, 1)

		go func() {
			input, err := s.prompt(question)
			if err != nil {
				errorChan <- err
				return
			}
			inputChan <- input
		}()

		select {
		case <-interruptChan:
			s.display.Warning("Operation cancelled by user.")
			return false, s.HandleInterruption()
		case err := <-errorChan:
			return false, fmt.Errorf("failed to read user input: %w", err)
		case input := <-inputChan:
			switch parseResponse(input) {
			case responseYes:
				return true, nil
			case responseNo:
				return false, nil
			case responseDetails:
				if details != nil {
					details()
					continue
				}
				s.display.Info("No further details available.")
			default:
				s.display.Printf("Invalid input %q. Enter 'y' for yes, 'n' for no, or 'd' for details.\n", strings.TrimSpace(input))
			}
		}
	}
}

func (s *service) prompt(question string) (string, error) {
	s.display.Printf("%s", question)

	input, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return input, nil
}

// response classifies one line of prompt input.
type response int

const (
	responseInvalid response = iota
	responseYes
	responseNo
	responseDetails
)

func parseResponse(input string) response {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return responseYes
	case "n", "no", "":
		return responseNo
	case "d", "details":
		return responseDetails
	default:
		return responseInvalid
	}
}

// displayRunSummary shows the plan table and what the run will touch.
func (s *service) displayRunSummary(plans []migration.MigrationPlan) {
	s.display.Header("Migration plan")
	s.display.RenderMigrationPlans(plans)

	piiTables := countPIITables(plans)
	s.display.Printf("\nServices: %d   Tables: %d   Phases: %d\n",
		len(plans), countTables(plans), countPhases(plans))
	if piiTables > 0 {
		s.display.Warning(fmt.Sprintf("%d table(s) contain PII and will be field-encrypted during migration.", piiTables))
	}
	s.display.Printf("Estimated duration: %s\n\n", estimateRunTime(plans))
}

// displayTableDetails shows per-table transformation and validation
// rule counts for the 'd' response.
func (s *service) displayTableDetails(plans []migration.MigrationPlan) {
	s.display.Header("Table details")
	for _, plan := range plans {
		for _, table := range plan.Tables {
			s.display.Printf("  %s: %s -> %s (%d transforms, %d validations",
				plan.ServiceName, table.SourceTable, table.TargetTable,
				len(table.TransformationRules), len(table.ValidationRules))
			if table.ContainsPII {
				s.display.Printf(", PII columns: %s", strings.Join(table.PIIColumns, ", "))
			}
			s.display.Printf(")\n")
		}
	}
	s.display.Printf("\n")
}

func countTables(plans []migration.MigrationPlan) int {
	total := 0
	for _, plan := range plans {
		total += len(plan.Tables)
	}
	return total
}

func countPhases(plans []migration.MigrationPlan) int {
	phases := make(map[int]struct{})
	for _, plan := range plans {
		phases[plan.Phase] = struct{}{}
	}
	return len(phases)
}

func countPIITables(plans []migration.MigrationPlan) int {
	count := 0
	for _, plan := range plans {
		for _, table := range plan.Tables {
			if table.ContainsPII {
				count++
			}
		}
	}
	return count
}

// estimateRunTime gives a rough duration estimate from the table count.
func estimateRunTime(plans []migration.MigrationPlan) string {
	tables := countTables(plans)

	switch {
	case tables == 0:
		return "< 1 second"
	case tables < 5:
		return "a few minutes"
	case tables < 20:
		return "under an hour"
	default:
		return "several hours"
	}
}
