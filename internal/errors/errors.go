package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType categorizes an error for retry decisions, operator hints and
// audit fields.
type ErrorType string

const (
	// ErrorTypeConnection covers failures reaching or keeping a database
	// connection.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeSQL covers statement execution failures.
	ErrorTypeSQL ErrorType = "sql"
	// ErrorTypeSchema covers missing tables and columns.
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeValidation covers rejected input and configuration.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeMigration covers run-aborting migration failures.
	ErrorTypeMigration ErrorType = "migration"
	// ErrorTypeBackup covers backup and restore pipeline failures.
	ErrorTypeBackup ErrorType = "backup"
	// ErrorTypePermission covers denied access, database or filesystem.
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout covers exceeded deadlines.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption covers operator cancellation.
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown is the fallback classification.
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError is a classified error with structured context. Recoverable
// errors may be retried by RetryHandler; everything else fails fast.
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns the operator-facing message, falling back to the
// technical one.
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable reports whether retrying can help.
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError builds a non-recoverable classified error.
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError builds a classified error that RetryHandler may retry.
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	appErr := NewAppError(errorType, message, cause)
	appErr.Recoverable = true
	return appErr
}

// mysqlClassification maps a MySQL error number onto the taxonomy.
type mysqlClassification struct {
	errType     ErrorType
	recoverable bool
	message     string
}

var mysqlClassifications = map[uint16]mysqlClassification{
	1045: {ErrorTypePermission, false, "Database access denied, check username and password"},
	1049: {ErrorTypeValidation, false, "Database does not exist"},
	1054: {ErrorTypeSchema, false, "Column does not exist"},
	1062: {ErrorTypeValidation, false, "Duplicate entry, record already exists"},
	1064: {ErrorTypeSQL, false, "SQL syntax error"},
	1146: {ErrorTypeSchema, false, "Table does not exist"},
	1205: {ErrorTypeTimeout, true, "Lock wait timeout exceeded during batch write"},
	1213: {ErrorTypeSQL, true, "Deadlock detected during batch write"},
	2003: {ErrorTypeConnection, true, "Cannot reach the MySQL server"},
	2006: {ErrorTypeConnection, true, "The MySQL server connection was lost"},
}

// ErrorClassifier turns raw driver, network, context and filesystem errors
// into AppErrors.
type ErrorClassifier struct{}

// NewErrorClassifier creates an error classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError returns the AppError for err, classifying it if it is not
// one already. Returns nil for a nil error.
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	for _, classify := range []func(error) *AppError{
		ec.classifyMySQLError,
		ec.classifyNetworkError,
		ec.classifyContextError,
		ec.classifyFileSystemError,
	} {
		if classified := classify(err); classified != nil {
			return classified
		}
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		classification, known := mysqlClassifications[mysqlErr.Number]
		if !known {
			classification = mysqlClassification{
				errType: ErrorTypeSQL,
				message: fmt.Sprintf("MySQL error: %s", mysqlErr.Message),
			}
		}
		appErr := NewAppError(classification.errType, classification.message, err)
		appErr.Recoverable = classification.recoverable
		return appErr.WithContext("mysql_error_code", mysqlErr.Number)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeValidation, "No rows found", err)
	case errors.Is(err, sql.ErrTxDone):
		return NewAppError(ErrorTypeSQL, "Transaction has already been committed or rolled back", err)
	case errors.Is(err, sql.ErrConnDone):
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "Network I/O error", err)
		}
	}
	return nil
}

func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return nil
	}

	switch {
	case errors.Is(pathErr.Err, syscall.ENOENT):
		return NewAppError(ErrorTypeValidation,
			fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
	case errors.Is(pathErr.Err, syscall.EACCES):
		return NewAppError(ErrorTypePermission,
			fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
	case errors.Is(pathErr.Err, syscall.ENOSPC):
		return NewAppError(ErrorTypeBackup, "No space left on device", err)
	}
	return nil
}

// RetryConfig bounds retry attempts and the backoff between them.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig is three attempts with exponential backoff from one
// second, capped at thirty.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler reruns operations whose failures classify as recoverable.
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a retry handler with the given bounds.
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with DefaultRetryConfig.
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry runs operation until it succeeds, fails unrecoverably, runs out of
// attempts, or the context ends.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		}

		err := operation()
		if err == nil {
			return nil
		}

		appErr := rh.classifier.ClassifyError(err)
		if !appErr.IsRecoverable() {
			return appErr
		}
		if attempt == rh.config.MaxAttempts {
			return appErr.WithContext("attempts", rh.config.MaxAttempts)
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.backoff(attempt)):
		}
	}
}

// backoff returns the delay after the given attempt, growing by the
// multiplier and capped at MaxDelay.
func (rh *RetryHandler) backoff(attempt int) time.Duration {
	delay := float64(rh.config.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= rh.config.Multiplier
	}
	if ceiling := float64(rh.config.MaxDelay); delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay)
}

// GracefulShutdownHandler runs registered cleanup functions when the
// process receives SIGINT or SIGTERM, or when Stop is called. Functions
// run in reverse registration order, so the most recently acquired
// resource is released first.
type GracefulShutdownHandler struct {
	funcs   []func() error
	signals chan os.Signal
	done    chan struct{}
}

// NewGracefulShutdownHandler creates a shutdown handler.
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		signals: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// RegisterShutdownFunc adds a cleanup function to the pass.
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.funcs = append(gsh.funcs, fn)
}

// Start begins listening for termination signals.
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-gsh.signals
		gsh.shutdown()
	}()
}

// Stop deregisters the signal handler and triggers the cleanup pass.
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signals)
	close(gsh.signals)
}

// WaitForShutdown blocks until the cleanup pass has finished.
func (gsh *GracefulShutdownHandler) WaitForShutdown() {
	<-gsh.done
}

func (gsh *GracefulShutdownHandler) shutdown() {
	defer close(gsh.done)

	for i := len(gsh.funcs) - 1; i >= 0; i-- {
		if err := gsh.funcs[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}
}

// CreateContextWithTimeout returns a background context bounded by timeout.
func CreateContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// CreateContextWithCancel returns a cancelable background context.
func CreateContextWithCancel() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

// IsRecoverableError reports whether err carries a recoverable
// classification.
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType extracts the taxonomy type, ErrorTypeUnknown for foreign
// errors.
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError renders err for operator display.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}
	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError layers a message over err, keeping its classification and the
// original error reachable through Unwrap.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	wrapped := NewErrorClassifier().ClassifyError(err)
	wrapped.Message = message
	return wrapped
}
