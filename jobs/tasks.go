package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRefillInvoices posts invoices for refill contracts that are due.
	TaskTypeRefillInvoices = "sales:refill_invoices"
	// TaskTypeGLIntegrity runs the nightly ledger and inventory
	// reconciliation scan.
	TaskTypeGLIntegrity = "finance:gl_integrity"
)

// RefillInvoicesPayload bounds the refill scan to contracts due at or
// before AsOf.
type RefillInvoicesPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewRefillInvoicesTask constructs an Asynq task.
func NewRefillInvoicesTask(payload RefillInvoicesPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRefillInvoices, data), nil
}

// GLIntegrityPayload carries no parameters today; the struct keeps the
// wire format extensible.
type GLIntegrityPayload struct{}

// NewGLIntegrityTask constructs an Asynq task.
func NewGLIntegrityTask() (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGLIntegrity, data), nil
}
