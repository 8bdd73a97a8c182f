package orchestrator

import "pns/internal/registry"

// Step is one stage of a workflow.
type Step string

const (
	StepValidate        Step = "validate"
	StepPrice           Step = "price"
	StepRegister        Step = "register"
	StepConfirmRegister Step = "confirm-register"
	StepSetRecord       Step = "set-record"
	StepConfirmRecord   Step = "confirm-record"
)

// StepResult records how a step ended. Err is nil on success.
type StepResult struct {
	Step   Step
	TxHash string
	Err    error
}

// Outcome is the terminal state of a workflow invocation.
type Outcome int

const (
	OutcomeNoop Outcome = iota
	OutcomeSucceeded
	OutcomeInvalid
	OutcomeBusy
	// OutcomeAborted: a submission failed (rejected, no provider); nothing
	// happened on chain in this step.
	OutcomeAborted
	OutcomeRegistrationFailed
	// OutcomeRecordFailed: the name is owned but the record was not set.
	OutcomeRecordFailed
	// OutcomeBlocked is set by callers whose guard refused the workflow.
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeBusy:
		return "busy"
	case OutcomeAborted:
		return "aborted"
	case OutcomeRegistrationFailed:
		return "registration_failed"
	case OutcomeRecordFailed:
		return "record_failed"
	case OutcomeBlocked:
		return "blocked"
	}
	return "noop"
}

// Result is the full trace of one mint or update invocation.
type Result struct {
	ID       string
	Workflow string
	Domain   string
	Record   string
	// Price is the decimal amount paid for registration; empty for updates.
	Price   string
	Steps   []StepResult
	Outcome Outcome
	Err     error
}

// Registered reports whether the name was acquired during this invocation.
func (r Result) Registered() bool {
	for _, s := range r.Steps {
		if s.Step == StepConfirmRegister && s.Err == nil {
			return true
		}
	}
	return false
}

func (r Result) TxHashes() []string {
	var out []string
	for _, s := range r.Steps {
		if s.TxHash != "" && (s.Step == StepRegister || s.Step == StepSetRecord) {
			out = append(out, s.TxHash)
		}
	}
	return out
}

// PendingTransaction exists while a workflow waits on a confirmation.
type PendingTransaction struct {
	Kind   registry.TxKind
	Domain string
	Tx     registry.TxHandle
}

// Form holds the user's transient inputs between attempts.
type Form struct {
	Domain  string
	Record  string
	Editing bool
}
