package model

import "github.com/rotisserie/eris"

// Sentinel errors shared across the pipeline. Callers classify failures with
// errors.Is; eris carries the wrap chain for logging.
var (
	// ErrReportNotFound means the registry has no report for the requested
	// company and period. The job stays at fetching for a later retry.
	ErrReportNotFound = eris.New("report not found")

	// ErrRateLimited marks a provider 429. Always wrapped as transient so
	// retry policies back off instead of failing the stage.
	ErrRateLimited = eris.New("rate limited by provider")

	// ErrOracleUnavailable means the scoring model could not be reached
	// after retries, or its circuit is open.
	ErrOracleUnavailable = eris.New("scoring oracle unavailable")

	// ErrMalformedOutput means the oracle replied but the payload failed
	// strict validation even after repair.
	ErrMalformedOutput = eris.New("malformed oracle output")

	// ErrCheckpointConflict means a stage transition lost a compare-and-set
	// race: another worker already advanced the job.
	ErrCheckpointConflict = eris.New("checkpoint stage conflict")

	// ErrJobInFlight means this process is already advancing the job.
	ErrJobInFlight = eris.New("job already in flight")

	// ErrValidationRepairFailed means a dead evidence link could not be
	// replaced. The item is dropped; the error is recorded, not fatal.
	ErrValidationRepairFailed = eris.New("evidence repair failed")
)
