package sweep

// OutcomeTag is the closed set of per-item results a shard can produce.
// The fold into run counters handles every tag exhaustively; an unknown tag
// is a programming error, not data.
type OutcomeTag string

const (
	// OutcomeRemoved indicates the item's device registrations were revoked.
	OutcomeRemoved OutcomeTag = "REMOVED"

	// OutcomeNoDevices indicates the account was eligible but had no
	// device registrations to act on.
	OutcomeNoDevices OutcomeTag = "NO_DEVICES"

	// OutcomeNotFound indicates the account no longer exists in the
	// directory. Terminal for the item, counted separately from errors.
	OutcomeNotFound OutcomeTag = "NOT_FOUND"

	// OutcomeActiveSkip indicates the account is not suspended; its devices
	// were left untouched. This is a safety gate, not an optimization.
	OutcomeActiveSkip OutcomeTag = "ACTIVE_SKIP"

	// OutcomeTransientError indicates the item failed with a retryable
	// error signature even after exhausting retry attempts.
	OutcomeTransientError OutcomeTag = "TRANSIENT_ERROR"

	// OutcomeFatalError indicates the item failed with a non-retryable
	// error. Recorded and counted; never aborts the run.
	OutcomeFatalError OutcomeTag = "FATAL_ERROR"
)

// IsError reports whether the tag represents a per-item failure.
func (t OutcomeTag) IsError() bool {
	return t == OutcomeTransientError || t == OutcomeFatalError
}

// Outcome is the ephemeral per-item result of processing one work item
// within a shard. It exists only long enough to be folded into run counters
// and recorded to the result sink.
type Outcome struct {
	Item    WorkItem   `json:"item"`
	Tag     OutcomeTag `json:"tag"`
	Devices int        `json:"devices"` // registrations removed (purge) or found (audit)
	Detail  string     `json:"detail,omitempty"`
}

// RemovedOutcome builds an outcome for a purge that revoked n registrations.
func RemovedOutcome(item WorkItem, n int) Outcome {
	return Outcome{Item: item, Tag: OutcomeRemoved, Devices: n}
}

// FoundOutcome builds an outcome for an audit that inventoried n
// registrations without touching them. Audit runs reuse the removed tag;
// the run kind of the owning record disambiguates the device count.
func FoundOutcome(item WorkItem, n int) Outcome {
	return Outcome{Item: item, Tag: OutcomeRemoved, Devices: n}
}

// NoDevicesOutcome builds an outcome for an eligible account with nothing to do.
func NoDevicesOutcome(item WorkItem) Outcome {
	return Outcome{Item: item, Tag: OutcomeNoDevices}
}

// NotFoundOutcome builds an outcome for an account missing from the directory.
func NotFoundOutcome(item WorkItem) Outcome {
	return Outcome{Item: item, Tag: OutcomeNotFound}
}

// ActiveSkipOutcome builds an outcome for an account that is not suspended.
func ActiveSkipOutcome(item WorkItem) Outcome {
	return Outcome{Item: item, Tag: OutcomeActiveSkip}
}

// ErrorOutcome builds an error outcome. retryable selects the transient tag
// when the failure carried a retryable signature that exhausted its
// attempts. devices carries any registrations already acted on before the
// failure so partial progress is still counted.
func ErrorOutcome(item WorkItem, retryable bool, devices int, err error) Outcome {
	tag := OutcomeFatalError
	if retryable {
		tag = OutcomeTransientError
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return Outcome{Item: item, Tag: tag, Devices: devices, Detail: detail}
}
