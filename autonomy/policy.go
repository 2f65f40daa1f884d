package autonomy

// ApprovalPolicy gates queued actions before execution. The loop asks
// the policy once per newly enqueued action; actions left pending wait
// for an explicit Queue.Approve call.
type ApprovalPolicy interface {
	Approve(a Action) ActionStatus
}

// AutoApprove clears every action immediately. This is the default:
// maintenance work is internal and reversible.
type AutoApprove struct{}

// Approve implements ApprovalPolicy.
func (AutoApprove) Approve(Action) ActionStatus {
	return ActionApproved
}

// ManualApproval leaves every action pending for an operator decision.
type ManualApproval struct{}

// Approve implements ApprovalPolicy.
func (ManualApproval) Approve(Action) ActionStatus {
	return ActionPending
}

// PolicyFunc adapts a function to ApprovalPolicy.
type PolicyFunc func(a Action) ActionStatus

// Approve implements ApprovalPolicy.
func (f PolicyFunc) Approve(a Action) ActionStatus {
	return f(a)
}
