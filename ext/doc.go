// Package ext defines the hook system for strata.
//
// Extensions are notified of job, lifecycle and dissolution events and can
// react to them: recording metrics, writing audit logs, pushing
// notifications. Each hook is a separate interface so extensions opt in
// only to the events they care about.
//
// # Implementing an Extension
//
//	type Audit struct{}
//
//	func (a *Audit) Name() string { return "audit" }
//
//	func (a *Audit) OnTransitionCompleted(ctx context.Context, r lifecycle.Result) error {
//	    return auditLog.Write(ctx, r)
//	}
//
// A [Registry] is owned by one engine instance. Extensions subscribe with
// [Registry.Register] and unsubscribe with [Registry.Unregister]. Hook
// errors are logged and never propagated.
package ext
