// Package activity provides a task-execution engine that runs units of work
// under different scheduling regimes through one lifecycle and one manager.
//
// # Core Concepts
//
// An Activity is a single schedulable unit of work. It is plain data: an id,
// the Context it runs in and a set of optional hooks supplied as options.
//
//	a := activity.New("load-level", activity.Update,
//		activity.WithStart(func() { ... }),
//		activity.WithExecute(func() bool { return !done }),
//		activity.OnCompleted(func(a *activity.Activity) { ... }),
//	)
//
// The Manager owns one context list per Context and executes them:
//   - Update, LateUpdate and FixedUpdate lists step every entry once per call
//   - The Async list steps entries round-robin until a time budget is spent
//     and resumes at the next entry on the following pass
//   - Thread activities run on a pool of worker goroutines that start when
//     work arrives and exit when idle
//
// # Lifecycle
//
// An activity moves through the following states:
//
//	Idle -> Queued -> Running -> Complete
//	Queued|Running -> Stopped
//
// Starting a Complete or Stopped activity resets it to Idle and queues it
// again. State changes are atomic, so a Stop from any goroutine is never
// overwritten by a worker finishing the same step.
//
// While Running, each step consults the job handle, the execute hook and the
// step callback in that order. The activity keeps running while every present
// hook reports "continue" and completes as soon as one reports finished.
//
// # Completion
//
// Every run has a Future that resolves on Complete and is cancelled on Stop:
//
//	a.Start()
//	if err := a.Future().Wait(ctx); errors.Is(err, activity.ErrCancelled) {
//		...
//	}
//
// # Participants
//
// Objects that are not activities can be ticked by implementing one or more
// of Updater, LateUpdater, FixedUpdater, AsyncUpdater and ThreadUpdater and
// registering with Manager.AddInterface. Capabilities are resolved once at
// registration.
//
// # Faults
//
// A hook that panics does not abort the pass. The panic is recovered into a
// *StepFault, the remaining entries still run and the phase call returns all
// faults joined. The faulting activity keeps the state it had reached.
package activity
